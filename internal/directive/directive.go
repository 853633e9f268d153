// Package directive reads the "# key: value" annotations that query files use
// to declare where and how they are fetched.
package directive

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrMissingEndpoint = errors.New("directive: endpoint is required")
	ErrInvalidPageSize = errors.New("directive: paginate must be a positive integer")
)

const (
	keyEndpoint = "endpoint"
	keyPaginate = "paginate"
)

var linePattern = regexp.MustCompile(`^#\s*([^:]+?)\s*:\s*(.+)$`)

// Set is the parsed directive block of one query. A zero PageSize means the
// query is fetched in a single request.
type Set struct {
	Endpoint string
	PageSize int
}

func (s Set) Paginated() bool {
	return s.PageSize > 0
}

// Extract scans every line of text. Unknown keys are ignored and a repeated key
// keeps its last value.
func Extract(text string) (Set, error) {
	var set Set
	var paginate string
	hasPaginate := false

	for _, line := range strings.Split(text, "\n") {
		matches := linePattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if len(matches) != 3 {
			continue
		}
		value := strings.TrimSpace(matches[2])
		switch strings.ToLower(matches[1]) {
		case keyEndpoint:
			set.Endpoint = value
		case keyPaginate:
			paginate = value
			hasPaginate = true
		}
	}

	if set.Endpoint == "" {
		return Set{}, ErrMissingEndpoint
	}
	if hasPaginate {
		size, err := strconv.Atoi(paginate)
		if err != nil || size <= 0 {
			return Set{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, paginate)
		}
		set.PageSize = size
	}
	return set, nil
}
