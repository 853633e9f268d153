package sparql

import (
	"fmt"
	"strconv"
	"strings"
)

// Rewrite returns a copy of q whose outermost node is a slice of length rows
// starting at start. A slice the author wrote is replaced, a projection or
// DISTINCT is wrapped. q is left untouched.
func Rewrite(q *Query, length, start int) (*Query, error) {
	if q.Form != FormSelect {
		return nil, fmt.Errorf("%w: %s query", ErrUnsupportedQueryShape, q.Form)
	}
	if length <= 0 || start < 0 {
		return nil, fmt.Errorf("%w: invalid slice length=%d start=%d", ErrUnsupportedQueryShape, length, start)
	}

	var root Pattern
	switch node := q.Root.(type) {
	case *Slice:
		root = &Slice{Start: start, Length: &length, Inner: node.Inner}
	case *Project, *Distinct:
		root = &Slice{Start: start, Length: &length, Inner: node}
	default:
		return nil, fmt.Errorf("%w: %s at the top level", ErrUnsupportedQueryShape, describe(q.Root))
	}

	rewritten := *q
	rewritten.Root = root
	return &rewritten, nil
}

// RewritePage parses text and renders the page starting at offset.
func RewritePage(text string, pageSize, offset int) (string, error) {
	query, err := Parse(text)
	if err != nil {
		return "", err
	}
	page, err := Rewrite(query, pageSize, offset)
	if err != nil {
		return "", err
	}
	return page.String(), nil
}

// String renders the query one clause per line. Equal trees render to equal
// bytes. Non-SELECT forms are returned as written.
func (q *Query) String() string {
	if q.Form != FormSelect {
		return strings.TrimSpace(q.source)
	}

	var slice *Slice
	modifier := ""
	node := q.Root
	if s, ok := node.(*Slice); ok {
		slice = s
		node = s.Inner
	}
	switch n := node.(type) {
	case *Distinct:
		modifier = " DISTINCT"
		node = n.Inner
	case *Reduced:
		modifier = " REDUCED"
		node = n.Inner
	}
	project, _ := node.(*Project)
	if project == nil {
		return strings.TrimSpace(q.source)
	}
	where, _ := project.Inner.(*Where)
	if where == nil {
		return strings.TrimSpace(q.source)
	}

	lines := make([]string, 0, len(q.Prologue)+8)
	for _, decl := range q.Prologue {
		if decl.Base {
			lines = append(lines, "BASE "+decl.IRI)
			continue
		}
		lines = append(lines, "PREFIX "+decl.Prefix+" "+decl.IRI)
	}
	lines = append(lines, "SELECT"+modifier+" "+strings.Join(project.Items, " "))
	for _, clause := range q.Dataset {
		if clause.Named {
			lines = append(lines, "FROM NAMED "+clause.Source)
		} else {
			lines = append(lines, "FROM "+clause.Source)
		}
	}
	lines = append(lines, "WHERE "+where.Group)
	if len(where.GroupBy) > 0 {
		lines = append(lines, "GROUP BY "+strings.Join(where.GroupBy, " "))
	}
	if len(where.Having) > 0 {
		lines = append(lines, "HAVING "+strings.Join(where.Having, " "))
	}
	if len(where.OrderBy) > 0 {
		lines = append(lines, "ORDER BY "+strings.Join(where.OrderBy, " "))
	}
	if slice != nil {
		if slice.Length != nil {
			lines = append(lines, "LIMIT "+strconv.Itoa(*slice.Length))
		}
		lines = append(lines, "OFFSET "+strconv.Itoa(slice.Start))
	}
	if q.Values != nil {
		lines = append(lines, "VALUES "+q.Values.Head+" "+q.Values.Data)
	}
	return strings.Join(lines, "\n")
}
