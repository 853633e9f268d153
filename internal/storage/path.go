package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

var contentTypes = map[string]string{
	"csv":     "text/csv",
	"tsv":     "text/tab-separated-values",
	"parquet": "application/vnd.apache.parquet",
}

// BuildArtifactKey returns the object key of one export, <layer>/<name>.<format>.
func BuildArtifactKey(layer, name, format string) (string, error) {
	if err := validatePathComponent(layer, "layer"); err != nil {
		return "", err
	}
	if err := validatePathComponent(name, "dataset name"); err != nil {
		return "", err
	}
	if _, ok := contentTypes[format]; !ok {
		return "", fmt.Errorf("unsupported artifact format %q", format)
	}
	return path.Join(layer, name+"."+format), nil
}

func ContentType(format string) string {
	if value, ok := contentTypes[format]; ok {
		return value
	}
	return "application/octet-stream"
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
