package directive

import (
	"errors"
	"testing"
)

func TestExtractEndpointAndPageSize(t *testing.T) {
	text := "# Endpoint: https://query.wikidata.org/sparql\n" +
		"# paginate: 500\r\n" +
		"# description: museums in Japan\n" +
		"SELECT ?item WHERE { ?item ?p ?o }\n"

	set, err := Extract(text)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if set.Endpoint != "https://query.wikidata.org/sparql" {
		t.Fatalf("Endpoint = %q", set.Endpoint)
	}
	if set.PageSize != 500 || !set.Paginated() {
		t.Fatalf("PageSize = %d", set.PageSize)
	}
}

func TestExtractWithoutPaginate(t *testing.T) {
	set, err := Extract("#endpoint:http://example/sparql\nASK {}")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if set.Endpoint != "http://example/sparql" {
		t.Fatalf("Endpoint = %q", set.Endpoint)
	}
	if set.Paginated() {
		t.Fatalf("PageSize = %d, want unpaginated", set.PageSize)
	}
}

func TestExtractLastValueWins(t *testing.T) {
	set, err := Extract("# endpoint: http://a/sparql\n# endpoint: http://b/sparql\n")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if set.Endpoint != "http://b/sparql" {
		t.Fatalf("Endpoint = %q", set.Endpoint)
	}
}

func TestExtractMissingEndpoint(t *testing.T) {
	for _, text := range []string{
		"SELECT * WHERE { ?s ?p ?o }",
		"# paginate: 10\nSELECT * WHERE { ?s ?p ?o }",
		"## endpoint: http://example/sparql\n",
		"PREFIX endpoint: <http://example/>\n",
	} {
		_, err := Extract(text)
		if !errors.Is(err, ErrMissingEndpoint) {
			t.Fatalf("Extract(%q) error = %v, want ErrMissingEndpoint", text, err)
		}
	}
}

func TestExtractInvalidPageSize(t *testing.T) {
	for _, value := range []string{"0", "-5", "ten", "1.5"} {
		_, err := Extract("# endpoint: http://example/sparql\n# paginate: " + value + "\n")
		if !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("paginate %q: error = %v, want ErrInvalidPageSize", value, err)
		}
	}
}
