package sparql

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
)

func TestRewritePageGolden(t *testing.T) {
	cases := []struct {
		name   string
		length int
		start  int
	}{
		{name: "project_wrapped", length: 100, start: 200},
		{name: "slice_superseded", length: 2, start: 4},
		{name: "aggregate_values", length: 50, start: 0},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text := readQuery(t, tc.name)
			out, err := RewritePage(text, tc.length, tc.start)
			if err != nil {
				t.Fatalf("RewritePage() error = %v", err)
			}
			g.Assert(t, tc.name, []byte(out))
		})
	}
}

func TestRewriteIsDeterministicAndIdempotent(t *testing.T) {
	text := readQuery(t, "aggregate_values")

	first, err := RewritePage(text, 25, 75)
	if err != nil {
		t.Fatalf("RewritePage() error = %v", err)
	}
	second, err := RewritePage(text, 25, 75)
	if err != nil {
		t.Fatalf("RewritePage() error = %v", err)
	}
	if first != second {
		t.Fatalf("rewrite not deterministic:\n%s\n---\n%s", first, second)
	}

	again, err := RewritePage(first, 25, 75)
	if err != nil {
		t.Fatalf("RewritePage(rewritten) error = %v", err)
	}
	if diff := cmp.Diff(first, again); diff != "" {
		t.Fatalf("rewriting a rewritten query changed it (-first +again):\n%s", diff)
	}
}

func TestRewriteSupersedesAuthorSlice(t *testing.T) {
	out, err := RewritePage("select distinct ?x where { ?x ?p ?o } limit 3 offset 9", 10, 20)
	if err != nil {
		t.Fatalf("RewritePage() error = %v", err)
	}
	want := "SELECT DISTINCT ?x\nWHERE { ?x ?p ?o }\nLIMIT 10\nOFFSET 20"
	if out != want {
		t.Fatalf("RewritePage() = %q, want %q", out, want)
	}
}

func TestRewriteLeavesOriginalTreeUntouched(t *testing.T) {
	query, err := Parse("SELECT * WHERE { ?s ?p ?o } OFFSET 3")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	before := query.String()

	page, err := Rewrite(query, 5, 15)
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}

	if got := query.String(); got != before {
		t.Fatalf("original changed: %q, want %q", got, before)
	}
	slice, ok := page.Root.(*Slice)
	if !ok {
		t.Fatalf("Root = %T, want *Slice", page.Root)
	}
	if slice.Start != 15 || slice.Length == nil || *slice.Length != 5 {
		t.Fatalf("slice = start %d length %v", slice.Start, slice.Length)
	}
	if slice.Inner != query.Root.(*Slice).Inner {
		t.Fatal("rewritten slice does not share the original inner pattern")
	}
}

func TestParseBuildsResultShapeChain(t *testing.T) {
	query, err := Parse("SELECT * WHERE { ?s ?p ?o } OFFSET 3")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := &Slice{
		Start: 3,
		Inner: &Project{
			Items: []string{"*"},
			Inner: &Where{Group: "{ ?s ?p ?o }"},
		},
	}
	if diff := cmp.Diff(Pattern(want), query.Root); diff != "" {
		t.Fatalf("Root mismatch (-want +got):\n%s", diff)
	}
}

func TestRewriteRejectsUnsupportedShapes(t *testing.T) {
	for _, text := range []string{
		"CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }",
		"ASK { ?s ?p ?o }",
		"DESCRIBE <http://example/thing>",
		"SELECT REDUCED ?s WHERE { ?s ?p ?o }",
	} {
		_, err := RewritePage(text, 10, 0)
		if !errors.Is(err, ErrUnsupportedQueryShape) {
			t.Fatalf("RewritePage(%q) error = %v, want ErrUnsupportedQueryShape", text, err)
		}
	}
}

func TestParseRejectsMalformedQueries(t *testing.T) {
	for _, text := range []string{
		"not a query",
		"SELECT ?x WHERE { ?x ?p ?o",
		"SELECT ?x WHERE { ?x ?p ?o } LIMIT 1 LIMIT 2",
		"SELECT ?x WHERE { ?x ?p ?o } garbage",
	} {
		_, err := Parse(text)
		if !errors.Is(err, ErrQueryParse) {
			t.Fatalf("Parse(%q) error = %v, want ErrQueryParse", text, err)
		}
	}
}

func readQuery(t *testing.T, name string) string {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", "queries", name+".rq"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return string(body)
}
