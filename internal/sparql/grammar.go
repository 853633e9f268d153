package sparql

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var parser = participle.MustBuild[queryAST](
	participle.Lexer(sparqlLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.CaseInsensitive("Keyword"),
	participle.UseLookahead(2),
)

// queryAST is the surface syntax of a whole query. Only the clauses around the
// top-level result shape are modelled; group graph patterns are kept as
// balanced token runs.
type queryAST struct {
	Prologue []*prologueAST `@@*`
	Select   *selectAST     `( @@`
	Other    *otherFormAST  `| @@ )`
}

type prologueAST struct {
	Base      string `  "BASE" @IRI`
	Prefix    string `| "PREFIX" @PName`
	PrefixIRI string `  @IRI`
}

type otherFormAST struct {
	Form string     `@( "CONSTRUCT" | "ASK" | "DESCRIBE" )`
	Rest []*itemAST `@@*`
}

type selectAST struct {
	Modifier   string        `"SELECT" @( "DISTINCT" | "REDUCED" )?`
	Star       bool          `( @"*"`
	Projection []*termAST    `  | @@+ )`
	Dataset    []*datasetAST `@@*`
	Where      *groupAST     `"WHERE"? @@`
	GroupBy    []*termAST    `( "GROUP" "BY" @@+ )?`
	Having     []*termAST    `( "HAVING" @@+ )?`
	OrderBy    []*termAST    `( "ORDER" "BY" @@+ )?`
	Slice      []*sliceAST   `@@*`
	Values     *valuesAST    `@@?`
}

type datasetAST struct {
	Named  bool   `"FROM" @"NAMED"?`
	Source string `@( IRI | PName )`
}

type sliceAST struct {
	Limit  string `  "LIMIT" @Number`
	Offset string `| "OFFSET" @Number`
}

type valuesAST struct {
	Head *termAST  `"VALUES" @@`
	Data *groupAST `@@`
}

// termAST is one element of a projection, GROUP BY, HAVING or ORDER BY list.
type termAST struct {
	Paren *parenAST `  @@`
	Token string    `| @( Var | IRI | PName | BNode | String | Number | LangTag | Ident | Op )`
}

type parenAST struct {
	Items []*itemAST `"(" @@* ")"`
}

type itemAST struct {
	Group *groupAST `  @@`
	Paren *parenAST `| @@`
	Token string    `| @( Keyword | Var | IRI | PName | BNode | String | Number | LangTag | Ident | Op )`
}

type groupAST struct {
	Pos   lexer.Position
	Items []*itemAST `"{" @@*`
	Close *closeAST  `@@`
}

type closeAST struct {
	Pos   lexer.Position
	Brace string `@"}"`
}

// text returns the group exactly as written, braces included.
func (g *groupAST) text(source string) string {
	return source[g.Pos.Offset : g.Close.Pos.Offset+1]
}

func (t *termAST) render(source string) string {
	if t.Paren != nil {
		return t.Paren.render(source)
	}
	return t.Token
}

func (p *parenAST) render(source string) string {
	parts := make([]string, 0, len(p.Items))
	for _, item := range p.Items {
		parts = append(parts, item.render(source))
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func (i *itemAST) render(source string) string {
	switch {
	case i.Group != nil:
		return i.Group.text(source)
	case i.Paren != nil:
		return i.Paren.render(source)
	default:
		return i.Token
	}
}

func renderTerms(terms []*termAST, source string) []string {
	if len(terms) == 0 {
		return nil
	}
	rendered := make([]string, 0, len(terms))
	for _, term := range terms {
		rendered = append(rendered, term.render(source))
	}
	return rendered
}
