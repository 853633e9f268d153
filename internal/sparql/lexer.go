package sparql

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// sparqlLexer tokenizes just enough of SPARQL 1.1 to find clause boundaries.
// Rule order matters: the first matching rule wins at each position.
var sparqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\r\n]*`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},

	{Name: "IRI", Pattern: `<[^<>"{}|^` + "`" + `\\\x00-\x20]*>`},
	{Name: "String", Pattern: `"""(?:"{0,2}(?:[^"\\]|\\.))*"""|'''(?:'{0,2}(?:[^'\\]|\\.))*'''|"(?:[^"\\\r\n]|\\.)*"|'(?:[^'\\\r\n]|\\.)*'`},
	{Name: "Var", Pattern: `[?$][\p{L}\p{N}_]+`},
	{Name: "LangTag", Pattern: `@[A-Za-z]+(?:-[A-Za-z0-9]+)*`},
	{Name: "BNode", Pattern: `_:[\p{L}\p{N}_](?:[\p{L}\p{N}_\-.]*[\p{L}\p{N}_\-])?`},
	{Name: "PName", Pattern: `(?:\p{L}[\p{L}\p{N}_\-]*(?:\.+[\p{L}\p{N}_\-]+)*)?:(?:[\p{L}\p{N}_\-:%\\]+(?:\.+[\p{L}\p{N}_\-:%\\]+)*)?`},
	{Name: "Keyword", Pattern: `(?i:BASE|PREFIX|SELECT|CONSTRUCT|DESCRIBE|ASK|DISTINCT|REDUCED|FROM|NAMED|WHERE|GROUP|BY|HAVING|ORDER|LIMIT|OFFSET|VALUES)\b`},
	{Name: "Number", Pattern: `\d+\.\d*[eE][+-]?\d+|\.?\d+[eE][+-]?\d+|\d*\.\d+|\d+`},
	{Name: "Ident", Pattern: `\p{L}[\p{L}\p{N}_]*`},

	{Name: "LBrace", Pattern: `\{`},
	{Name: "RBrace", Pattern: `\}`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "Op", Pattern: `\^\^|&&|\|\||!=|<=|>=|[.,;*/+\-=<>!^|?\[\]]`},
})
