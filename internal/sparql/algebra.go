package sparql

// Form is the query form named after the prologue.
type Form int

const (
	FormSelect Form = iota
	FormConstruct
	FormAsk
	FormDescribe
)

func (f Form) String() string {
	switch f {
	case FormSelect:
		return "SELECT"
	case FormConstruct:
		return "CONSTRUCT"
	case FormAsk:
		return "ASK"
	case FormDescribe:
		return "DESCRIBE"
	default:
		return "UNKNOWN"
	}
}

// Pattern is a node of the result-shaping chain of a SELECT query. Nodes are
// never modified after Parse returns; rewriting builds a new root.
type Pattern interface {
	pattern()
}

// Slice bounds its inner pattern. A nil Length means no LIMIT was written.
type Slice struct {
	Start  int
	Length *int
	Inner  Pattern
}

type Distinct struct {
	Inner Pattern
}

type Reduced struct {
	Inner Pattern
}

// Project selects variables or expressions. Items holds "*" for SELECT *.
type Project struct {
	Items []string
	Inner Pattern
}

// Where is the group graph pattern plus the modifiers that apply before
// projection. Group is the source text of the outer braces.
type Where struct {
	Group   string
	GroupBy []string
	Having  []string
	OrderBy []string
}

func (*Slice) pattern()    {}
func (*Distinct) pattern() {}
func (*Reduced) pattern()  {}
func (*Project) pattern()  {}
func (*Where) pattern()    {}

// Decl is one BASE or PREFIX line. Prefix is empty for BASE.
type Decl struct {
	Base   bool
	Prefix string
	IRI    string
}

type DatasetClause struct {
	Named  bool
	Source string
}

type Values struct {
	Head string
	Data string
}

// Query is a parsed query. Root is nil for forms other than SELECT.
type Query struct {
	Form     Form
	Prologue []Decl
	Dataset  []DatasetClause
	Root     Pattern
	Values   *Values

	source string
}

func describe(p Pattern) string {
	switch p.(type) {
	case *Slice:
		return "slice"
	case *Distinct:
		return "distinct"
	case *Reduced:
		return "reduced"
	case *Project:
		return "project"
	case *Where:
		return "where"
	case nil:
		return "none"
	default:
		return "unknown"
	}
}
