// Package sparql locates and rewrites the top-level result shape of SPARQL
// SELECT queries so they can be fetched page by page.
package sparql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrQueryParse            = errors.New("sparql: query parse error")
	ErrUnsupportedQueryShape = errors.New("sparql: unsupported top-level query shape")
)

// Parse reads the prologue and the clauses around the outer WHERE group. The
// contents of graph patterns are only checked for balanced brackets.
func Parse(text string) (*Query, error) {
	ast, err := parser.ParseString("", text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryParse, err)
	}

	query := &Query{source: text}
	for _, decl := range ast.Prologue {
		if decl.Base != "" {
			query.Prologue = append(query.Prologue, Decl{Base: true, IRI: decl.Base})
			continue
		}
		query.Prologue = append(query.Prologue, Decl{Prefix: decl.Prefix, IRI: decl.PrefixIRI})
	}

	if ast.Other != nil {
		query.Form = otherForm(ast.Other.Form)
		return query, nil
	}

	sel := ast.Select
	query.Form = FormSelect
	for _, clause := range sel.Dataset {
		query.Dataset = append(query.Dataset, DatasetClause{Named: clause.Named, Source: clause.Source})
	}
	if sel.Values != nil {
		query.Values = &Values{
			Head: sel.Values.Head.render(text),
			Data: sel.Values.Data.text(text),
		}
	}

	var root Pattern = &Project{
		Items: projection(sel, text),
		Inner: &Where{
			Group:   sel.Where.text(text),
			GroupBy: renderTerms(sel.GroupBy, text),
			Having:  renderTerms(sel.Having, text),
			OrderBy: renderTerms(sel.OrderBy, text),
		},
	}
	switch strings.ToUpper(sel.Modifier) {
	case "DISTINCT":
		root = &Distinct{Inner: root}
	case "REDUCED":
		root = &Reduced{Inner: root}
	}
	if len(sel.Slice) > 0 {
		slice, err := buildSlice(sel.Slice, root)
		if err != nil {
			return nil, err
		}
		root = slice
	}
	query.Root = root
	return query, nil
}

func otherForm(keyword string) Form {
	switch strings.ToUpper(keyword) {
	case "CONSTRUCT":
		return FormConstruct
	case "ASK":
		return FormAsk
	default:
		return FormDescribe
	}
}

func projection(sel *selectAST, text string) []string {
	if sel.Star {
		return []string{"*"}
	}
	return renderTerms(sel.Projection, text)
}

func buildSlice(clauses []*sliceAST, inner Pattern) (*Slice, error) {
	slice := &Slice{Inner: inner}
	seenLimit, seenOffset := false, false
	for _, clause := range clauses {
		if clause.Offset != "" {
			if seenOffset {
				return nil, fmt.Errorf("%w: OFFSET given more than once", ErrQueryParse)
			}
			seenOffset = true
			start, err := strconv.Atoi(clause.Offset)
			if err != nil || start < 0 {
				return nil, fmt.Errorf("%w: invalid OFFSET %q", ErrQueryParse, clause.Offset)
			}
			slice.Start = start
			continue
		}
		if seenLimit {
			return nil, fmt.Errorf("%w: LIMIT given more than once", ErrQueryParse)
		}
		seenLimit = true
		length, err := strconv.Atoi(clause.Limit)
		if err != nil || length < 0 {
			return nil, fmt.Errorf("%w: invalid LIMIT %q", ErrQueryParse, clause.Limit)
		}
		slice.Length = &length
	}
	return slice, nil
}
