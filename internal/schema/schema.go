// Package schema infers one column type per variable from every binding of a
// query.
package schema

import (
	"fmt"
	"maps"
	"slices"

	"github.com/tabulae/tabulae/internal/sparql/results"
)

type Type string

const (
	TypeInteger Type = "BIGINT"
	TypeDouble  Type = "DOUBLE"
	TypeBoolean Type = "BOOLEAN"
	TypeText    Type = "VARCHAR"
)

const (
	XSDInteger = "http://www.w3.org/2001/XMLSchema#integer"
	XSDDouble  = "http://www.w3.org/2001/XMLSchema#double"
	XSDBoolean = "http://www.w3.org/2001/XMLSchema#boolean"
)

type Column struct {
	Name string
	Type Type
}

type Schema struct {
	Columns []Column
}

// TypeOf returns the column type of name, or TypeText when it is unknown.
func (s Schema) TypeOf(name string) Type {
	for _, column := range s.Columns {
		if column.Name == name {
			return column.Type
		}
	}
	return TypeText
}

func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Columns))
	for _, column := range s.Columns {
		names = append(names, column.Name)
	}
	return names
}

type state int

const (
	unobserved state = iota
	consistent
	inconsistent
)

type observation struct {
	state    state
	datatype string
}

// Unifier folds datatype observations into per-variable states. Feed it
// bindings in page order and then binding order.
type Unifier struct {
	order        []string
	observations map[string]*observation
}

func NewUnifier() *Unifier {
	return &Unifier{observations: map[string]*observation{}}
}

// Declare adds variables from a page header. Columns keep first-seen order.
func (u *Unifier) Declare(vars []string) {
	for _, name := range vars {
		u.variable(name)
	}
}

// Observe records one binding. A term without a datatype leaves the state of
// its variable unchanged.
func (u *Unifier) Observe(binding results.Binding) {
	for _, name := range slices.Sorted(maps.Keys(binding)) {
		obs := u.variable(name)
		datatype := results.Datatype(binding[name])
		if datatype == "" {
			continue
		}
		switch obs.state {
		case unobserved:
			obs.state = consistent
			obs.datatype = datatype
		case consistent:
			if obs.datatype != datatype {
				obs.state = inconsistent
			}
		}
	}
}

func (u *Unifier) variable(name string) *observation {
	obs, ok := u.observations[name]
	if !ok {
		obs = &observation{}
		u.observations[name] = obs
		u.order = append(u.order, name)
	}
	return obs
}

func (u *Unifier) Schema() Schema {
	columns := make([]Column, 0, len(u.order))
	for _, name := range u.order {
		obs := u.observations[name]
		columnType := TypeText
		if obs.state == consistent {
			columnType = storageType(obs.datatype)
		}
		columns = append(columns, Column{Name: name, Type: columnType})
	}
	return Schema{Columns: columns}
}

func storageType(datatype string) Type {
	switch datatype {
	case XSDInteger:
		return TypeInteger
	case XSDDouble:
		return TypeDouble
	case XSDBoolean:
		return TypeBoolean
	default:
		return TypeText
	}
}

// Unify reads every spilled page once. Columns are the union of the page
// headers in first-seen order.
func Unify(pages []results.Page) (Schema, error) {
	unifier := NewUnifier()
	for _, page := range pages {
		unifier.Declare(page.Vars)
		vars, _, err := results.ReadFile(page.Path, func(binding results.Binding) error {
			unifier.Observe(binding)
			return nil
		})
		if err != nil {
			return Schema{}, fmt.Errorf("unify page at offset %d: %w", page.Offset, err)
		}
		unifier.Declare(vars)
	}
	return unifier.Schema(), nil
}
