// Package results decodes SPARQL 1.1 Query Results JSON one binding at a time.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrMalformedPayload = errors.New("results: malformed SPARQL results payload")

// Term is a bound RDF term. The set of implementations is closed: IRI,
// BlankNode and Literal.
type Term interface {
	// Lexical is the term's value as it is stored in a row.
	Lexical() string
	term()
}

type IRI struct {
	Value string
}

type BlankNode struct {
	ID string
}

type Literal struct {
	Value    string
	Datatype string
	Lang     string
}

func (t IRI) Lexical() string       { return t.Value }
func (t BlankNode) Lexical() string { return t.ID }
func (t Literal) Lexical() string   { return t.Value }

func (IRI) term()       {}
func (BlankNode) term() {}
func (Literal) term()   {}

// Datatype returns the declared datatype of a literal and "" for every other
// term.
func Datatype(t Term) string {
	if literal, ok := t.(Literal); ok {
		return literal.Datatype
	}
	return ""
}

// Binding is one solution row keyed by variable name. Unbound variables are
// absent.
type Binding map[string]Term

// Page is one fetched page spilled to disk.
type Page struct {
	Path   string
	Offset int
	Count  int
	Vars   []string
}

type wireTerm struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype"`
	Lang     string `json:"xml:lang"`
}

func (w wireTerm) toTerm() (Term, error) {
	switch w.Type {
	case "uri":
		return IRI{Value: w.Value}, nil
	case "bnode":
		return BlankNode{ID: w.Value}, nil
	case "literal", "typed-literal":
		return Literal{Value: w.Value, Datatype: w.Datatype, Lang: w.Lang}, nil
	default:
		return nil, fmt.Errorf("%w: unknown term type %q", ErrMalformedPayload, w.Type)
	}
}

// Decode reads a results document and calls fn for every binding in document
// order. It returns the head variables and the number of bindings seen. An
// error from fn stops decoding and is returned as is.
func Decode(r io.Reader, fn func(Binding) error) ([]string, int, error) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return nil, 0, err
	}

	var (
		vars        []string
		count       int
		seenHead    bool
		seenResults bool
	)
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, 0, err
		}
		switch key {
		case "head":
			var head struct {
				Vars []string `json:"vars"`
			}
			if err := dec.Decode(&head); err != nil {
				return nil, 0, fmt.Errorf("%w: head: %v", ErrMalformedPayload, err)
			}
			vars = head.Vars
			seenHead = true
		case "results":
			n, err := decodeResults(dec, fn)
			if err != nil {
				return nil, 0, err
			}
			count += n
			seenResults = true
		default:
			if err := skipValue(dec); err != nil {
				return nil, 0, err
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, 0, err
	}
	if !seenHead || !seenResults {
		return nil, 0, fmt.Errorf("%w: head and results are required", ErrMalformedPayload)
	}
	if vars == nil {
		vars = []string{}
	}
	return vars, count, nil
}

// ReadFile decodes a spilled page.
func ReadFile(path string, fn func(Binding) error) ([]string, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open page %s: %w", path, err)
	}
	defer file.Close()
	return Decode(file, fn)
}

func decodeResults(dec *json.Decoder, fn func(Binding) error) (int, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return 0, err
	}
	count := 0
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return 0, err
		}
		if key != "bindings" {
			if err := skipValue(dec); err != nil {
				return 0, err
			}
			continue
		}
		if err := expectDelim(dec, '['); err != nil {
			return 0, err
		}
		for dec.More() {
			var wire map[string]wireTerm
			if err := dec.Decode(&wire); err != nil {
				return 0, fmt.Errorf("%w: binding %d: %v", ErrMalformedPayload, count, err)
			}
			binding := make(Binding, len(wire))
			for name, value := range wire {
				term, err := value.toTerm()
				if err != nil {
					return 0, fmt.Errorf("binding %d variable %s: %w", count, name, err)
				}
				binding[name] = term
			}
			count++
			if fn != nil {
				if err := fn(binding); err != nil {
					return 0, err
				}
			}
		}
		if err := expectDelim(dec, ']'); err != nil {
			return 0, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return 0, err
	}
	return count, nil
}

func readKey(dec *json.Decoder) (string, error) {
	token, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	key, ok := token.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected object key, got %v", ErrMalformedPayload, token)
	}
	return key, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	token, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if delim, ok := token.(json.Delim); !ok || delim != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrMalformedPayload, want, token)
	}
	return nil
}

func skipValue(dec *json.Decoder) error {
	var discard json.RawMessage
	if err := dec.Decode(&discard); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
