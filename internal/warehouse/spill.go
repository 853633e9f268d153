package warehouse

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/tabulae/tabulae/internal/schema"
	"github.com/tabulae/tabulae/internal/sparql/results"
)

const spillBatchSize = 1024

// writeSpill copies every binding of pages into one parquet file with an
// optional string column per schema column. Unbound variables become nulls.
func writeSpill(path string, pages []results.Page, columns schema.Schema) (int64, error) {
	group := parquet.Group{}
	for _, name := range columns.Names() {
		group[name] = parquet.Optional(parquet.String())
	}
	spillSchema := parquet.NewSchema("binding", group)

	leaf := map[string]int{}
	for index, path := range spillSchema.Columns() {
		leaf[path[0]] = index
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create spill file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := parquet.NewWriter(file, spillSchema)
	batch := make([]parquet.Row, 0, spillBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.WriteRows(batch); err != nil {
			return fmt.Errorf("write spill rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	var count int64
	for _, page := range pages {
		_, _, err := results.ReadFile(page.Path, func(binding results.Binding) error {
			row := make(parquet.Row, len(leaf))
			for name, column := range leaf {
				if term, ok := binding[name]; ok {
					row[column] = parquet.ValueOf(term.Lexical()).Level(0, 1, column)
				} else {
					row[column] = parquet.NullValue().Level(0, 0, column)
				}
			}
			batch = append(batch, row)
			count++
			if len(batch) == spillBatchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("spill page at offset %d: %w", page.Offset, err)
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close spill writer: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("close spill file: %w", err)
	}
	return count, nil
}
