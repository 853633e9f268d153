// Package publish uploads exported tables to an object store and removes them
// again when their query goes away.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tabulae/tabulae/internal/storage"
	"github.com/tabulae/tabulae/internal/warehouse"
)

const DefaultLayer = "layer1"

type Publisher struct {
	Store  storage.ObjectStore
	Layer  string
	Logger *slog.Logger
}

func New(store storage.ObjectStore, logger *slog.Logger) *Publisher {
	return &Publisher{Store: store, Layer: DefaultLayer, Logger: logger}
}

// Publish uploads every artifact of name under <layer>/<name>.<format>.
func (p *Publisher) Publish(ctx context.Context, name string, artifacts []warehouse.Artifact) ([]storage.ObjectInfo, error) {
	published := make([]storage.ObjectInfo, 0, len(artifacts))
	for _, artifact := range artifacts {
		info, err := p.put(ctx, name, artifact)
		if err != nil {
			return published, err
		}
		published = append(published, info)
		if p.Logger != nil {
			p.Logger.DebugContext(ctx, "published export",
				slog.String("query", name),
				slog.String("object_key", info.Key),
				slog.Int64("size_bytes", info.Size),
			)
		}
	}
	return published, nil
}

func (p *Publisher) put(ctx context.Context, name string, artifact warehouse.Artifact) (storage.ObjectInfo, error) {
	key, err := storage.BuildArtifactKey(p.layer(), name, artifact.Format)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("build artifact key: %w", err)
	}
	file, err := os.Open(artifact.Path)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("open export %s: %w", artifact.Path, err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat export %s: %w", artifact.Path, err)
	}
	info, err := p.Store.Put(ctx, key, file, stat.Size(), storage.PutOptions{ContentType: storage.ContentType(artifact.Format)})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload %s: %w", key, err)
	}
	return info, nil
}

// Unpublish deletes every format of name. Objects that were never uploaded are
// not an error.
func (p *Publisher) Unpublish(ctx context.Context, name string) error {
	for _, format := range []string{warehouse.FormatCSV, warehouse.FormatTSV, warehouse.FormatParquet} {
		key, err := storage.BuildArtifactKey(p.layer(), name, format)
		if err != nil {
			return fmt.Errorf("build artifact key: %w", err)
		}
		if err := p.Store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

func (p *Publisher) layer() string {
	if p.Layer == "" {
		return DefaultLayer
	}
	return p.Layer
}
