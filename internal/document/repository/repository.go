package repository

import (
	"context"

	"github.com/aziende/editorbridge/internal/document"
)

var (
	ErrNotFound = document.ErrNotFound
)

// Repository is the Document Store. CommitContent is the single mutation
// path for content: it re-reads the current version, snapshots it when the
// document has versioning enabled, and writes the next version, all inside
// one transaction (or under one lock for the memory store).
type Repository interface {
	Create(ctx context.Context, doc *document.Document) (string, error)
	Get(ctx context.Context, id string) (*document.Document, error)
	List(ctx context.Context, tenant string) ([]*document.Document, error)
	CommitContent(ctx context.Context, id string, c document.Commit) (*document.Document, error)
	ListVersions(ctx context.Context, id string) ([]*document.Version, error)
	GetVersion(ctx context.Context, id string, version int64) (*document.Version, error)
	Ping(ctx context.Context) error
}
