package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"go.uber.org/zap"
)

// DocumentSource lists the stored retrieval documents
type DocumentSource interface {
	ListDocuments(ctx context.Context) ([]domain.RetrievalDocument, error)
	Version(ctx context.Context) (domain.DocumentSetVersion, error)
}

// Reloadable is an index that can swap in a new document set
type Reloadable interface {
	Reload(docs []domain.RetrievalDocument) error
	Len() int
}

// IndexReloader keeps the in-memory retrieval index in step with the
// document table. A failed reload leaves the previous snapshot serving.
type IndexReloader struct {
	source DocumentSource
	index  Reloadable
	logger *zap.Logger

	mu     sync.Mutex
	loaded *domain.DocumentSetVersion
}

// NewIndexReloader creates a reloader
func NewIndexReloader(source DocumentSource, index Reloadable, logger *zap.Logger) *IndexReloader {
	return &IndexReloader{
		source: source,
		index:  index,
		logger: logger.Named("index_reloader"),
	}
}

// Load reads every document and swaps them into the index
func (r *IndexReloader) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	version, err := r.source.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to read retrieval document version: %w", err)
	}
	return r.load(ctx, version)
}

// load records the version read before listing, so a write racing the list
// is picked up by the next run
func (r *IndexReloader) load(ctx context.Context, version domain.DocumentSetVersion) error {
	docs, err := r.source.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list retrieval documents: %w", err)
	}
	if err := r.index.Reload(docs); err != nil {
		return fmt.Errorf("failed to reload retrieval index: %w", err)
	}
	r.loaded = &version
	r.logger.Info("retrieval index loaded", zap.Int("documents", len(docs)))
	return nil
}

// Run reloads the index when the stored document set changed since the last
// successful load
func (r *IndexReloader) Run(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	version, err := r.source.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to read retrieval document version: %w", err)
	}
	if r.loaded != nil && r.loaded.Equal(version) {
		return nil
	}
	r.logger.Debug("document set changed", zap.Int("stored", version.Count), zap.Int("indexed", r.index.Len()))
	return r.load(ctx, version)
}
