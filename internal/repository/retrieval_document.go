package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RetrievalDocumentRepository persists the reference material behind the
// in-memory retrieval index
type RetrievalDocumentRepository struct {
	db dbtx
}

func NewRetrievalDocumentRepository(pool *pgxpool.Pool) *RetrievalDocumentRepository {
	return &RetrievalDocumentRepository{db: pool}
}

func NewRetrievalDocumentRepositoryWithTx(tx dbtx) *RetrievalDocumentRepository {
	return &RetrievalDocumentRepository{db: tx}
}

// Upsert inserts a document or replaces its text, tags and embedding. The
// original insertion position is kept.
func (r *RetrievalDocumentRepository) Upsert(ctx context.Context, doc *domain.RetrievalDocument) error {
	tags := doc.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO retrieval_documents (id, text, tags, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET text = EXCLUDED.text,
		     tags = EXCLUDED.tags,
		     embedding = EXCLUDED.embedding,
		     updated_at = now()`,
		doc.ID,
		doc.Text,
		tags,
		pgvector.NewVector(doc.Embedding),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert retrieval document %s: %w", doc.ID, err)
	}
	return nil
}

// GetByID returns one document
func (r *RetrievalDocumentRepository) GetByID(ctx context.Context, id string) (*domain.RetrievalDocument, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, text, tags, embedding::real[], created_at
		 FROM retrieval_documents WHERE id = $1`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound, "retrieval document not found")
	}
	return doc, err
}

// ListDocuments returns every document in insertion order
func (r *RetrievalDocumentRepository) ListDocuments(ctx context.Context) ([]domain.RetrievalDocument, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, text, tags, embedding::real[], created_at
		 FROM retrieval_documents ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list retrieval documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.RetrievalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// Count returns the number of stored documents
func (r *RetrievalDocumentRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM retrieval_documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count retrieval documents: %w", err)
	}
	return n, nil
}

// Version identifies the current document set. Any upsert or delete changes it.
func (r *RetrievalDocumentRepository) Version(ctx context.Context) (domain.DocumentSetVersion, error) {
	var v domain.DocumentSetVersion
	err := r.db.QueryRow(ctx,
		`SELECT count(*), coalesce(max(updated_at), 'epoch'::timestamptz) FROM retrieval_documents`,
	).Scan(&v.Count, &v.UpdatedAt)
	if err != nil {
		return domain.DocumentSetVersion{}, fmt.Errorf("read retrieval document version: %w", err)
	}
	return v, nil
}

// SearchSimilar ranks stored documents by cosine distance to embedding. The
// serving path uses the in-memory index; this is for offline inspection.
func (r *RetrievalDocumentRepository) SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]domain.RetrievalDocument, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, text, tags, embedding::real[], created_at
		 FROM retrieval_documents
		 ORDER BY embedding <=> $1, seq
		 LIMIT $2`,
		pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("search retrieval documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.RetrievalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// Delete removes a document
func (r *RetrievalDocumentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM retrieval_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete retrieval document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrCodeNotFound, "retrieval document not found")
	}
	return nil
}

func scanDocument(row pgx.Row) (*domain.RetrievalDocument, error) {
	var doc domain.RetrievalDocument
	if err := row.Scan(&doc.ID, &doc.Text, &doc.Tags, &doc.Embedding, &doc.CreatedAt); err != nil {
		return nil, err
	}
	return &doc, nil
}
