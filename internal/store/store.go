// Package store persists pipeline entities: products, extractions, quality
// scores, change records, verification requests, and the capture cache.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/atelierdata/specpipe/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrStaleWrite is returned when an optimistic product update loses the
// race: the stored version no longer matches the caller's copy. The caller
// must re-read and retry.
var ErrStaleWrite = eris.New("store: stale write")

// Store is the persistence interface for the acquisition pipeline.
type Store interface {
	// Products
	CreateProduct(ctx context.Context, product *model.Product) error
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	GetProductByURL(ctx context.Context, projectID, sourceURL string) (*model.Product, error)
	// UpdateProduct writes the product iff the stored version matches
	// product.Version, then increments it. Returns ErrStaleWrite otherwise.
	UpdateProduct(ctx context.Context, product *model.Product) error

	// Extractions and scores (append-only)
	SaveExtraction(ctx context.Context, result *model.ExtractionResult) error
	SaveScore(ctx context.Context, score model.QualityScore) error

	// Change audit log (append-only)
	RecordChanges(ctx context.Context, changes []model.Change) error
	ListChanges(ctx context.Context, productID string, limit int) ([]model.Change, error)

	// Verification queue
	CreateVerification(ctx context.Context, req *model.VerificationRequest) error
	GetVerification(ctx context.Context, id string) (*model.VerificationRequest, error)
	UpdateVerification(ctx context.Context, req *model.VerificationRequest) error
	ListPendingVerifications(ctx context.Context, limit int) ([]model.VerificationRequest, error)

	// Capture cache
	GetCachedCapture(ctx context.Context, url string) (*model.RawCapture, error)
	SetCachedCapture(ctx context.Context, url string, capture model.RawCapture, ttl time.Duration) error
	DeleteExpiredCaptures(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
