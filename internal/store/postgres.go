package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/atelierdata/specpipe/internal/db"
	"github.com/atelierdata/specpipe/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries prepared on each new connection: the
// hot-path operations of a batch run.
var preparedStatements = map[string]string{
	"get_product_by_url":  `SELECT id, project_id, source_url, fields, content_hash, score, verified, version, last_checked_at, created_at, updated_at FROM products WHERE project_id = $1 AND source_url = $2`,
	"insert_extraction":   `INSERT INTO extractions (id, source_url, fields, raw_output, schema_valid, model, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"insert_score":        `INSERT INTO quality_scores (extraction_id, per_field, aggregate, missing_fields) VALUES ($1, $2, $3, $4)`,
	"get_cached_capture":  `SELECT capture FROM capture_cache WHERE url = $1 AND expires_at > now()`,
	"set_cached_capture":  `INSERT INTO capture_cache (url, capture, fetched_at, expires_at) VALUES ($1, $2, $3, $4) ON CONFLICT (url) DO UPDATE SET capture = $2, fetched_at = $3, expires_at = $4`,
	"delete_expired":      `DELETE FROM capture_cache WHERE expires_at <= now()`,
	"insert_verification": `INSERT INTO verifications (id, product_id, extraction_id, reason, priority, status, corrections, reviewer, created_at, resolved_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL,
	source_url      TEXT NOT NULL,
	fields          JSONB NOT NULL DEFAULT '{}',
	content_hash    TEXT NOT NULL DEFAULT '',
	score           DOUBLE PRECISION NOT NULL DEFAULT 0,
	verified        BOOLEAN NOT NULL DEFAULT false,
	version         BIGINT NOT NULL DEFAULT 1,
	last_checked_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, source_url)
);

CREATE TABLE IF NOT EXISTS extractions (
	id           TEXT PRIMARY KEY,
	source_url   TEXT NOT NULL,
	fields       JSONB NOT NULL DEFAULT '{}',
	raw_output   TEXT,
	schema_valid BOOLEAN NOT NULL DEFAULT false,
	model        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS quality_scores (
	extraction_id  TEXT PRIMARY KEY REFERENCES extractions(id),
	per_field      JSONB NOT NULL DEFAULT '{}',
	aggregate      DOUBLE PRECISION NOT NULL DEFAULT 0,
	missing_fields JSONB
);

CREATE TABLE IF NOT EXISTS changes (
	id          TEXT PRIMARY KEY,
	product_id  TEXT NOT NULL,
	field       TEXT NOT NULL,
	old_value   TEXT,
	new_value   TEXT,
	change_type TEXT NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS verifications (
	id            TEXT PRIMARY KEY,
	product_id    TEXT NOT NULL,
	extraction_id TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	priority      INTEGER NOT NULL DEFAULT 5,
	status        TEXT NOT NULL DEFAULT 'pending',
	corrections   JSONB,
	reviewer      TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS capture_cache (
	url        TEXT PRIMARY KEY,
	capture    JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_source ON products(project_id, source_url);
CREATE INDEX IF NOT EXISTS idx_extractions_source_url ON extractions(source_url);
CREATE INDEX IF NOT EXISTS idx_changes_product_id ON changes(product_id, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_verifications_pending ON verifications(status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_capture_cache_expires ON capture_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, product *model.Product) error {
	fieldsJSON, err := json.Marshal(product.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO products (id, project_id, source_url, fields, content_hash, score, verified, version, last_checked_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		product.ID, product.ProjectID, product.SourceURL, fieldsJSON,
		product.ContentHash, product.Score, product.Verified, product.Version,
		nullTime(product.LastCheckedAt), product.CreatedAt, product.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert product %s", product.ID)
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, source_url, fields, content_hash, score, verified, version, last_checked_at, created_at, updated_at
		 FROM products WHERE id = $1`,
		id,
	)
	return scanProduct(row)
}

func (s *PostgresStore) GetProductByURL(ctx context.Context, projectID, sourceURL string) (*model.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, source_url, fields, content_hash, score, verified, version, last_checked_at, created_at, updated_at
		 FROM products WHERE project_id = $1 AND source_url = $2`,
		projectID, sourceURL,
	)
	return scanProduct(row)
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, product *model.Product) error {
	fieldsJSON, err := json.Marshal(product.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE products
		 SET fields = $1, content_hash = $2, score = $3, verified = $4,
		     version = version + 1, last_checked_at = $5, updated_at = $6
		 WHERE id = $7 AND version = $8`,
		fieldsJSON, product.ContentHash, product.Score, product.Verified,
		nullTime(product.LastCheckedAt), time.Now().UTC(),
		product.ID, product.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update product %s", product.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStaleWrite, "product %s at version %d", product.ID, product.Version)
	}
	product.Version++
	return nil
}

func (s *PostgresStore) SaveExtraction(ctx context.Context, result *model.ExtractionResult) error {
	fieldsJSON, err := json.Marshal(result.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extraction fields")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO extractions (id, source_url, fields, raw_output, schema_valid, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		result.ID, result.SourceURL, fieldsJSON, result.RawOutput,
		result.SchemaValid, result.Model, result.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert extraction %s", result.ID)
}

func (s *PostgresStore) SaveScore(ctx context.Context, score model.QualityScore) error {
	perFieldJSON, err := json.Marshal(score.PerField)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal per-field scores")
	}
	missingJSON, err := json.Marshal(score.MissingFields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal missing fields")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO quality_scores (extraction_id, per_field, aggregate, missing_fields)
		 VALUES ($1, $2, $3, $4)`,
		score.ExtractionID, perFieldJSON, score.Aggregate, missingJSON,
	)
	return eris.Wrapf(err, "postgres: insert score for %s", score.ExtractionID)
}

var changeColumns = []string{"id", "product_id", "field", "old_value", "new_value", "change_type", "detected_at"}

func (s *PostgresStore) RecordChanges(ctx context.Context, changes []model.Change) error {
	if len(changes) == 0 {
		return nil
	}

	rows := make([][]any, len(changes))
	for i, c := range changes {
		rows[i] = []any{c.ID, c.ProductID, c.Field, c.OldValue, c.NewValue, string(c.Type), c.DetectedAt}
	}

	_, err := db.CopyFrom(ctx, s.pool, "changes", changeColumns, rows)
	return eris.Wrap(err, "postgres: record changes")
}

func (s *PostgresStore) ListChanges(ctx context.Context, productID string, limit int) ([]model.Change, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, field, old_value, new_value, change_type, detected_at
		 FROM changes WHERE product_id = $1
		 ORDER BY detected_at DESC LIMIT $2`,
		productID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list changes")
	}
	defer rows.Close()

	var changes []model.Change
	for rows.Next() {
		var c model.Change
		var typ string
		if err := rows.Scan(&c.ID, &c.ProductID, &c.Field, &c.OldValue, &c.NewValue, &typ, &c.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan change")
		}
		c.Type = model.ChangeType(typ)
		changes = append(changes, c)
	}
	return changes, eris.Wrap(rows.Err(), "postgres: list changes iterate")
}

func (s *PostgresStore) CreateVerification(ctx context.Context, req *model.VerificationRequest) error {
	correctionsJSON, err := marshalFields(req.Corrections)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal corrections")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO verifications (id, product_id, extraction_id, reason, priority, status, corrections, reviewer, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, req.ProductID, req.ExtractionID, req.Reason, req.Priority,
		string(req.Status), correctionsJSON, req.Reviewer, req.CreatedAt,
		nullTime(req.ResolvedAt),
	)
	return eris.Wrapf(err, "postgres: insert verification %s", req.ID)
}

func (s *PostgresStore) GetVerification(ctx context.Context, id string) (*model.VerificationRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, product_id, extraction_id, reason, priority, status, corrections, reviewer, created_at, resolved_at
		 FROM verifications WHERE id = $1`,
		id,
	)
	return scanVerification(row)
}

func (s *PostgresStore) UpdateVerification(ctx context.Context, req *model.VerificationRequest) error {
	correctionsJSON, err := marshalFields(req.Corrections)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal corrections")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE verifications
		 SET status = $1, corrections = $2, reviewer = $3, resolved_at = $4
		 WHERE id = $5`,
		string(req.Status), correctionsJSON, req.Reviewer, nullTime(req.ResolvedAt), req.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update verification %s", req.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "verification %s", req.ID)
	}
	return nil
}

func (s *PostgresStore) ListPendingVerifications(ctx context.Context, limit int) ([]model.VerificationRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, extraction_id, reason, priority, status, corrections, reviewer, created_at, resolved_at
		 FROM verifications WHERE status = 'pending'
		 ORDER BY priority DESC, created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending verifications")
	}
	defer rows.Close()

	var out []model.VerificationRequest
	for rows.Next() {
		req, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pending iterate")
}

func (s *PostgresStore) GetCachedCapture(ctx context.Context, url string) (*model.RawCapture, error) {
	var captureJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT capture FROM capture_cache WHERE url = $1 AND expires_at > now()`,
		url,
	).Scan(&captureJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached capture")
	}

	var capture model.RawCapture
	if err := json.Unmarshal(captureJSON, &capture); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal capture")
	}
	return &capture, nil
}

func (s *PostgresStore) SetCachedCapture(ctx context.Context, url string, capture model.RawCapture, ttl time.Duration) error {
	captureJSON, err := json.Marshal(capture)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal capture")
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO capture_cache (url, capture, fetched_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (url) DO UPDATE SET capture = $2, fetched_at = $3, expires_at = $4`,
		url, captureJSON, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached capture")
}

func (s *PostgresStore) DeleteExpiredCaptures(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM capture_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired captures")
	}
	return int(tag.RowsAffected()), nil
}

// scanner covers both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*model.Product, error) {
	var p model.Product
	var fieldsJSON []byte
	var lastChecked *time.Time

	err := row.Scan(&p.ID, &p.ProjectID, &p.SourceURL, &fieldsJSON,
		&p.ContentHash, &p.Score, &p.Verified, &p.Version,
		&lastChecked, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: scan product")
	}
	if err := json.Unmarshal(fieldsJSON, &p.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal product fields")
	}
	if lastChecked != nil {
		p.LastCheckedAt = *lastChecked
	}
	return &p, nil
}

func scanVerification(row scanner) (*model.VerificationRequest, error) {
	var req model.VerificationRequest
	var status string
	var correctionsJSON []byte
	var reviewer *string
	var resolvedAt *time.Time

	err := row.Scan(&req.ID, &req.ProductID, &req.ExtractionID, &req.Reason,
		&req.Priority, &status, &correctionsJSON, &reviewer,
		&req.CreatedAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: scan verification")
	}
	req.Status = model.VerificationStatus(status)
	if len(correctionsJSON) > 0 {
		if err := json.Unmarshal(correctionsJSON, &req.Corrections); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal corrections")
		}
	}
	if reviewer != nil {
		req.Reviewer = *reviewer
	}
	if resolvedAt != nil {
		req.ResolvedAt = *resolvedAt
	}
	return &req, nil
}

func marshalFields(fields model.Fields) ([]byte, error) {
	if fields == nil {
		return nil, nil
	}
	return json.Marshal(fields)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
