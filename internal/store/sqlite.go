package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/atelierdata/specpipe/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. The default
// backend for single-operator use; Postgres covers shared deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			_ = sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL,
	source_url      TEXT NOT NULL,
	fields          TEXT NOT NULL DEFAULT '{}',
	content_hash    TEXT NOT NULL DEFAULT '',
	score           REAL NOT NULL DEFAULT 0,
	verified        INTEGER NOT NULL DEFAULT 0,
	version         INTEGER NOT NULL DEFAULT 1,
	last_checked_at DATETIME,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	UNIQUE (project_id, source_url)
);

CREATE TABLE IF NOT EXISTS extractions (
	id           TEXT PRIMARY KEY,
	source_url   TEXT NOT NULL,
	fields       TEXT NOT NULL DEFAULT '{}',
	raw_output   TEXT,
	schema_valid INTEGER NOT NULL DEFAULT 0,
	model        TEXT,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS quality_scores (
	extraction_id  TEXT PRIMARY KEY REFERENCES extractions(id),
	per_field      TEXT NOT NULL DEFAULT '{}',
	aggregate      REAL NOT NULL DEFAULT 0,
	missing_fields TEXT
);

CREATE TABLE IF NOT EXISTS changes (
	id          TEXT PRIMARY KEY,
	product_id  TEXT NOT NULL,
	field       TEXT NOT NULL,
	old_value   TEXT,
	new_value   TEXT,
	change_type TEXT NOT NULL,
	detected_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS verifications (
	id            TEXT PRIMARY KEY,
	product_id    TEXT NOT NULL,
	extraction_id TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	priority      INTEGER NOT NULL DEFAULT 5,
	status        TEXT NOT NULL DEFAULT 'pending',
	corrections   TEXT,
	reviewer      TEXT,
	created_at    DATETIME NOT NULL,
	resolved_at   DATETIME
);

CREATE TABLE IF NOT EXISTS capture_cache (
	url        TEXT PRIMARY KEY,
	capture    TEXT NOT NULL,
	fetched_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_source ON products(project_id, source_url);
CREATE INDEX IF NOT EXISTS idx_extractions_source_url ON extractions(source_url);
CREATE INDEX IF NOT EXISTS idx_changes_product_id ON changes(product_id, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_verifications_pending ON verifications(status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_capture_cache_expires ON capture_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, product *model.Product) error {
	fieldsJSON, err := json.Marshal(product.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO products (id, project_id, source_url, fields, content_hash, score, verified, version, last_checked_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		product.ID, product.ProjectID, product.SourceURL, string(fieldsJSON),
		product.ContentHash, product.Score, product.Verified, product.Version,
		nullTime(product.LastCheckedAt), product.CreatedAt, product.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert product %s", product.ID)
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, source_url, fields, content_hash, score, verified, version, last_checked_at, created_at, updated_at
		 FROM products WHERE id = ?`,
		id,
	)
	return scanProductSQL(row)
}

func (s *SQLiteStore) GetProductByURL(ctx context.Context, projectID, sourceURL string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, source_url, fields, content_hash, score, verified, version, last_checked_at, created_at, updated_at
		 FROM products WHERE project_id = ? AND source_url = ?`,
		projectID, sourceURL,
	)
	return scanProductSQL(row)
}

func (s *SQLiteStore) UpdateProduct(ctx context.Context, product *model.Product) error {
	fieldsJSON, err := json.Marshal(product.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE products
		 SET fields = ?, content_hash = ?, score = ?, verified = ?,
		     version = version + 1, last_checked_at = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(fieldsJSON), product.ContentHash, product.Score, product.Verified,
		nullTime(product.LastCheckedAt), time.Now().UTC(),
		product.ID, product.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update product %s", product.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrStaleWrite, "product %s at version %d", product.ID, product.Version)
	}
	product.Version++
	return nil
}

func (s *SQLiteStore) SaveExtraction(ctx context.Context, result *model.ExtractionResult) error {
	fieldsJSON, err := json.Marshal(result.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal extraction fields")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extractions (id, source_url, fields, raw_output, schema_valid, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.SourceURL, string(fieldsJSON), result.RawOutput,
		result.SchemaValid, result.Model, result.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert extraction %s", result.ID)
}

func (s *SQLiteStore) SaveScore(ctx context.Context, score model.QualityScore) error {
	perFieldJSON, err := json.Marshal(score.PerField)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal per-field scores")
	}
	missingJSON, err := json.Marshal(score.MissingFields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal missing fields")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quality_scores (extraction_id, per_field, aggregate, missing_fields)
		 VALUES (?, ?, ?, ?)`,
		score.ExtractionID, string(perFieldJSON), score.Aggregate, string(missingJSON),
	)
	return eris.Wrapf(err, "sqlite: insert score for %s", score.ExtractionID)
}

func (s *SQLiteStore) RecordChanges(ctx context.Context, changes []model.Change) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin record changes")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO changes (id, product_id, field, old_value, new_value, change_type, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare change insert")
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range changes {
		if _, err := stmt.ExecContext(ctx, c.ID, c.ProductID, c.Field, c.OldValue, c.NewValue, string(c.Type), c.DetectedAt); err != nil {
			return eris.Wrapf(err, "sqlite: insert change %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit record changes")
}

func (s *SQLiteStore) ListChanges(ctx context.Context, productID string, limit int) ([]model.Change, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, field, old_value, new_value, change_type, detected_at
		 FROM changes WHERE product_id = ?
		 ORDER BY detected_at DESC LIMIT ?`,
		productID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list changes")
	}
	defer func() { _ = rows.Close() }()

	var changes []model.Change
	for rows.Next() {
		var c model.Change
		var typ string
		if err := rows.Scan(&c.ID, &c.ProductID, &c.Field, &c.OldValue, &c.NewValue, &typ, &c.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan change")
		}
		c.Type = model.ChangeType(typ)
		changes = append(changes, c)
	}
	return changes, eris.Wrap(rows.Err(), "sqlite: list changes iterate")
}

func (s *SQLiteStore) CreateVerification(ctx context.Context, req *model.VerificationRequest) error {
	correctionsJSON, err := marshalFields(req.Corrections)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal corrections")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verifications (id, product_id, extraction_id, reason, priority, status, corrections, reviewer, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ProductID, req.ExtractionID, req.Reason, req.Priority,
		string(req.Status), nullBytes(correctionsJSON), req.Reviewer, req.CreatedAt,
		nullTime(req.ResolvedAt),
	)
	return eris.Wrapf(err, "sqlite: insert verification %s", req.ID)
}

func (s *SQLiteStore) GetVerification(ctx context.Context, id string) (*model.VerificationRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, extraction_id, reason, priority, status, corrections, reviewer, created_at, resolved_at
		 FROM verifications WHERE id = ?`,
		id,
	)
	return scanVerificationSQL(row)
}

func (s *SQLiteStore) UpdateVerification(ctx context.Context, req *model.VerificationRequest) error {
	correctionsJSON, err := marshalFields(req.Corrections)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal corrections")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE verifications
		 SET status = ?, corrections = ?, reviewer = ?, resolved_at = ?
		 WHERE id = ?`,
		string(req.Status), nullBytes(correctionsJSON), req.Reviewer, nullTime(req.ResolvedAt), req.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update verification %s", req.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "verification %s", req.ID)
	}
	return nil
}

func (s *SQLiteStore) ListPendingVerifications(ctx context.Context, limit int) ([]model.VerificationRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, extraction_id, reason, priority, status, corrections, reviewer, created_at, resolved_at
		 FROM verifications WHERE status = 'pending'
		 ORDER BY priority DESC, created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending verifications")
	}
	defer func() { _ = rows.Close() }()

	var out []model.VerificationRequest
	for rows.Next() {
		req, err := scanVerificationSQL(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pending iterate")
}

func (s *SQLiteStore) GetCachedCapture(ctx context.Context, url string) (*model.RawCapture, error) {
	var captureJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT capture FROM capture_cache WHERE url = ? AND expires_at > ?`,
		url, time.Now().UTC(),
	).Scan(&captureJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get cached capture")
	}

	var capture model.RawCapture
	if err := json.Unmarshal([]byte(captureJSON), &capture); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal capture")
	}
	return &capture, nil
}

func (s *SQLiteStore) SetCachedCapture(ctx context.Context, url string, capture model.RawCapture, ttl time.Duration) error {
	captureJSON, err := json.Marshal(capture)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal capture")
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO capture_cache (url, capture, fetched_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET capture = excluded.capture, fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		url, string(captureJSON), now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached capture")
}

func (s *SQLiteStore) DeleteExpiredCaptures(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM capture_cache WHERE expires_at <= ?`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired captures")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func scanProductSQL(row scanner) (*model.Product, error) {
	var p model.Product
	var fieldsJSON string
	var lastChecked sql.NullTime

	err := row.Scan(&p.ID, &p.ProjectID, &p.SourceURL, &fieldsJSON,
		&p.ContentHash, &p.Score, &p.Verified, &p.Version,
		&lastChecked, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: scan product")
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal product fields")
	}
	if lastChecked.Valid {
		p.LastCheckedAt = lastChecked.Time
	}
	return &p, nil
}

func scanVerificationSQL(row scanner) (*model.VerificationRequest, error) {
	var req model.VerificationRequest
	var status string
	var correctionsJSON, reviewer sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&req.ID, &req.ProductID, &req.ExtractionID, &req.Reason,
		&req.Priority, &status, &correctionsJSON, &reviewer,
		&req.CreatedAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: scan verification")
	}
	req.Status = model.VerificationStatus(status)
	if correctionsJSON.Valid && correctionsJSON.String != "" {
		if err := json.Unmarshal([]byte(correctionsJSON.String), &req.Corrections); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal corrections")
		}
	}
	if reviewer.Valid {
		req.Reviewer = reviewer.String
	}
	if resolvedAt.Valid {
		req.ResolvedAt = resolvedAt.Time
	}
	return &req, nil
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
