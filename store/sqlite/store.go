// Package sqlite implements the durable attachment record store on SQLite.
//
// SQLite transactions are serializable, which satisfies the store
// contract's read-committed floor, and the primary key on the content hash
// enforces uniqueness; a concurrent duplicate insert surfaces as
// attach.ErrRecordExists.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	_ "modernc.org/sqlite"

	"github.com/meigma/attach"
)

const (
	busyTimeoutMS   = 5000
	maxOpenConns    = 1
	maxIdleConns    = 1
	connMaxLifetime = 5 * time.Minute
)

const schema = `
CREATE TABLE IF NOT EXISTS attachments (
  hash        TEXT PRIMARY KEY,
  content     BLOB NOT NULL,
  inserted_at TEXT NOT NULL,
  uploader    TEXT,
  filename    TEXT,
  version     INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS attachment_contract_classes (
  hash       TEXT NOT NULL REFERENCES attachments(hash) ON DELETE CASCADE,
  ord        INTEGER NOT NULL,
  class_name TEXT NOT NULL,
  PRIMARY KEY (hash, ord)
);

CREATE TABLE IF NOT EXISTS attachment_signers (
  hash   TEXT NOT NULL REFERENCES attachments(hash) ON DELETE CASCADE,
  ord    INTEGER NOT NULL,
  signer TEXT NOT NULL,
  PRIMARY KEY (hash, ord)
);

CREATE INDEX IF NOT EXISTS idx_contract_classes_name
  ON attachment_contract_classes(class_name);
`

// Store implements attach.RecordStore over a SQLite database.
type Store struct {
	db *sql.DB
}

var _ attach.RecordStore = (*Store)(nil)

// Open opens or creates the attachment database at path and bootstraps the
// schema. Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := configureDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InTx implements attach.RecordStore.
func (s *Store) InTx(ctx context.Context, fn func(tx attach.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&recordTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func configureDB(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	// Single-writer pool: serializes transactions through one connection.
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("db path is required")
	}
	if path == ":memory:" {
		return path, nil
	}
	// OmitHost keeps a relative path from being parsed as the URL authority.
	u := url.URL{Scheme: "file", OmitHost: true, Path: path}
	return u.String(), nil
}

// recordTx implements attach.Tx over one sql.Tx.
type recordTx struct {
	tx *sql.Tx
}

var _ attach.Tx = (*recordTx)(nil)

// Get returns the record for hash, or nil when absent.
func (t *recordTx) Get(ctx context.Context, hash digest.Digest) (*attach.Record, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT hash, content, inserted_at, uploader, filename, version
		   FROM attachments WHERE hash = ?`, hash.String())

	var (
		rec        attach.Record
		hashStr    string
		insertedAt string
		uploader   sql.NullString
		filename   sql.NullString
	)
	err := row.Scan(&hashStr, &rec.Content, &insertedAt, &uploader, &filename, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.Hash = digest.Digest(hashStr)
	rec.InsertedAt, err = time.Parse(time.RFC3339Nano, insertedAt)
	if err != nil {
		return nil, fmt.Errorf("parse inserted_at for %s: %w", hashStr, err)
	}
	rec.Uploader = uploader.String
	rec.Filename = filename.String

	rec.ContractClasses, err = t.childValues(ctx,
		`SELECT class_name FROM attachment_contract_classes WHERE hash = ? ORDER BY ord`, hashStr)
	if err != nil {
		return nil, err
	}
	rec.Signers, err = t.childValues(ctx,
		`SELECT signer FROM attachment_signers WHERE hash = ? ORDER BY ord`, hashStr)
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// Insert persists a new record with its contract classes and signers.
func (t *recordTx) Insert(ctx context.Context, rec *attach.Record) error {
	if rec == nil {
		return fmt.Errorf("record is required")
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO attachments (hash, content, inserted_at, uploader, filename, version)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Hash.String(),
		rec.Content,
		rec.InsertedAt.UTC().Format(time.RFC3339Nano),
		nullable(rec.Uploader),
		nullable(rec.Filename),
		rec.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return attach.ErrRecordExists
		}
		return err
	}

	for i, class := range rec.ContractClasses {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO attachment_contract_classes (hash, ord, class_name) VALUES (?, ?, ?)`,
			rec.Hash.String(), i, class); err != nil {
			return err
		}
	}
	for i, signer := range rec.Signers {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO attachment_signers (hash, ord, signer) VALUES (?, ?, ?)`,
			rec.Hash.String(), i, signer); err != nil {
			return err
		}
	}
	return nil
}

// UpdateUploader rewrites the uploader of an existing record.
func (t *recordTx) UpdateUploader(ctx context.Context, hash digest.Digest, uploader string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE attachments SET uploader = ? WHERE hash = ?`,
		nullable(uploader), hash.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update uploader: no record for %s", hash)
	}
	return nil
}

// Count returns the total number of stored records.
func (t *recordTx) Count(ctx context.Context) (int64, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM attachments`).Scan(&n)
	return n, err
}

// FindByCriteria compiles the criteria to SQL and returns matching hashes.
func (t *recordTx) FindByCriteria(ctx context.Context, c attach.Criteria) ([]digest.Digest, error) {
	query := `SELECT hash FROM attachments`
	var (
		conds []string
		args  []any
	)

	if len(c.Uploaders) > 0 {
		conds = append(conds, `uploader IN (`+placeholders(len(c.Uploaders))+`)`)
		for _, u := range c.Uploaders {
			args = append(args, u)
		}
	}
	if len(c.Filenames) > 0 {
		conds = append(conds, `filename IN (`+placeholders(len(c.Filenames))+`)`)
		for _, f := range c.Filenames {
			args = append(args, f)
		}
	}
	if c.ContractClass != "" {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM attachment_contract_classes cc
			 WHERE cc.hash = attachments.hash AND cc.class_name = ?)`)
		args = append(args, c.ContractClass)
	}
	if c.MinVersion > 0 {
		conds = append(conds, `version >= ?`)
		args = append(args, c.MinVersion)
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}

	orderBy, err := sortColumn(c.SortBy)
	if err != nil {
		return nil, err
	}
	query += ` ORDER BY ` + orderBy
	if c.SortDir == attach.SortDesc {
		query += ` DESC`
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []digest.Digest
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, digest.Digest(h))
	}
	return hashes, rows.Err()
}

func (t *recordTx) childValues(ctx context.Context, query, hash string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, query, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// sortColumn maps a SortField to a column, rejecting anything outside the
// allowlist so criteria can never inject SQL.
func sortColumn(f attach.SortField) (string, error) {
	switch f {
	case "", attach.SortByInsertedAt:
		return "inserted_at", nil
	case attach.SortByFilename:
		return "filename", nil
	case attach.SortByVersion:
		return "version", nil
	default:
		return "", fmt.Errorf("unsupported sort field %q", f)
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
