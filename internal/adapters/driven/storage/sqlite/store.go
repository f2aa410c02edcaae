package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/scanpipe/internal/adapters/driven/storage/codec"
	"github.com/custodia-labs/scanpipe/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

var (
	_ driven.StoreConnector = (*Store)(nil)
	_ driven.SeedWriter     = (*Store)(nil)
	_ driven.StoreSession   = (*session)(nil)
)

// Store is a single-host relational store backed by one SQLite file.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewStore opens (creating if needed) the database at path and applies
// pending migrations. If path is empty, defaults to ~/.scanpipe/scanpipe.db.
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".scanpipe", "scanpipe.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL lets workers read while another connection writes.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: path,
		now:  time.Now,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Name identifies the store implementation.
func (s *Store) Name() string { return "sqlite" }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// TaskStore returns the housekeeping task store sharing this database.
func (s *Store) TaskStore() driven.TaskStore {
	return &taskStore{db: s.db}
}

// Connect reserves a connection from the pool.
func (s *Store) Connect(ctx context.Context) (driven.StoreSession, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return &session{store: s, conn: conn}, nil
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Seed Writer ====================

// UpsertMandate creates or replaces a mandate. The pattern version never
// goes backwards.
func (s *Store) UpsertMandate(ctx context.Context, m *domain.Mandate) error {
	if err := m.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mandates (id, name, input_dir, archive_dir, diagnostics_dir, poll_interval_ms,
			retention_ms, pattern_version, marker_policy, marker_prefix, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			input_dir = excluded.input_dir,
			archive_dir = excluded.archive_dir,
			diagnostics_dir = excluded.diagnostics_dir,
			poll_interval_ms = excluded.poll_interval_ms,
			retention_ms = excluded.retention_ms,
			pattern_version = max(mandates.pattern_version, excluded.pattern_version),
			marker_policy = excluded.marker_policy,
			marker_prefix = excluded.marker_prefix,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, m.ID, m.Name, m.InputDir, m.ArchiveDir, m.DiagnosticsDir, m.PollInterval.Milliseconds(),
		m.Retention.MaxAge.Milliseconds(), m.PatternVersion, string(m.MarkerPolicy), m.MarkerPrefix,
		boolToInt(m.Enabled), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("saving mandate: %w", err)
	}
	return nil
}

// ReplaceExpressions replaces a mandate's expression set and bumps its
// pattern version in one transaction.
func (s *Store) ReplaceExpressions(ctx context.Context, mandateID string, exprs []domain.KnownExpression) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx,
		"UPDATE mandates SET pattern_version = pattern_version + 1, updated_at = ? WHERE id = ?",
		s.now().UnixNano(), mandateID)
	if err != nil {
		return fmt.Errorf("bumping pattern version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mandate %s: %w", mandateID, domain.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM known_expressions WHERE mandate_id = ?", mandateID); err != nil {
		return fmt.Errorf("clearing expressions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO known_expressions (mandate_id, ordinal, id, vendor_id, pattern, kind, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for i, e := range exprs {
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", mandateID, i+1)
		}
		if _, err := stmt.ExecContext(ctx, mandateID, i+1, id, e.VendorID, e.Pattern,
			string(e.EffectiveKind()), e.Priority); err != nil {
			return fmt.Errorf("inserting expression %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// UpsertBanks creates or replaces bank entries.
func (s *Store) UpsertBanks(ctx context.Context, banks []domain.Bank) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO banks (country, code, name, bic) VALUES (?, ?, ?, ?)
		ON CONFLICT(country, code) DO UPDATE SET name = excluded.name, bic = excluded.bic
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range banks {
		if _, err := stmt.ExecContext(ctx, b.Country, b.Code, b.Name, b.BIC); err != nil {
			return fmt.Errorf("saving bank %s: %w", b.Key(), err)
		}
	}
	return tx.Commit()
}

// ==================== Session ====================

// session is a reserved connection.
type session struct {
	store *Store
	conn  *sql.Conn
}

// Ping verifies the connection is usable.
func (s *session) Ping(ctx context.Context) error {
	return unavailable(s.conn.PingContext(ctx))
}

// Close returns the connection to the pool.
func (s *session) Close() error {
	return s.conn.Close()
}

const mandateColumns = `id, name, input_dir, archive_dir, diagnostics_dir, poll_interval_ms,
	retention_ms, pattern_version, marker_policy, marker_prefix, enabled, updated_at`

// GetMandate returns a mandate by ID.
func (s *session) GetMandate(ctx context.Context, id string) (*domain.Mandate, error) {
	row := s.conn.QueryRowContext(ctx, "SELECT "+mandateColumns+" FROM mandates WHERE id = ?", id)
	m, err := scanMandate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mandate %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return m, nil
}

// ListMandates returns all mandates ordered by ID.
func (s *session) ListMandates(ctx context.Context) ([]domain.Mandate, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT "+mandateColumns+" FROM mandates ORDER BY id")
	if err != nil {
		return nil, unavailable(fmt.Errorf("querying mandates: %w", err))
	}
	defer rows.Close()

	var mandates []domain.Mandate //nolint:prealloc // size unknown from query
	for rows.Next() {
		m, err := scanMandate(rows)
		if err != nil {
			return nil, err
		}
		mandates = append(mandates, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Errorf("iterating mandates: %w", err))
	}
	return mandates, nil
}

// ListExpressions returns a mandate's expressions in insertion order.
func (s *session) ListExpressions(ctx context.Context, mandateID string) ([]domain.KnownExpression, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, mandate_id, vendor_id, pattern, kind, priority, ordinal
		FROM known_expressions WHERE mandate_id = ? ORDER BY ordinal
	`, mandateID)
	if err != nil {
		return nil, unavailable(fmt.Errorf("querying expressions: %w", err))
	}
	defer rows.Close()

	var exprs []domain.KnownExpression
	for rows.Next() {
		var (
			e    domain.KnownExpression
			kind string
		)
		if err := rows.Scan(&e.ID, &e.MandateID, &e.VendorID, &e.Pattern, &kind, &e.Priority, &e.Ordinal); err != nil {
			return nil, fmt.Errorf("scanning expression: %w", err)
		}
		e.Kind = domain.ExpressionKind(kind)
		exprs = append(exprs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Errorf("iterating expressions: %w", err))
	}
	return exprs, nil
}

// ListBanks returns the full bank reference table.
func (s *session) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT country, code, name, bic FROM banks ORDER BY country, code")
	if err != nil {
		return nil, unavailable(fmt.Errorf("querying banks: %w", err))
	}
	defer rows.Close()

	var banks []domain.Bank
	for rows.Next() {
		var b domain.Bank
		if err := rows.Scan(&b.Country, &b.Code, &b.Name, &b.BIC); err != nil {
			return nil, fmt.Errorf("scanning bank: %w", err)
		}
		banks = append(banks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Errorf("iterating banks: %w", err))
	}
	return banks, nil
}

// InsertResult stores a result. An existing (mandate, batch, page range)
// yields domain.ErrAlreadyExists.
func (s *session) InsertResult(ctx context.Context, r *domain.OcrResult) error {
	cols, err := codec.EncodeResult(r)
	if err != nil {
		return err
	}
	createdAt := s.store.now()

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO ocr_results (id, mandate_id, batch_id, batch_name, first_page, last_page,
			vendor_id, expression_id, matched_text, text, banks, routing, methods, failed_pages,
			status, error_class, error, processed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mandate_id, batch_id, first_page, last_page) DO NOTHING
	`, r.ID, r.MandateID, r.BatchID, r.BatchName, r.Range.First, r.Range.Last,
		nullString(r.VendorID), nullString(r.ExpressionID), nullString(r.MatchedText), r.Text,
		cols.Banks, cols.Routing, cols.Methods, cols.FailedPages,
		string(r.Status), nullString(string(r.ErrorClass)), nullString(r.Error),
		r.ProcessedAt.UnixNano(), createdAt.UnixNano())
	if err != nil {
		return unavailable(fmt.Errorf("inserting result: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("result %s/%s pages %s: %w", r.MandateID, r.BatchID, r.Range, domain.ErrAlreadyExists)
	}
	r.CreatedAt = createdAt
	return nil
}

// ListResults returns a mandate's results, newest first.
func (s *session) ListResults(ctx context.Context, mandateID string, filter domain.ResultFilter) ([]domain.OcrResult, error) {
	query := `
		SELECT id, mandate_id, batch_id, batch_name, first_page, last_page, vendor_id, expression_id,
			matched_text, text, banks, routing, methods, failed_pages, status, error_class, error,
			processed_at, created_at
		FROM ocr_results WHERE mandate_id = ?`
	args := []any{mandateID}
	if filter.BatchID != "" {
		query += " AND batch_id = ?"
		args = append(args, filter.BatchID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UnixNano())
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(fmt.Errorf("querying results: %w", err))
	}
	defer rows.Close()

	var results []domain.OcrResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Errorf("iterating results: %w", err))
	}
	return results, nil
}

// ==================== Helper Functions ====================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMandate(row scanner) (*domain.Mandate, error) {
	var (
		m                   domain.Mandate
		pollMS, retentionMS int64
		policy              string
		enabled             int
		updatedAt           int64
	)
	if err := row.Scan(&m.ID, &m.Name, &m.InputDir, &m.ArchiveDir, &m.DiagnosticsDir, &pollMS,
		&retentionMS, &m.PatternVersion, &policy, &m.MarkerPrefix, &enabled, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning mandate: %w", err)
	}
	m.PollInterval = time.Duration(pollMS) * time.Millisecond
	m.Retention.MaxAge = time.Duration(retentionMS) * time.Millisecond
	m.MarkerPolicy = domain.MarkerPolicy(policy)
	m.Enabled = enabled == 1
	m.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &m, nil
}

func scanResult(row scanner) (*domain.OcrResult, error) {
	var (
		r                                   domain.OcrResult
		vendorID, exprID, matched, errClass sql.NullString
		errMsg                              sql.NullString
		cols                                codec.ResultColumns
		status                              string
		processedAt, createdAt              int64
	)
	if err := row.Scan(&r.ID, &r.MandateID, &r.BatchID, &r.BatchName, &r.Range.First, &r.Range.Last,
		&vendorID, &exprID, &matched, &r.Text, &cols.Banks, &cols.Routing, &cols.Methods,
		&cols.FailedPages, &status, &errClass, &errMsg, &processedAt, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning result: %w", err)
	}
	r.VendorID = vendorID.String
	r.ExpressionID = exprID.String
	r.MatchedText = matched.String
	r.Status = domain.ResultStatus(status)
	r.ErrorClass = domain.ErrorClass(errClass.String)
	r.Error = errMsg.String
	r.ProcessedAt = time.Unix(0, processedAt).UTC()
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	if err := codec.DecodeResult(cols, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// unavailable marks errors caused by a lost connection.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}

// nullString stores empty strings as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
