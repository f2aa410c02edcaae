// Package postgres provides the network relational store for scanpipe,
// shared by every host that processes mandates.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodia-labs/scanpipe/internal/adapters/driven/storage/codec"
	"github.com/custodia-labs/scanpipe/internal/adapters/driven/storage/postgres/migrations"
	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

var (
	_ driven.StoreConnector = (*Store)(nil)
	_ driven.SeedWriter     = (*Store)(nil)
	_ driven.StoreSession   = (*session)(nil)
)

// Store manages a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time

	migrateMu sync.Mutex
	migrated  bool
}

// NewStore parses dsn and creates the pool. The pool connects lazily, so
// an unreachable server does not fail construction; Connect reports it.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", domain.ErrInvalidInput)
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &Store{pool: pool, now: time.Now}, nil
}

// Name identifies the store implementation.
func (s *Store) Name() string { return "postgres" }

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return unavailable(fmt.Errorf("creating schema_migrations table: %w", err))
	}

	var current int
	if err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return unavailable(fmt.Errorf("getting current version: %w", err))
	}

	entries, err := fs.ReadDir(migrations.FS, ".")
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
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		err = s.executeTransaction(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, string(content))
			return err
		})
		if err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}
	return nil
}

// Connect acquires a pooled connection. Pending migrations are applied
// on the first successful connect.
func (s *Store) Connect(ctx context.Context) (driven.StoreSession, error) {
	if err := s.ensureMigrated(ctx); err != nil {
		return nil, err
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return &session{store: s, conn: conn}, nil
}

func (s *Store) ensureMigrated(ctx context.Context) error {
	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()
	if s.migrated {
		return nil
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	s.migrated = true
	return nil
}

// executeTransaction runs txFunc in a transaction, rolling back on error.
func (s *Store) executeTransaction(ctx context.Context, txFunc func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable(fmt.Errorf("failed to begin transaction: %w", err))
	}

	if err := txFunc(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable(fmt.Errorf("failed to commit transaction: %w", err))
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mandates (id, name, input_dir, archive_dir, diagnostics_dir, poll_interval,
			retention, pattern_version, marker_policy, marker_prefix, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			input_dir = EXCLUDED.input_dir,
			archive_dir = EXCLUDED.archive_dir,
			diagnostics_dir = EXCLUDED.diagnostics_dir,
			poll_interval = EXCLUDED.poll_interval,
			retention = EXCLUDED.retention,
			pattern_version = GREATEST(mandates.pattern_version, EXCLUDED.pattern_version),
			marker_policy = EXCLUDED.marker_policy,
			marker_prefix = EXCLUDED.marker_prefix,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`, m.ID, m.Name, m.InputDir, m.ArchiveDir, m.DiagnosticsDir, int64(m.PollInterval),
		int64(m.Retention.MaxAge), m.PatternVersion, string(m.MarkerPolicy), m.MarkerPrefix,
		m.Enabled, s.now().UTC())
	if err != nil {
		return unavailable(fmt.Errorf("saving mandate: %w", err))
	}
	return nil
}

// ReplaceExpressions replaces a mandate's expression set and bumps its
// pattern version in one transaction.
func (s *Store) ReplaceExpressions(ctx context.Context, mandateID string, exprs []domain.KnownExpression) error {
	return s.executeTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"UPDATE mandates SET pattern_version = pattern_version + 1, updated_at = $1 WHERE id = $2",
			s.now().UTC(), mandateID)
		if err != nil {
			return fmt.Errorf("bumping pattern version: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("mandate %s: %w", mandateID, domain.ErrNotFound)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM known_expressions WHERE mandate_id = $1", mandateID); err != nil {
			return fmt.Errorf("clearing expressions: %w", err)
		}

		batch := &pgx.Batch{}
		for i, e := range exprs {
			id := e.ID
			if id == "" {
				id = fmt.Sprintf("%s-%d", mandateID, i+1)
			}
			batch.Queue(`
				INSERT INTO known_expressions (mandate_id, ordinal, id, vendor_id, pattern, kind, priority)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, mandateID, i+1, id, e.VendorID, e.Pattern, string(e.EffectiveKind()), e.Priority)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting expressions: %w", err)
		}
		return nil
	})
}

// UpsertBanks creates or replaces bank entries.
func (s *Store) UpsertBanks(ctx context.Context, banks []domain.Bank) error {
	return s.executeTransaction(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, b := range banks {
			batch.Queue(`
				INSERT INTO banks (country, code, name, bic) VALUES ($1, $2, $3, $4)
				ON CONFLICT (country, code) DO UPDATE SET name = EXCLUDED.name, bic = EXCLUDED.bic
			`, b.Country, b.Code, b.Name, b.BIC)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("saving banks: %w", err)
		}
		return nil
	})
}

// ==================== Session ====================

type session struct {
	store *Store
	conn  *pgxpool.Conn
}

// Ping verifies the connection is usable.
func (s *session) Ping(ctx context.Context) error {
	return unavailable(s.conn.Ping(ctx))
}

// Close releases the connection to the pool.
func (s *session) Close() error {
	s.conn.Release()
	return nil
}

const mandateColumns = `id, name, input_dir, archive_dir, diagnostics_dir, poll_interval,
	retention, pattern_version, marker_policy, marker_prefix, enabled, updated_at`

// GetMandate returns a mandate by ID.
func (s *session) GetMandate(ctx context.Context, id string) (*domain.Mandate, error) {
	row := s.conn.QueryRow(ctx, "SELECT "+mandateColumns+" FROM mandates WHERE id = $1", id)
	m, err := scanMandate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mandate %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return m, nil
}

// ListMandates returns all mandates ordered by ID.
func (s *session) ListMandates(ctx context.Context) ([]domain.Mandate, error) {
	rows, err := s.conn.Query(ctx, "SELECT "+mandateColumns+" FROM mandates ORDER BY id")
	if err != nil {
		return nil, unavailable(fmt.Errorf("querying mandates: %w", err))
	}
	defer rows.Close()

	var mandates []domain.Mandate
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
	rows, err := s.conn.Query(ctx, `
		SELECT id, mandate_id, vendor_id, pattern, kind, priority, ordinal
		FROM known_expressions WHERE mandate_id = $1 ORDER BY ordinal
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
	rows, err := s.conn.Query(ctx, "SELECT country, code, name, bic FROM banks ORDER BY country, code")
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
	createdAt := s.store.now().UTC()

	tag, err := s.conn.Exec(ctx, `
		INSERT INTO ocr_results (id, mandate_id, batch_id, batch_name, first_page, last_page,
			vendor_id, expression_id, matched_text, text, banks, routing, methods, failed_pages,
			status, error_class, error, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11::jsonb, $12::jsonb, $13::jsonb, $14::jsonb, $15, $16, $17, $18, $19)
		ON CONFLICT ON CONSTRAINT ocr_results_document_key DO NOTHING
	`, r.ID, r.MandateID, r.BatchID, r.BatchName, r.Range.First, r.Range.Last,
		nullString(r.VendorID), nullString(r.ExpressionID), nullString(r.MatchedText), r.Text,
		cols.Banks, cols.Routing, cols.Methods, cols.FailedPages,
		string(r.Status), nullString(string(r.ErrorClass)), nullString(r.Error),
		r.ProcessedAt.UTC(), createdAt)
	if err != nil {
		return unavailable(fmt.Errorf("inserting result: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("result %s/%s pages %s: %w", r.MandateID, r.BatchID, r.Range, domain.ErrAlreadyExists)
	}
	r.CreatedAt = createdAt
	return nil
}

// ListResults returns a mandate's results, newest first.
func (s *session) ListResults(ctx context.Context, mandateID string, filter domain.ResultFilter) ([]domain.OcrResult, error) {
	var (
		b    strings.Builder
		args = []any{mandateID}
	)
	b.WriteString(`
		SELECT id, mandate_id, batch_id, batch_name, first_page, last_page, vendor_id, expression_id,
			matched_text, text, banks::text, COALESCE(routing::text, 'null'), COALESCE(methods::text, 'null'),
			COALESCE(failed_pages::text, 'null'), status, error_class, error, processed_at, created_at
		FROM ocr_results WHERE mandate_id = $1`)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.BatchID != "" {
		b.WriteString(" AND batch_id = " + arg(filter.BatchID))
	}
	if filter.Status != "" {
		b.WriteString(" AND status = " + arg(string(filter.Status)))
	}
	if !filter.Since.IsZero() {
		b.WriteString(" AND created_at >= " + arg(filter.Since.UTC()))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}

	rows, err := s.conn.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, unavailable(fmt.Errorf("querying results: %w", err))
	}
	defer rows.Close()

	var results []domain.OcrResult
	for rows.Next() {
		var (
			r                         domain.OcrResult
			vendorID, exprID, matched *string
			errClass, errMsg          *string
			cols                      codec.ResultColumns
			status                    string
		)
		if err := rows.Scan(&r.ID, &r.MandateID, &r.BatchID, &r.BatchName, &r.Range.First, &r.Range.Last,
			&vendorID, &exprID, &matched, &r.Text, &cols.Banks, &cols.Routing, &cols.Methods,
			&cols.FailedPages, &status, &errClass, &errMsg, &r.ProcessedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		r.VendorID = deref(vendorID)
		r.ExpressionID = deref(exprID)
		r.MatchedText = deref(matched)
		r.Status = domain.ResultStatus(status)
		r.ErrorClass = domain.ErrorClass(deref(errClass))
		r.Error = deref(errMsg)
		if err := codec.DecodeResult(cols, &r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(fmt.Errorf("iterating results: %w", err))
	}
	return results, nil
}

// ==================== Helper Functions ====================

func scanMandate(row pgx.Row) (*domain.Mandate, error) {
	var (
		m               domain.Mandate
		poll, retention int64
		policy          string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.InputDir, &m.ArchiveDir, &m.DiagnosticsDir, &poll,
		&retention, &m.PatternVersion, &policy, &m.MarkerPrefix, &m.Enabled, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning mandate: %w", err)
	}
	m.PollInterval = time.Duration(poll)
	m.Retention.MaxAge = time.Duration(retention)
	m.MarkerPolicy = domain.MarkerPolicy(policy)
	return &m, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// unavailable marks errors caused by lost connectivity. Errors the server
// answered with are returned as they are, except connection-class SQLSTATEs.
func unavailable(err error) error {
	if err == nil || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception. 57P01..57P03: server shutting down or starting.
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0") {
			return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}
