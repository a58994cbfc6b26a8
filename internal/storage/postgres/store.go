// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/shortlink-edge/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements the link, partner-link and invoice repositories.
type Store struct {
	pool querier
}

var (
	_ store.PartnerLinkRepository = (*Store)(nil)
	_ store.InvoiceRepository     = (*Store)(nil)
	_ store.LinkRepository        = (*Store)(nil)
)

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ListPartnerProgramIDs returns the IDs of the programs a partner is enrolled in.
func (s *Store) ListPartnerProgramIDs(ctx context.Context, partnerID string) ([]string, error) {
	query := `
		SELECT program_id
		FROM program_enrollments
		WHERE partner_id = $1;
	`
	rows, err := s.pool.Query(ctx, query, partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list program enrollments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan program enrollment: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate program enrollments: %w", err)
	}
	return ids, nil
}

// ListPartnerLinks returns the domain/key of every link the partner owns in programIDs.
func (s *Store) ListPartnerLinks(ctx context.Context, partnerID string, programIDs []string) ([]store.LinkRef, error) {
	if len(programIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT domain, key
		FROM links
		WHERE partner_id = $1 AND program_id = ANY($2);
	`
	rows, err := s.pool.Query(ctx, query, partnerID, programIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list partner links: %w", err)
	}
	defer rows.Close()

	var refs []store.LinkRef
	for rows.Next() {
		var ref store.LinkRef
		if err := rows.Scan(&ref.Domain, &ref.Key); err != nil {
			return nil, fmt.Errorf("failed to scan partner link: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate partner links: %w", err)
	}
	return refs, nil
}

// GetInvoice loads an invoice with its count of processing payouts.
func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (store.Invoice, error) {
	query := `
		SELECT i.id, i.program_id, i.workspace_id, i.total,
			(SELECT COUNT(*) FROM payouts p WHERE p.invoice_id = i.id AND p.status = 'processing')
		FROM invoices i
		WHERE i.id = $1;
	`
	var inv store.Invoice
	err := s.pool.QueryRow(ctx, query, invoiceID).Scan(
		&inv.ID,
		&inv.ProgramID,
		&inv.WorkspaceID,
		&inv.Total,
		&inv.ProcessingPayouts,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Invoice{}, store.ErrNotFound
		}
		return store.Invoice{}, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// GetLink resolves a short link by domain and key. Keys are matched case-insensitively.
func (s *Store) GetLink(ctx context.Context, domain, key string) (store.Link, error) {
	query := `
		SELECT id, domain, key, url, program_id, partner_id, expires_at, expired_url
		FROM links
		WHERE domain = $1 AND lower(key) = lower($2)
		LIMIT 1;
	`
	var (
		link       store.Link
		programID  *string
		partnerID  *string
		expiredURL *string
	)
	err := s.pool.QueryRow(ctx, query, domain, key).Scan(
		&link.ID,
		&link.Domain,
		&link.Key,
		&link.URL,
		&programID,
		&partnerID,
		&link.ExpiresAt,
		&expiredURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Link{}, store.ErrNotFound
		}
		return store.Link{}, fmt.Errorf("failed to get link: %w", err)
	}
	link.ProgramID = deref(programID)
	link.PartnerID = deref(partnerID)
	link.ExpiredURL = deref(expiredURL)
	return link, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
