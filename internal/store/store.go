package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// LinkRef identifies a short link by its domain and key, which is also how
// the link cache is keyed.
type LinkRef struct {
	Domain string `json:"domain"`
	Key    string `json:"key"`
}

// Link is the subset of a short link needed to redirect.
type Link struct {
	ID        string     `json:"id"`
	Domain    string     `json:"domain"`
	Key       string     `json:"key"`
	URL       string     `json:"url"`
	ProgramID string     `json:"programId,omitempty"`
	PartnerID string     `json:"partnerId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	// ExpiredURL replaces URL once ExpiresAt has passed.
	ExpiredURL string `json:"expiredUrl,omitempty"`
}

// Destination returns the URL a visitor should be sent to at now. It is empty
// when the link has expired without a replacement.
func (l Link) Destination(now time.Time) string {
	if l.ExpiresAt != nil && now.After(*l.ExpiresAt) {
		return l.ExpiredURL
	}
	return l.URL
}

// Invoice is a payout invoice together with the number of payouts still in
// the processing state.
type Invoice struct {
	ID                string `json:"id"`
	ProgramID         string `json:"programId"`
	WorkspaceID       string `json:"workspaceId"`
	Total             int64  `json:"total"`
	ProcessingPayouts int    `json:"processingPayouts"`
}

// PartnerLinkRepository lists the links owned by a partner.
type PartnerLinkRepository interface {
	// ListPartnerProgramIDs returns the programs the partner is enrolled in.
	ListPartnerProgramIDs(ctx context.Context, partnerID string) ([]string, error)
	// ListPartnerLinks returns the partner's links within the given programs.
	ListPartnerLinks(ctx context.Context, partnerID string, programIDs []string) ([]LinkRef, error)
}

// InvoiceRepository loads invoices for payout processing.
type InvoiceRepository interface {
	// GetInvoice returns the invoice or ErrNotFound.
	GetInvoice(ctx context.Context, invoiceID string) (Invoice, error)
}

// LinkRepository resolves short links.
type LinkRepository interface {
	// GetLink returns the link for domain/key or ErrNotFound.
	GetLink(ctx context.Context, domain, key string) (Link, error)
}
