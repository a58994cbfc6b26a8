// Package imports defines the partner-program import jobs triggered by the
// cron queue and a queue-backed importer that hands them to the import workers.
package imports

import (
	"context"
	"fmt"

	"github.com/JakeFAU/shortlink-edge/internal/publisher"
)

// Provider names an external affiliate platform.
type Provider string

// Supported import providers.
const (
	ProviderFirstPromoter Provider = "firstpromoter"
	ProviderTolt          Provider = "tolt"
)

// Import actions. Not every provider supports every action.
const (
	ActionImportCampaigns       = "import-campaigns"
	ActionImportPartners        = "import-partners"
	ActionImportLinks           = "import-links"
	ActionImportCustomers       = "import-customers"
	ActionImportCommissions     = "import-commissions"
	ActionUpdateStripeCustomers = "update-stripe-customers"
	ActionCleanupPartners       = "cleanup-partners"
)

// FirstPromoterPayload is one step of a FirstPromoter import.
type FirstPromoterPayload struct {
	ImportID  string `json:"importId" validate:"required"`
	ProgramID string `json:"programId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	Action    string `json:"action" validate:"required"`
	// Page is the 1-based page to resume from.
	Page *int `json:"page,omitempty" validate:"omitempty,min=1"`
}

// ToltPayload is one step of a Tolt import.
type ToltPayload struct {
	ImportID      string `json:"importId" validate:"required"`
	ProgramID     string `json:"programId" validate:"required"`
	UserID        string `json:"userId" validate:"required"`
	Action        string `json:"action" validate:"required"`
	StartingAfter string `json:"startingAfter,omitempty"`
}

// FirstPromoterImporter runs the FirstPromoter import steps.
type FirstPromoterImporter interface {
	ImportCampaigns(ctx context.Context, p FirstPromoterPayload) error
	ImportPartners(ctx context.Context, p FirstPromoterPayload) error
	ImportCustomers(ctx context.Context, p FirstPromoterPayload) error
	ImportCommissions(ctx context.Context, p FirstPromoterPayload) error
	UpdateStripeCustomers(ctx context.Context, p FirstPromoterPayload) error
}

// ToltImporter runs the Tolt import steps.
type ToltImporter interface {
	ImportPartners(ctx context.Context, p ToltPayload) error
	ImportLinks(ctx context.Context, p ToltPayload) error
	ImportCustomers(ctx context.Context, p ToltPayload) error
	ImportCommissions(ctx context.Context, p ToltPayload) error
	UpdateStripeCustomers(ctx context.Context, p ToltPayload) error
	CleanupPartners(ctx context.Context, p ToltPayload) error
}

// Job is the message published for an import worker.
type Job struct {
	Provider Provider `json:"provider"`
	Action   string   `json:"action"`
	Payload  any      `json:"payload"`
}

// Queue forwards import steps to the import workers through a topic.
type Queue struct {
	publisher publisher.Publisher
	topic     string
}

var (
	_ FirstPromoterImporter = FirstPromoterQueue{}
	_ ToltImporter          = ToltQueue{}
)

// NewQueue builds a Queue publishing to topic.
func NewQueue(pub publisher.Publisher, topic string) (*Queue, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("imports topic is required")
	}
	return &Queue{publisher: pub, topic: topic}, nil
}

func (q *Queue) forward(ctx context.Context, provider Provider, action string, payload any) error {
	if _, err := q.publisher.Publish(ctx, q.topic, Job{Provider: provider, Action: action, Payload: payload}); err != nil {
		return fmt.Errorf("forward %s %s: %w", provider, action, err)
	}
	return nil
}

// FirstPromoter returns the FirstPromoter view of the queue.
func (q *Queue) FirstPromoter() FirstPromoterQueue {
	return FirstPromoterQueue{q: q}
}

// Tolt returns the Tolt view of the queue.
func (q *Queue) Tolt() ToltQueue {
	return ToltQueue{q: q}
}

// FirstPromoterQueue implements FirstPromoterImporter by forwarding.
type FirstPromoterQueue struct {
	q *Queue
}

func (f FirstPromoterQueue) ImportCampaigns(ctx context.Context, p FirstPromoterPayload) error {
	return f.q.forward(ctx, ProviderFirstPromoter, ActionImportCampaigns, p)
}

func (f FirstPromoterQueue) ImportPartners(ctx context.Context, p FirstPromoterPayload) error {
	return f.q.forward(ctx, ProviderFirstPromoter, ActionImportPartners, p)
}

func (f FirstPromoterQueue) ImportCustomers(ctx context.Context, p FirstPromoterPayload) error {
	return f.q.forward(ctx, ProviderFirstPromoter, ActionImportCustomers, p)
}

func (f FirstPromoterQueue) ImportCommissions(ctx context.Context, p FirstPromoterPayload) error {
	return f.q.forward(ctx, ProviderFirstPromoter, ActionImportCommissions, p)
}

func (f FirstPromoterQueue) UpdateStripeCustomers(ctx context.Context, p FirstPromoterPayload) error {
	return f.q.forward(ctx, ProviderFirstPromoter, ActionUpdateStripeCustomers, p)
}

// ToltQueue implements ToltImporter by forwarding.
type ToltQueue struct {
	q *Queue
}

func (t ToltQueue) ImportPartners(ctx context.Context, p ToltPayload) error {
	return t.q.forward(ctx, ProviderTolt, ActionImportPartners, p)
}

func (t ToltQueue) ImportLinks(ctx context.Context, p ToltPayload) error {
	return t.q.forward(ctx, ProviderTolt, ActionImportLinks, p)
}

func (t ToltQueue) ImportCustomers(ctx context.Context, p ToltPayload) error {
	return t.q.forward(ctx, ProviderTolt, ActionImportCustomers, p)
}

func (t ToltQueue) ImportCommissions(ctx context.Context, p ToltPayload) error {
	return t.q.forward(ctx, ProviderTolt, ActionImportCommissions, p)
}

func (t ToltQueue) UpdateStripeCustomers(ctx context.Context, p ToltPayload) error {
	return t.q.forward(ctx, ProviderTolt, ActionUpdateStripeCustomers, p)
}

func (t ToltQueue) CleanupPartners(ctx context.Context, p ToltPayload) error {
	return t.q.forward(ctx, ProviderTolt, ActionCleanupPartners, p)
}
