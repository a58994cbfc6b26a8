// Package payouts hands invoice payouts and commission aggregation to the
// payout workers through a queue.
package payouts

import (
	"context"
	"fmt"

	"github.com/JakeFAU/shortlink-edge/internal/publisher"
	"github.com/JakeFAU/shortlink-edge/internal/store"
	"github.com/JakeFAU/shortlink-edge/internal/telemetry"
)

// Payout providers, one dispatcher each.
const (
	ProviderStripe   = "stripe"
	ProviderPayPal   = "paypal"
	ProviderExternal = "external"
)

// AggregateBatchSize is the number of due commissions a worker folds into
// payouts per pass.
const AggregateBatchSize = 1000

// Dispatcher sends the processing payouts of an invoice through one provider.
type Dispatcher interface {
	Provider() string
	Dispatch(ctx context.Context, invoice store.Invoice) error
}

// Aggregator folds due commissions into payouts.
type Aggregator interface {
	AggregateDueCommissions(ctx context.Context) error
}

// DispatchJob is the message published for a payout worker.
type DispatchJob struct {
	Provider    string `json:"provider"`
	InvoiceID   string `json:"invoiceId"`
	ProgramID   string `json:"programId"`
	WorkspaceID string `json:"workspaceId"`
	Total       int64  `json:"total"`
}

// AggregateJob is the message that starts a commission aggregation run.
type AggregateJob struct {
	Job       string `json:"job"`
	BatchSize int    `json:"batchSize"`
}

// QueueDispatcher publishes a DispatchJob for its provider.
type QueueDispatcher struct {
	provider  string
	publisher publisher.Publisher
	topic     string
}

// NewQueueDispatcher builds a dispatcher for provider publishing to topic.
func NewQueueDispatcher(provider string, pub publisher.Publisher, topic string) (*QueueDispatcher, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("payouts topic is required")
	}
	switch provider {
	case ProviderStripe, ProviderPayPal, ProviderExternal:
	default:
		return nil, fmt.Errorf("unknown payout provider %q", provider)
	}
	return &QueueDispatcher{provider: provider, publisher: pub, topic: topic}, nil
}

// NewQueueDispatchers returns the Stripe, PayPal and external dispatchers.
func NewQueueDispatchers(pub publisher.Publisher, topic string) ([]Dispatcher, error) {
	out := make([]Dispatcher, 0, 3)
	for _, provider := range []string{ProviderStripe, ProviderPayPal, ProviderExternal} {
		d, err := NewQueueDispatcher(provider, pub, topic)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Provider implements Dispatcher.
func (d *QueueDispatcher) Provider() string {
	return d.provider
}

// Dispatch implements Dispatcher.
func (d *QueueDispatcher) Dispatch(ctx context.Context, invoice store.Invoice) error {
	job := DispatchJob{
		Provider:    d.provider,
		InvoiceID:   invoice.ID,
		ProgramID:   invoice.ProgramID,
		WorkspaceID: invoice.WorkspaceID,
		Total:       invoice.Total,
	}
	if _, err := d.publisher.Publish(ctx, d.topic, job); err != nil {
		telemetry.ObservePayoutDispatch(d.provider, "error")
		return fmt.Errorf("queue %s payouts for invoice %s: %w", d.provider, invoice.ID, err)
	}
	telemetry.ObservePayoutDispatch(d.provider, "queued")
	return nil
}

// QueueAggregator publishes an AggregateJob.
type QueueAggregator struct {
	publisher publisher.Publisher
	topic     string
}

// NewQueueAggregator builds an aggregator publishing to topic.
func NewQueueAggregator(pub publisher.Publisher, topic string) (*QueueAggregator, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("payouts topic is required")
	}
	return &QueueAggregator{publisher: pub, topic: topic}, nil
}

// AggregateDueCommissions implements Aggregator.
func (a *QueueAggregator) AggregateDueCommissions(ctx context.Context) error {
	job := AggregateJob{Job: "aggregate-due-commissions", BatchSize: AggregateBatchSize}
	if _, err := a.publisher.Publish(ctx, a.topic, job); err != nil {
		return fmt.Errorf("queue commission aggregation: %w", err)
	}
	return nil
}
