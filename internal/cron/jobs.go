package cron

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/shortlink-edge/internal/requestlog"
	"github.com/JakeFAU/shortlink-edge/internal/store"
)

func (s *Service) invalidateForPartners(ctx context.Context, body []byte) (reply, error) {
	p, err := decode[InvalidatePartnerPayload](s.validate, body)
	if err != nil {
		return reply{}, err
	}
	if s.deps.PartnerLinks == nil || s.deps.LinkCache == nil {
		return reply{}, notConfigured("Link invalidation")
	}

	programIDs, err := s.deps.PartnerLinks.ListPartnerProgramIDs(ctx, p.PartnerID)
	if err != nil {
		return reply{}, fmt.Errorf("list programs for partner %s: %w", p.PartnerID, err)
	}
	refs, err := s.deps.PartnerLinks.ListPartnerLinks(ctx, p.PartnerID, programIDs)
	if err != nil {
		return reply{}, fmt.Errorf("list links for partner %s: %w", p.PartnerID, err)
	}
	if len(refs) == 0 {
		return textReply("No links found."), nil
	}
	if err := s.deps.LinkCache.ExpireMany(ctx, refs); err != nil {
		return reply{}, fmt.Errorf("invalidate links for partner %s: %w", p.PartnerID, err)
	}
	return textReply(fmt.Sprintf("Invalidated %d links.", len(refs))), nil
}

func (s *Service) aggregateDueCommissions(ctx context.Context, _ []byte) (reply, error) {
	if s.deps.Aggregator == nil {
		return reply{}, notConfigured("Payout aggregation")
	}
	if err := s.deps.Aggregator.AggregateDueCommissions(ctx); err != nil {
		return reply{}, fmt.Errorf("aggregate due commissions: %w", err)
	}
	return textReply("Finished aggregating due commissions into payouts for all batches."), nil
}

func (s *Service) chargeSucceeded(ctx context.Context, body []byte) (reply, error) {
	p, err := decode[ChargeSucceededPayload](s.validate, body)
	if err != nil {
		return reply{}, err
	}
	if s.deps.Invoices == nil {
		return reply{}, notConfigured("Invoice lookup")
	}

	invoice, err := s.deps.Invoices.GetInvoice(ctx, p.InvoiceID)
	if errors.Is(err, store.ErrNotFound) {
		return textReply(fmt.Sprintf("Invoice %s not found.", p.InvoiceID)), nil
	}
	if err != nil {
		return reply{}, fmt.Errorf("load invoice %s: %w", p.InvoiceID, err)
	}
	if invoice.ProcessingPayouts == 0 {
		return textReply(fmt.Sprintf("No payouts found with status 'processing' for invoice %s, skipping...", invoice.ID)), nil
	}

	s.dispatchAll(ctx, invoice)
	return textReply(fmt.Sprintf("Completed processing all payouts for invoice %s.", invoice.ID)), nil
}

// dispatchAll runs every dispatcher concurrently. A failing provider is
// logged and mirrored to the alert sink; it never cancels the others.
func (s *Service) dispatchAll(ctx context.Context, invoice store.Invoice) {
	var g errgroup.Group
	for _, d := range s.deps.Dispatchers {
		g.Go(func() error {
			if err := d.Dispatch(ctx, invoice); err != nil {
				s.logger.Error("payout dispatch failed",
					zap.String("provider", d.Provider()),
					zap.String("invoice_id", invoice.ID),
					zap.Error(err),
				)
				s.alert(requestlog.TypeCron, false,
					fmt.Sprintf("Error sending %s payouts for invoice %s: %v", d.Provider(), invoice.ID, err))
			}
			return nil
		})
	}
	// Each goroutine swallows its own error.
	_ = g.Wait()
}

func (s *Service) alert(typ requestlog.Type, mention bool, msg string) {
	if s.deps.Alerts == nil {
		return
	}
	entry := requestlog.NewEntry(typ, requestlog.LevelError, msg)
	entry.Mention = mention
	s.deps.Alerts.Emit(entry)
}
