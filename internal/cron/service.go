package cron

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/shortlink-edge/internal/apierr"
	"github.com/JakeFAU/shortlink-edge/internal/imports"
	"github.com/JakeFAU/shortlink-edge/internal/payouts"
	"github.com/JakeFAU/shortlink-edge/internal/requestlog"
	"github.com/JakeFAU/shortlink-edge/internal/store"
	"github.com/JakeFAU/shortlink-edge/internal/telemetry"
)

// SkipMessage is returned by every route while cron is disabled.
const SkipMessage = "Skipping cron job on Vercel build"

const (
	defaultMaxBodyBytes  = 1 << 20
	defaultChargeTimeout = 10 * time.Minute
)

// Route paths.
const (
	PathFirstPromoterImport = "/api/cron/import/firstpromoter"
	PathToltImport          = "/api/cron/import/tolt"
	PathInvalidatePartners  = "/api/cron/links/invalidate-for-partners"
	PathAggregateDue        = "/api/cron/payouts/aggregate-due-commissions"
	PathChargeSucceeded     = "/api/cron/payouts/charge-succeeded"
)

// LinkExpirer drops cached links.
type LinkExpirer interface {
	ExpireMany(ctx context.Context, refs []store.LinkRef) error
}

// Deps are the collaborators reached by the job routes. Any of them may be
// nil; the routes that need a missing one answer 500.
type Deps struct {
	FirstPromoter imports.FirstPromoterImporter
	Tolt          imports.ToltImporter
	PartnerLinks  store.PartnerLinkRepository
	LinkCache     LinkExpirer
	Invoices      store.InvoiceRepository
	Dispatchers   []payouts.Dispatcher
	Aggregator    payouts.Aggregator
	// Alerts receives failure entries for the payout routes.
	Alerts requestlog.Emitter
}

// Options tune route behavior.
type Options struct {
	// Disabled answers every route with SkipMessage without reading the body.
	Disabled      bool
	MaxBodyBytes  int64
	ChargeTimeout time.Duration
}

// Service serves the cron routes.
type Service struct {
	signed     Verifier
	cronSecret Verifier
	deps       Deps
	opts       Options
	validate   *validator.Validate
	logger     *zap.Logger

	firstPromoterActions map[string]func(context.Context, imports.FirstPromoterPayload) error
	toltActions          map[string]func(context.Context, imports.ToltPayload) error
}

// NewService builds the action tables once; they are not modified afterwards.
func NewService(signed, cronSecret Verifier, deps Deps, opts Options, logger *zap.Logger) (*Service, error) {
	if signed == nil {
		return nil, errors.New("signature verifier is required")
	}
	if cronSecret == nil {
		return nil, errors.New("cron secret verifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.ChargeTimeout <= 0 {
		opts.ChargeTimeout = defaultChargeTimeout
	}
	s := &Service{
		signed:     signed,
		cronSecret: cronSecret,
		deps:       deps,
		opts:       opts,
		validate:   newValidator(),
		logger:     logger,
	}
	if fp := deps.FirstPromoter; fp != nil {
		s.firstPromoterActions = map[string]func(context.Context, imports.FirstPromoterPayload) error{
			imports.ActionImportCampaigns:       fp.ImportCampaigns,
			imports.ActionImportPartners:        fp.ImportPartners,
			imports.ActionImportCustomers:       fp.ImportCustomers,
			imports.ActionImportCommissions:     fp.ImportCommissions,
			imports.ActionUpdateStripeCustomers: fp.UpdateStripeCustomers,
		}
	}
	if tolt := deps.Tolt; tolt != nil {
		s.toltActions = map[string]func(context.Context, imports.ToltPayload) error{
			imports.ActionImportPartners:        tolt.ImportPartners,
			imports.ActionImportLinks:           tolt.ImportLinks,
			imports.ActionImportCustomers:       tolt.ImportCustomers,
			imports.ActionImportCommissions:     tolt.ImportCommissions,
			imports.ActionUpdateStripeCustomers: tolt.UpdateStripeCustomers,
			imports.ActionCleanupPartners:       tolt.CleanupPartners,
		}
	}
	return s, nil
}

// Routes mounts the cron routes on r.
func (s *Service) Routes(r chi.Router) {
	aggregateFailed := &failureAlert{
		typ:     requestlog.TypeErrors,
		mention: true,
		prefix:  "Error aggregating due commissions into payouts",
	}
	chargeFailed := &failureAlert{typ: requestlog.TypeCron, prefix: "Error sending payouts for invoice"}

	r.Post(PathFirstPromoterImport, s.endpoint("import-firstpromoter", s.signed, s.importFirstPromoter, nil))
	r.Post(PathToltImport, s.endpoint("import-tolt", s.signed, s.importTolt, nil))
	r.Post(PathInvalidatePartners, s.endpoint("invalidate-for-partners", s.signed, s.invalidateForPartners, nil))
	r.Get(PathAggregateDue, s.endpoint("aggregate-due-commissions", s.cronSecret, s.aggregateDueCommissions, aggregateFailed))
	r.Post(PathAggregateDue, s.endpoint("aggregate-due-commissions", s.signed, s.aggregateDueCommissions, aggregateFailed))
	r.With(middleware.Timeout(s.opts.ChargeTimeout)).
		Post(PathChargeSucceeded, s.endpoint("charge-succeeded", s.signed, s.chargeSucceeded, chargeFailed))
}

// failureAlert mirrors every failure of a route to Deps.Alerts as
// "{prefix}: {message}".
type failureAlert struct {
	typ     requestlog.Type
	mention bool
	prefix  string
}

// reply is a successful job outcome. Text replies are plain-text bodies;
// otherwise JSON is encoded.
type reply struct {
	action string
	text   string
	json   any
}

func textReply(msg string) reply {
	return reply{text: msg}
}

type job func(ctx context.Context, body []byte) (reply, error)

func (s *Service) endpoint(name string, verifier Verifier, run job, onFailure *failureAlert) http.HandlerFunc {
	logger := s.logger.With(zap.String("route", name))
	fail := func(w http.ResponseWriter, err error, logger *zap.Logger) {
		if onFailure != nil {
			s.alert(onFailure.typ, onFailure.mention, onFailure.prefix+": "+failureMessage(err))
		}
		apierr.Handle(w, err, logger)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Disabled {
			telemetry.ObserveCronRun(name, "", "skipped")
			writeText(w, SkipMessage)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
		if err != nil {
			telemetry.ObserveCronRun(name, "", "rejected")
			fail(w, apierr.Wrap(apierr.BadRequest, "Unable to read request body.", err), logger)
			return
		}
		if err := verifier.Verify(r, body); err != nil {
			telemetry.ObserveCronRun(name, "", "unauthorized")
			fail(w, err, logger)
			return
		}

		rep, err := run(r.Context(), body)
		if err != nil {
			telemetry.ObserveCronRun(name, rep.action, "error")
			fail(w, err, logger.With(zap.String("action", rep.action)))
			return
		}
		telemetry.ObserveCronRun(name, rep.action, "ok")
		if rep.text != "" {
			logger.Info(rep.text)
			writeText(w, rep.text)
			return
		}
		apierr.WriteJSON(w, http.StatusOK, rep.json)
	}
}

// failureMessage is the client-facing message for typed errors and the
// innermost cause for everything else.
func failureMessage(err error) string {
	var apiErr *apierr.Error
	var validationErrs validator.ValidationErrors
	if errors.As(err, &apiErr) || errors.As(err, &validationErrs) {
		return apierr.From(err).Message
	}
	for next := errors.Unwrap(err); next != nil; next = errors.Unwrap(err) {
		err = next
	}
	return err.Error()
}

func writeText(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	// The status line is already sent; a failed body write has no recovery.
	_, _ = io.WriteString(w, msg)
}

func unknownAction(action string) error {
	return apierr.Newf(apierr.BadRequest, "Unknown action: %s", action)
}

func notConfigured(what string) error {
	return apierr.Newf(apierr.Internal, "%s is not configured.", what)
}

func (s *Service) importFirstPromoter(ctx context.Context, body []byte) (reply, error) {
	p, err := decode[imports.FirstPromoterPayload](s.validate, body)
	if err != nil {
		return reply{}, err
	}
	rep := reply{action: p.Action, json: "OK"}
	if s.firstPromoterActions == nil {
		return rep, notConfigured("FirstPromoter importer")
	}
	handler, ok := s.firstPromoterActions[p.Action]
	if !ok {
		return rep, unknownAction(p.Action)
	}
	if err := handler(ctx, p); err != nil {
		return rep, fmt.Errorf("firstpromoter %s: %w", p.Action, err)
	}
	return rep, nil
}

func (s *Service) importTolt(ctx context.Context, body []byte) (reply, error) {
	p, err := decode[imports.ToltPayload](s.validate, body)
	if err != nil {
		return reply{}, err
	}
	rep := reply{action: p.Action, json: "OK"}
	if s.toltActions == nil {
		return rep, notConfigured("Tolt importer")
	}
	handler, ok := s.toltActions[p.Action]
	if !ok {
		return rep, unknownAction(p.Action)
	}
	if err := handler(ctx, p); err != nil {
		return rep, fmt.Errorf("tolt %s: %w", p.Action, err)
	}
	return rep, nil
}
