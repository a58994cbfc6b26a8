package cron

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/shortlink-edge/internal/apierr"
	"github.com/JakeFAU/shortlink-edge/internal/imports"
	"github.com/JakeFAU/shortlink-edge/internal/links"
	"github.com/JakeFAU/shortlink-edge/internal/payouts"
	"github.com/JakeFAU/shortlink-edge/internal/publisher/memory"
	"github.com/JakeFAU/shortlink-edge/internal/requestlog"
	"github.com/JakeFAU/shortlink-edge/internal/store"
)

const testCronSecret = "cron_secret"

type recordingEmitter struct {
	mu      sync.Mutex
	entries []requestlog.Entry
}

func (r *recordingEmitter) Emit(entry requestlog.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingEmitter) Entries() []requestlog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]requestlog.Entry(nil), r.entries...)
}

type fakePartnerLinks struct {
	programs []string
	links    []store.LinkRef
	err      error
	gotIDs   []string
}

func (f *fakePartnerLinks) ListPartnerProgramIDs(_ context.Context, _ string) ([]string, error) {
	return f.programs, f.err
}

func (f *fakePartnerLinks) ListPartnerLinks(_ context.Context, _ string, programIDs []string) ([]store.LinkRef, error) {
	f.gotIDs = programIDs
	return f.links, f.err
}

type fakeInvoices struct {
	invoice store.Invoice
	err     error
}

func (f fakeInvoices) GetInvoice(_ context.Context, invoiceID string) (store.Invoice, error) {
	if f.err != nil {
		return store.Invoice{}, f.err
	}
	if f.invoice.ID != invoiceID {
		return store.Invoice{}, store.ErrNotFound
	}
	return f.invoice, nil
}

type fakeDispatcher struct {
	provider string
	err      error
	mu       sync.Mutex
	calls    []string
}

func (f *fakeDispatcher) Provider() string { return f.provider }

func (f *fakeDispatcher) Dispatch(_ context.Context, invoice store.Invoice) error {
	f.mu.Lock()
	f.calls = append(f.calls, invoice.ID)
	f.mu.Unlock()
	return f.err
}

func (f *fakeDispatcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeAggregator struct {
	err   error
	calls int
}

func (f *fakeAggregator) AggregateDueCommissions(context.Context) error {
	f.calls++
	return f.err
}

func newTestRouter(t *testing.T, deps Deps, opts Options) http.Handler {
	t.Helper()
	signed, err := NewQStashVerifier(testCurrentKey, testNextKey, testPublicURL, time.Second)
	require.NoError(t, err)
	svc, err := NewService(signed, NewCronSecretVerifier(testCronSecret), deps, opts, zap.NewNop())
	require.NoError(t, err)
	r := chi.NewRouter()
	svc.Routes(r)
	return r
}

func newImportQueue(t *testing.T) (*imports.Queue, *memory.Publisher) {
	t.Helper()
	pub := memory.New()
	q, err := imports.NewQueue(pub, "imports")
	require.NoError(t, err)
	return q, pub
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apierr.BodyError {
	t.Helper()
	var body apierr.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestImportRoutesRejectBadSignatures(t *testing.T) {
	t.Parallel()

	q, pub := newImportQueue(t)
	h := newTestRouter(t, Deps{FirstPromoter: q.FirstPromoter(), Tolt: q.Tolt()}, Options{})
	body := `{"importId":"imp_1","programId":"prog_1","userId":"user_1","action":"import-partners"}`

	unsigned := httptest.NewRequest(http.MethodPost, PathToltImport, strings.NewReader(body))
	rec := serve(h, unsigned)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, apierr.Unauthorized, decodeError(t, rec).Code)

	misSigned := signedRequest(t, "not_a_key", http.MethodPost, PathFirstPromoterImport, body)
	rec = serve(h, misSigned)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	require.Empty(t, pub.Messages())
}

func TestImportRoutesDispatchExactlyOneAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		key      string
		action   string
		provider imports.Provider
	}{
		{name: "firstpromoter campaigns", path: PathFirstPromoterImport, key: testCurrentKey, action: imports.ActionImportCampaigns, provider: imports.ProviderFirstPromoter},
		{name: "firstpromoter stripe customers", path: PathFirstPromoterImport, key: testNextKey, action: imports.ActionUpdateStripeCustomers, provider: imports.ProviderFirstPromoter},
		{name: "tolt links", path: PathToltImport, key: testCurrentKey, action: imports.ActionImportLinks, provider: imports.ProviderTolt},
		{name: "tolt cleanup", path: PathToltImport, key: testNextKey, action: imports.ActionCleanupPartners, provider: imports.ProviderTolt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q, pub := newImportQueue(t)
			h := newTestRouter(t, Deps{FirstPromoter: q.FirstPromoter(), Tolt: q.Tolt()}, Options{})
			body := `{"importId":"imp_1","programId":"prog_1","userId":"user_1","action":"` + tt.action + `"}`

			rec := serve(h, signedRequest(t, tt.key, http.MethodPost, tt.path, body))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.JSONEq(t, `"OK"`, rec.Body.String())

			msgs := pub.Messages()
			require.Len(t, msgs, 1)
			job, ok := msgs[0].Payload.(imports.Job)
			require.True(t, ok)
			require.Equal(t, tt.provider, job.Provider)
			require.Equal(t, tt.action, job.Action)
		})
	}
}

func TestImportRoutesRejectUnknownAction(t *testing.T) {
	t.Parallel()

	q, pub := newImportQueue(t)
	h := newTestRouter(t, Deps{FirstPromoter: q.FirstPromoter(), Tolt: q.Tolt()}, Options{})

	// import-links is a Tolt action only.
	body := `{"importId":"imp_1","programId":"prog_1","userId":"user_1","action":"import-links"}`
	rec := serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathFirstPromoterImport, body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := decodeError(t, rec)
	require.Equal(t, "Unknown action: import-links", errBody.Message)
	require.Empty(t, pub.Messages())
}

func TestImportRoutesValidatePayload(t *testing.T) {
	t.Parallel()

	q, pub := newImportQueue(t)
	h := newTestRouter(t, Deps{FirstPromoter: q.FirstPromoter(), Tolt: q.Tolt()}, Options{})

	missing := `{"programId":"prog_1","userId":"user_1","action":"import-partners"}`
	rec := serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathToltImport, missing))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, decodeError(t, rec).Message, "importId")

	badPage := `{"importId":"imp_1","programId":"prog_1","userId":"user_1","action":"import-partners","page":0}`
	rec = serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathFirstPromoterImport, badPage))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	malformed := `{"importId":`
	rec = serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathToltImport, malformed))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	unknown := `{"importId":"imp_1","programId":"prog_1","userId":"user_1","action":"import-partners","extra":true}`
	rec = serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathToltImport, unknown))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeError(t, rec).Message, "extra")

	trailing := `{"importId":"imp_1","programId":"prog_1","userId":"user_1","action":"import-partners"} {}`
	rec = serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathToltImport, trailing))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Empty(t, pub.Messages())
}

func TestImportRouteSurfacesForwardErrors(t *testing.T) {
	t.Parallel()

	q, pub := newImportQueue(t)
	pub.FailWith(errors.New("topic gone"))
	h := newTestRouter(t, Deps{FirstPromoter: q.FirstPromoter(), Tolt: q.Tolt()}, Options{})

	body := `{"importId":"imp_1","programId":"prog_1","userId":"user_1","action":"import-customers"}`
	rec := serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathToltImport, body))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, apierr.Internal, decodeError(t, rec).Code)
}

func TestDisabledRoutesSkipWithoutSideEffects(t *testing.T) {
	t.Parallel()

	q, pub := newImportQueue(t)
	agg := &fakeAggregator{}
	partners := &fakePartnerLinks{links: []store.LinkRef{{Domain: "dub.sh", Key: "a"}}}
	h := newTestRouter(t, Deps{
		FirstPromoter: q.FirstPromoter(),
		Tolt:          q.Tolt(),
		Aggregator:    agg,
		PartnerLinks:  partners,
	}, Options{Disabled: true})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, PathFirstPromoterImport, strings.NewReader("not json")),
		httptest.NewRequest(http.MethodPost, PathToltImport, nil),
		httptest.NewRequest(http.MethodPost, PathInvalidatePartners, nil),
		httptest.NewRequest(http.MethodGet, PathAggregateDue, nil),
		httptest.NewRequest(http.MethodPost, PathChargeSucceeded, nil),
	} {
		rec := serve(h, req)
		require.Equal(t, http.StatusOK, rec.Code, req.URL.Path)
		require.Equal(t, SkipMessage, rec.Body.String())
	}

	require.Empty(t, pub.Messages())
	require.Zero(t, agg.calls)
	require.Nil(t, partners.gotIDs)
}

func TestInvalidateForPartners(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := links.NewCache(client, time.Hour)
	ctx := context.Background()
	for _, key := range []string{"a", "b"} {
		require.NoError(t, cache.Set(ctx, store.Link{Domain: "acme.link", Key: key, URL: "https://acme.com"}))
	}

	partners := &fakePartnerLinks{
		programs: []string{"prog_1"},
		links:    []store.LinkRef{{Domain: "acme.link", Key: "a"}, {Domain: "acme.link", Key: "b"}},
	}
	h := newTestRouter(t, Deps{PartnerLinks: partners, LinkCache: cache}, Options{})

	body := `{"partnerId":"pn_1"}`
	rec := serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathInvalidatePartners, body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Invalidated 2 links.", rec.Body.String())
	require.Equal(t, []string{"prog_1"}, partners.gotIDs)
	require.False(t, mr.Exists(links.CacheKey("acme.link", "a")))
	require.False(t, mr.Exists(links.CacheKey("acme.link", "b")))
}

func TestInvalidateForPartnersWithoutLinks(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t, Deps{PartnerLinks: &fakePartnerLinks{}, LinkCache: links.NewCache(nil, 0)}, Options{})

	rec := serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathInvalidatePartners, `{"partnerId":"pn_2"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "No links found.", rec.Body.String())

	rec = serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathInvalidatePartners, `{}`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAggregateDueCommissions(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregator{}
	h := newTestRouter(t, Deps{Aggregator: agg}, Options{})

	get := httptest.NewRequest(http.MethodGet, PathAggregateDue, nil)
	get.Header.Set("Authorization", "Bearer "+testCronSecret)
	rec := serve(h, get)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Finished aggregating due commissions into payouts for all batches.", rec.Body.String())

	rec = serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathAggregateDue, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	bad := httptest.NewRequest(http.MethodGet, PathAggregateDue, nil)
	bad.Header.Set("Authorization", "Bearer nope")
	rec = serve(h, bad)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// A signature does not stand in for the cron secret on GET.
	rec = serve(h, signedRequest(t, testCurrentKey, http.MethodGet, PathAggregateDue, ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	require.Equal(t, 2, agg.calls)
}

func TestAggregateDueCommissionsMirrorsFailure(t *testing.T) {
	t.Parallel()

	alerts := &recordingEmitter{}
	h := newTestRouter(t, Deps{Aggregator: &fakeAggregator{err: errors.New("db down")}, Alerts: alerts}, Options{})

	rec := serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathAggregateDue, ""))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	entries := alerts.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, requestlog.TypeErrors, entries[0].Type)
	require.True(t, entries[0].Mention)
	require.Equal(t, "Error aggregating due commissions into payouts: db down", entries[0].Message)
	require.NoError(t, entries[0].Validate())
}

func TestPayoutRoutesMirrorRejectedRequests(t *testing.T) {
	t.Parallel()

	alerts := &recordingEmitter{}
	agg := &fakeAggregator{}
	h := newTestRouter(t, Deps{
		Aggregator: agg,
		Invoices:   fakeInvoices{invoice: store.Invoice{ID: "inv_6", ProcessingPayouts: 1}},
		Alerts:     alerts,
	}, Options{})

	bad := httptest.NewRequest(http.MethodGet, PathAggregateDue, nil)
	bad.Header.Set("Authorization", "Bearer nope")
	require.Equal(t, http.StatusUnauthorized, serve(h, bad).Code)

	unsigned := httptest.NewRequest(http.MethodPost, PathChargeSucceeded, strings.NewReader(`{"invoiceId":"inv_6"}`))
	require.Equal(t, http.StatusUnauthorized, serve(h, unsigned).Code)

	rec := serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathChargeSucceeded, `{}`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Import routes are not mirrored.
	require.Equal(t, http.StatusUnauthorized, serve(h, httptest.NewRequest(http.MethodPost, PathToltImport, strings.NewReader(`{}`))).Code)

	entries := alerts.Entries()
	require.Len(t, entries, 3)

	require.Equal(t, requestlog.TypeErrors, entries[0].Type)
	require.True(t, entries[0].Mention)
	require.Equal(t, "Error aggregating due commissions into payouts: Invalid cron secret.", entries[0].Message)

	require.Equal(t, requestlog.TypeCron, entries[1].Type)
	require.False(t, entries[1].Mention)
	require.Equal(t, "Error sending payouts for invoice: Missing Upstash-Signature header.", entries[1].Message)

	require.Equal(t, requestlog.TypeCron, entries[2].Type)
	require.Contains(t, entries[2].Message, "invoiceId: Required")

	for _, entry := range entries {
		require.NoError(t, entry.Validate())
	}
	require.Zero(t, agg.calls)
}

func newDispatchers(failing string) []*fakeDispatcher {
	out := make([]*fakeDispatcher, 0, 3)
	for _, provider := range []string{payouts.ProviderStripe, payouts.ProviderPayPal, payouts.ProviderExternal} {
		d := &fakeDispatcher{provider: provider}
		if provider == failing {
			d.err = errors.New(provider + " unavailable")
		}
		out = append(out, d)
	}
	return out
}

func asDispatchers(in []*fakeDispatcher) []payouts.Dispatcher {
	out := make([]payouts.Dispatcher, len(in))
	for i, d := range in {
		out[i] = d
	}
	return out
}

func TestChargeSucceeded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		invoices fakeInvoices
		body     string
		status   int
		want     string
		calls    int
	}{
		{
			name:   "invoice missing",
			body:   `{"invoiceId":"inv_missing"}`,
			status: http.StatusOK,
			want:   "Invoice inv_missing not found.",
		},
		{
			name:     "no processing payouts",
			invoices: fakeInvoices{invoice: store.Invoice{ID: "inv_1"}},
			body:     `{"invoiceId":"inv_1"}`,
			status:   http.StatusOK,
			want:     "No payouts found with status 'processing' for invoice inv_1, skipping...",
		},
		{
			name:     "dispatches every provider",
			invoices: fakeInvoices{invoice: store.Invoice{ID: "inv_2", ProcessingPayouts: 4}},
			body:     `{"invoiceId":"inv_2"}`,
			status:   http.StatusOK,
			want:     "Completed processing all payouts for invoice inv_2.",
			calls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dispatchers := newDispatchers("")
			h := newTestRouter(t, Deps{Invoices: tt.invoices, Dispatchers: asDispatchers(dispatchers)}, Options{})

			rec := serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathChargeSucceeded, tt.body))
			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.want, rec.Body.String())
			for _, d := range dispatchers {
				require.Len(t, d.Calls(), tt.calls, d.provider)
			}
		})
	}
}

func TestChargeSucceededSettlesAllDispatchers(t *testing.T) {
	t.Parallel()

	alerts := &recordingEmitter{}
	dispatchers := newDispatchers(payouts.ProviderStripe)
	h := newTestRouter(t, Deps{
		Invoices:    fakeInvoices{invoice: store.Invoice{ID: "inv_3", ProcessingPayouts: 2}},
		Dispatchers: asDispatchers(dispatchers),
		Alerts:      alerts,
	}, Options{})

	rec := serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathChargeSucceeded, `{"invoiceId":"inv_3"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Completed processing all payouts for invoice inv_3.", rec.Body.String())
	for _, d := range dispatchers {
		require.Equal(t, []string{"inv_3"}, d.Calls(), d.provider)
	}

	entries := alerts.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, requestlog.TypeCron, entries[0].Type)
	require.Contains(t, entries[0].Message, "stripe unavailable")
}

func TestChargeSucceededLookupFailure(t *testing.T) {
	t.Parallel()

	alerts := &recordingEmitter{}
	h := newTestRouter(t, Deps{Invoices: fakeInvoices{err: errors.New("timeout")}, Alerts: alerts}, Options{})

	rec := serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathChargeSucceeded, `{"invoiceId":"inv_4"}`))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, alerts.Entries(), 1)
	require.Equal(t, "Error sending payouts for invoice: timeout", alerts.Entries()[0].Message)
}

func TestMissingCollaboratorsAnswerInternalError(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t, Deps{}, Options{})

	rec := serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathChargeSucceeded, `{"invoiceId":"inv_5"}`))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := `{"importId":"imp_1","programId":"prog_1","userId":"user_1","action":"import-partners"}`
	rec = serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathToltImport, body))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOversizedBodyIsRejected(t *testing.T) {
	t.Parallel()

	h := newTestRouter(t, Deps{Aggregator: &fakeAggregator{}}, Options{MaxBodyBytes: 8})

	rec := serve(h, signedRequest(t, testCurrentKey, http.MethodPost, PathAggregateDue, `{"padding":"0123456789"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
