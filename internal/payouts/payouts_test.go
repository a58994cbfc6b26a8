package payouts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shortlink-edge/internal/publisher/memory"
	"github.com/JakeFAU/shortlink-edge/internal/store"
)

func TestQueueDispatchersPublishPerProvider(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	dispatchers, err := NewQueueDispatchers(pub, "payouts")
	require.NoError(t, err)
	require.Len(t, dispatchers, 3)

	inv := store.Invoice{ID: "inv_1", ProgramID: "prog_1", WorkspaceID: "ws_1", Total: 5000, ProcessingPayouts: 2}
	for _, d := range dispatchers {
		require.NoError(t, d.Dispatch(context.Background(), inv))
	}

	msgs := pub.Messages()
	require.Len(t, msgs, 3)
	providers := make([]string, 0, 3)
	for _, msg := range msgs {
		job, ok := msg.Payload.(DispatchJob)
		require.True(t, ok)
		require.Equal(t, "inv_1", job.InvoiceID)
		providers = append(providers, job.Provider)
	}
	require.Equal(t, []string{ProviderStripe, ProviderPayPal, ProviderExternal}, providers)
}

func TestNewQueueDispatcherRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := NewQueueDispatcher("wire", memory.New(), "payouts")
	require.ErrorContains(t, err, "unknown payout provider")
}

func TestDispatchWrapsPublishErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("quota"))
	d, err := NewQueueDispatcher(ProviderPayPal, pub, "payouts")
	require.NoError(t, err)
	require.ErrorContains(t, d.Dispatch(context.Background(), store.Invoice{ID: "inv_9"}), "queue paypal payouts for invoice inv_9")
}

func TestQueueAggregator(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	agg, err := NewQueueAggregator(pub, "payouts")
	require.NoError(t, err)
	require.NoError(t, agg.AggregateDueCommissions(context.Background()))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, AggregateJob{Job: "aggregate-due-commissions", BatchSize: AggregateBatchSize}, msgs[0].Payload)
}
