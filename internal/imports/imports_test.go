package imports

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shortlink-edge/internal/publisher/memory"
)

func TestQueueForwardsJobs(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	q, err := NewQueue(pub, "imports")
	require.NoError(t, err)

	page := 2
	fp := FirstPromoterPayload{ImportID: "imp_1", ProgramID: "prog_1", UserID: "user_1", Action: ActionImportPartners, Page: &page}
	require.NoError(t, q.FirstPromoter().ImportPartners(context.Background(), fp))

	tp := ToltPayload{ImportID: "imp_2", ProgramID: "prog_1", UserID: "user_1", Action: ActionCleanupPartners}
	require.NoError(t, q.Tolt().CleanupPartners(context.Background(), tp))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "imports", msgs[0].Topic)
	require.Equal(t, Job{Provider: ProviderFirstPromoter, Action: ActionImportPartners, Payload: fp}, msgs[0].Payload)
	require.Equal(t, Job{Provider: ProviderTolt, Action: ActionCleanupPartners, Payload: tp}, msgs[1].Payload)
}

func TestQueuePublishFailure(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("unavailable"))
	q, err := NewQueue(pub, "imports")
	require.NoError(t, err)

	err = q.Tolt().ImportLinks(context.Background(), ToltPayload{Action: ActionImportLinks})
	require.ErrorContains(t, err, "forward tolt import-links")
}

func TestNewQueueValidates(t *testing.T) {
	t.Parallel()

	_, err := NewQueue(nil, "imports")
	require.Error(t, err)
	_, err = NewQueue(memory.New(), "")
	require.Error(t, err)
}
