package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/config"
	"pulse/internal/logger"
)

type fakeClaimLock struct {
	mu       sync.Mutex
	denied   map[string]bool
	acquired []string
	released []string
}

func newFakeClaimLock() *fakeClaimLock {
	return &fakeClaimLock{denied: make(map[string]bool)}
}

func (f *fakeClaimLock) Acquire(_ context.Context, broadcastID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied[broadcastID] {
		return false, nil
	}
	f.acquired = append(f.acquired, broadcastID)
	return true, nil
}

func (f *fakeClaimLock) Release(_ context.Context, broadcastID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, broadcastID)
	return nil
}

func dueBroadcast(channelID string) Broadcast {
	past := time.Now().Add(-time.Minute).UTC()
	return Broadcast{
		ID:           uuid.NewString(),
		WorkspaceID:  testWorkspaceID,
		SenderID:     testSenderID,
		Content:      "Reminder: keynote at noon",
		Priority:     PriorityNormal,
		ChannelIDs:   []string{channelID},
		ScheduledFor: &past,
	}
}

func TestRunDue_DispatchesClaimedBroadcasts(t *testing.T) {
	ch := Channel{ID: uuid.NewString(), ParticipantVisible: true}
	f := newDispatcherFixture(ch)

	first := dueBroadcast(ch.ID)
	second := dueBroadcast(ch.ID)
	f.broadcasts.due = []Broadcast{first, second}

	lock := newFakeClaimLock()
	scheduler := NewScheduler(f.broadcasts, f.dispatcher, lock, config.BroadcastConfig{ClaimBatchSize: 10}, logger.NopLogger())

	dispatched, err := scheduler.RunDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, dispatched)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, lock.acquired)
	assert.Len(t, f.messages.inserted, 2)
	assert.Contains(t, f.broadcasts.marked, first.ID)
	assert.Contains(t, f.broadcasts.marked, second.ID)
}

func TestRunDue_SkipsBroadcastsClaimedElsewhere(t *testing.T) {
	ch := Channel{ID: uuid.NewString(), ParticipantVisible: true}
	f := newDispatcherFixture(ch)

	claimed := dueBroadcast(ch.ID)
	free := dueBroadcast(ch.ID)
	f.broadcasts.due = []Broadcast{claimed, free}

	lock := newFakeClaimLock()
	lock.denied[claimed.ID] = true
	scheduler := NewScheduler(f.broadcasts, f.dispatcher, lock, config.BroadcastConfig{ClaimBatchSize: 10}, logger.NopLogger())

	dispatched, err := scheduler.RunDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, dispatched)
	assert.Len(t, f.messages.inserted, 1)
	assert.NotContains(t, f.broadcasts.marked, claimed.ID)
}

func TestRunDue_TransientFailureReleasesClaim(t *testing.T) {
	ch := Channel{ID: uuid.NewString(), ParticipantVisible: true}
	f := newDispatcherFixture(ch)
	f.channels.err = errors.New("connection refused")

	b := dueBroadcast(ch.ID)
	f.broadcasts.due = []Broadcast{b}

	lock := newFakeClaimLock()
	scheduler := NewScheduler(f.broadcasts, f.dispatcher, lock, config.BroadcastConfig{ClaimBatchSize: 10}, logger.NopLogger())

	dispatched, err := scheduler.RunDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, dispatched)
	assert.Equal(t, []string{b.ID}, lock.released, "transient failure must release the claim for the next pass")
	assert.Empty(t, f.broadcasts.failed)
}

func TestRunDue_PermanentFailureParksBroadcast(t *testing.T) {
	// Every stored channel is gone, so no later pass can ever dispatch this row.
	f := newDispatcherFixture()

	gone := dueBroadcast(uuid.NewString())
	f.broadcasts.due = []Broadcast{gone}

	lock := newFakeClaimLock()
	scheduler := NewScheduler(f.broadcasts, f.dispatcher, lock, config.BroadcastConfig{ClaimBatchSize: 10}, logger.NopLogger())

	dispatched, err := scheduler.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)

	reason, parked := f.broadcasts.failed[gone.ID]
	require.True(t, parked, "a permanently failing broadcast must be marked failed")
	assert.NotEmpty(t, reason)
	assert.Empty(t, lock.released)

	// The parked row must not come back on the next pass.
	dispatched, err = scheduler.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)
	assert.Len(t, lock.acquired, 1)
}

func TestRunDue_NothingDue(t *testing.T) {
	ch := Channel{ID: uuid.NewString(), ParticipantVisible: true}
	f := newDispatcherFixture(ch)

	scheduler := NewScheduler(f.broadcasts, f.dispatcher, nil, config.BroadcastConfig{ClaimBatchSize: 10}, logger.NopLogger())

	dispatched, err := scheduler.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)
}
