package liveclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pulse-api/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	snaps  chan *domain.AggregateSnapshot
	fail   chan error
	closed atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{snaps: make(chan *domain.AggregateSnapshot, 4), fail: make(chan error, 1)}
}

func (s *fakeStream) Next(ctx context.Context) (*domain.AggregateSnapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case snap := <-s.snaps:
		return snap, nil
	case err := <-s.fail:
		return nil, err
	}
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	failures int
	connects int
	streams  chan *fakeStream
}

func newFakeTransport(failures int) *fakeTransport {
	return &fakeTransport{failures: failures, streams: make(chan *fakeStream, 8)}
}

func (t *fakeTransport) Connect(context.Context, string) (Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.failures > 0 {
		t.failures--
		return nil, errors.New("connection refused")
	}
	s := newFakeStream()
	t.streams <- s
	return s, nil
}

func (t *fakeTransport) failNext(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = n
}

type countingPoller struct {
	polls atomic.Int32
}

func (p *countingPoller) Fetch(_ context.Context, questionID string) (*domain.AggregateSnapshot, error) {
	n := p.polls.Add(1)
	return &domain.AggregateSnapshot{QuestionID: questionID, TotalVotes: int(n)}, nil
}

type recorder struct {
	mu     sync.Mutex
	states []State
	snaps  []*domain.AggregateSnapshot
}

func (r *recorder) state(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) snapshot(s *domain.AggregateSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) stateLog() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) snapshotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

const pollEvery = 20 * time.Millisecond

func waitStream(t *testing.T, tr *fakeTransport) *fakeStream {
	t.Helper()
	select {
	case s := <-tr.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("transport never connected")
		return nil
	}
}

func TestSubscription_DegradesPollsAndRecovers(t *testing.T) {
	tr := newFakeTransport(0)
	poller := &countingPoller{}
	rec := &recorder{}

	sub := Subscribe(context.Background(), "q1", tr, poller, Options{
		PollInterval:   pollEvery,
		InitialBackoff: 3 * pollEvery,
		MaxBackoff:     3 * pollEvery,
		OnSnapshot:     rec.snapshot,
		OnState:        rec.state,
	})
	defer sub.Close()

	first := waitStream(t, tr)
	require.Eventually(t, func() bool { return sub.State() == StateLive }, time.Second, 5*time.Millisecond)

	first.snaps <- &domain.AggregateSnapshot{QuestionID: "q1", TotalVotes: 1}
	require.Eventually(t, func() bool { return rec.snapshotCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, poller.polls.Load())

	// transport failure: polling starts within one fallback interval
	tr.failNext(1)
	first.fail <- errors.New("connection reset")
	require.Eventually(t, func() bool { return sub.State() == StateDegraded }, time.Second, 5*time.Millisecond)
	assert.True(t, first.closed.Load())
	require.Eventually(t, func() bool { return poller.polls.Load() > 0 }, time.Second, 2*time.Millisecond)

	// the second reconnect attempt succeeds and polling stops
	second := waitStream(t, tr)
	require.Eventually(t, func() bool { return sub.State() == StateLive }, time.Second, 5*time.Millisecond)
	polled := poller.polls.Load()
	time.Sleep(5 * pollEvery)
	assert.Equal(t, polled, poller.polls.Load())

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, StateClosed, sub.State())
	assert.True(t, second.closed.Load())
	assert.Equal(t, []State{StateConnecting, StateLive, StateDegraded, StateLive, StateClosed}, rec.stateLog())
}

func TestSubscription_StartsDegradedWhenPushUnavailable(t *testing.T) {
	tr := newFakeTransport(1000)
	poller := &countingPoller{}
	rec := &recorder{}

	sub := Subscribe(context.Background(), "q1", tr, poller, Options{
		PollInterval:   pollEvery,
		InitialBackoff: time.Hour,
		OnSnapshot:     rec.snapshot,
	})

	require.Eventually(t, func() bool { return rec.snapshotCount() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateDegraded, sub.State())

	require.NoError(t, sub.Close())
	select {
	case <-sub.Done():
	default:
		t.Fatal("done not closed after Close")
	}
}

func TestSubscription_SilentStreamDegrades(t *testing.T) {
	tr := newFakeTransport(0)
	sub := Subscribe(context.Background(), "q1", tr, &countingPoller{}, Options{
		PollInterval:   pollEvery,
		StaleAfter:     2 * pollEvery,
		InitialBackoff: time.Hour,
	})
	defer sub.Close()

	stream := waitStream(t, tr)
	require.Eventually(t, func() bool { return sub.State() == StateDegraded }, time.Second, 5*time.Millisecond)
	assert.True(t, stream.closed.Load())
}

func TestSubscription_ContextEndCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := newFakeTransport(0)
	sub := Subscribe(ctx, "q1", tr, &countingPoller{}, Options{})
	stream := waitStream(t, tr)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not close")
	}
	assert.Equal(t, StateClosed, sub.State())
	assert.True(t, stream.closed.Load())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "live", StateLive.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "closed", StateClosed.String())
}
