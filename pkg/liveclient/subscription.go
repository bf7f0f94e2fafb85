// Package liveclient follows a question's breakdown from a Go program. It
// prefers the websocket push channel and falls back to polling the stats
// endpoint while the push channel is down.
package liveclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/pkg/logger"
)

// State of a Subscription
type State int

const (
	StateConnecting State = iota
	StateLive
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrStreamClosed is returned by a Stream whose connection went away
var ErrStreamClosed = errors.New("stream closed")

// Transport opens push streams
type Transport interface {
	Connect(ctx context.Context, questionID string) (Stream, error)
}

// Stream yields pushed snapshots for one question
type Stream interface {
	// Next blocks until a snapshot arrives, the stream fails or ctx ends
	Next(ctx context.Context) (*domain.AggregateSnapshot, error)
	Close() error
}

// Poller fetches the current breakdown on demand
type Poller interface {
	Fetch(ctx context.Context, questionID string) (*domain.AggregateSnapshot, error)
}

// Options tune a Subscription. Zero values take the defaults.
type Options struct {
	// PollInterval is the fallback cadence while degraded
	PollInterval time.Duration
	// StaleAfter degrades a live stream that has been silent this long.
	// Zero disables it.
	StaleAfter time.Duration
	// InitialBackoff and MaxBackoff bound reconnect attempts
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OnSnapshot receives every pushed or polled snapshot
	OnSnapshot func(*domain.AggregateSnapshot)
	// OnState observes transitions
	OnState func(State)
	Logger  *logger.Logger
}

const (
	defaultPollInterval   = 15 * time.Second
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

func (o *Options) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = defaultMaxBackoff
		if o.MaxBackoff < o.InitialBackoff {
			o.MaxBackoff = o.InitialBackoff
		}
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
}

// Subscription follows one question:
// Connecting -> Live -> (Degraded <-> Live) -> Closed.
// Only Close moves it to Closed; every timer and connection it owns is
// released before Close returns.
type Subscription struct {
	questionID string
	transport  Transport
	poller     Poller
	opts       Options
	log        *logger.Logger

	mu    sync.RWMutex
	state State

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe starts following questionID. The caller must Close the
// subscription; ctx ending has the same effect.
func Subscribe(ctx context.Context, questionID string, transport Transport, poller Poller, opts Options) *Subscription {
	opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		questionID: questionID,
		transport:  transport,
		poller:     poller,
		opts:       opts,
		log:        opts.Logger.Named("liveclient").WithField("question_id", questionID),
		state:      StateConnecting,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.notify(StateConnecting)
	go s.run(ctx)
	return s
}

// State returns the current state
func (s *Subscription) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed once the subscription reached Closed
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close tears the subscription down and waits for it. Safe to call twice.
func (s *Subscription) Close() error {
	s.closeOnce.Do(s.cancel)
	<-s.done
	return nil
}

func (s *Subscription) setState(next State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.log.WithFields(map[string]interface{}{"from": prev.String(), "to": next.String()}).Debug("Subscription state changed")
	s.notify(next)
}

func (s *Subscription) notify(state State) {
	if s.opts.OnState != nil {
		s.opts.OnState(state)
	}
}

func (s *Subscription) deliver(snap *domain.AggregateSnapshot) {
	if snap != nil && s.opts.OnSnapshot != nil {
		s.opts.OnSnapshot(snap)
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer func() {
		s.setState(StateClosed)
		close(s.done)
	}()

	stream, err := s.transport.Connect(ctx, s.questionID)
	for {
		if err == nil {
			s.setState(StateLive)
			err = s.consume(ctx, stream)
			if cerr := stream.Close(); cerr != nil {
				s.log.WithError(cerr).Debug("Closing stream")
			}
		}
		if ctx.Err() != nil {
			return
		}

		s.log.WithError(err).Warn("Push channel unavailable, polling")
		s.setState(StateDegraded)
		if stream, err = s.degraded(ctx); ctx.Err() != nil {
			return
		}
	}
}

// consume applies pushed snapshots until the stream fails
func (s *Subscription) consume(ctx context.Context, stream Stream) error {
	for {
		readCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.opts.StaleAfter > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.opts.StaleAfter)
		}
		snap, err := stream.Next(readCtx)
		cancel()
		if err != nil {
			return err
		}
		s.deliver(snap)
	}
}

// degraded polls on a fixed interval and retries the push channel with
// backoff. It returns the reconnected stream, or ctx's error.
func (s *Subscription) degraded(ctx context.Context) (Stream, error) {
	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()

	backoff := s.opts.InitialBackoff
	reconnect := time.NewTimer(backoff)
	defer reconnect.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-poll.C:
			snap, err := s.poller.Fetch(ctx, s.questionID)
			if err != nil {
				s.log.WithError(err).Debug("Poll failed")
				continue
			}
			s.deliver(snap)

		case <-reconnect.C:
			stream, err := s.transport.Connect(ctx, s.questionID)
			if err == nil {
				return stream, nil
			}
			backoff = nextBackoff(backoff, s.opts.MaxBackoff)
			s.log.WithError(err).WithField("retry_in", backoff.String()).Debug("Reconnect failed")
			reconnect.Reset(backoff)
		}
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
