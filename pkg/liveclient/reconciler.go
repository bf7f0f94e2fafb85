package liveclient

import (
	"sync"
	"time"

	"pulse-api/internal/domain"
)

// DefaultOptimisticWindow bounds how long an unconfirmed local vote is shown
const DefaultOptimisticWindow = 10 * time.Second

type optimisticVote struct {
	optionKey string
	at        time.Time
}

// Reconciler masks round-trip latency: a local vote shows up at once, and
// the next authoritative snapshot replaces the displayed counts outright.
type Reconciler struct {
	mu            sync.Mutex
	window        time.Duration
	now           func() time.Time
	authoritative *domain.AggregateSnapshot
	pending       []optimisticVote
}

// NewReconciler creates a reconciler. window <= 0 uses DefaultOptimisticWindow.
func NewReconciler(window time.Duration) *Reconciler {
	if window <= 0 {
		window = DefaultOptimisticWindow
	}
	return &Reconciler{window: window, now: time.Now}
}

// ApplyOptimistic counts a local vote for optionKey until the server
// confirms it or the window passes.
func (r *Reconciler) ApplyOptimistic(optionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, optimisticVote{optionKey: optionKey, at: r.now()})
}

// Reconcile installs an authoritative snapshot and discards every
// optimistic entry. Snapshots older than the current one are ignored.
func (r *Reconciler) Reconcile(snap *domain.AggregateSnapshot) {
	if snap == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.authoritative != nil && snap.LastUpdated.Before(r.authoritative.LastUpdated) {
		return
	}
	cp := *snap
	cp.Breakdown = append([]domain.BreakdownBucket(nil), snap.Breakdown...)
	r.authoritative = &cp
	r.pending = nil
}

// Display returns the counts to show: the authoritative snapshot plus any
// optimistic votes still inside the window, with percentages recomputed.
func (r *Reconciler) Display() *domain.AggregateSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	live := r.pending[:0]
	for _, p := range r.pending {
		if now.Sub(p.at) < r.window {
			live = append(live, p)
		}
	}
	r.pending = live

	out := &domain.AggregateSnapshot{}
	if r.authoritative != nil {
		*out = *r.authoritative
		out.Breakdown = append([]domain.BreakdownBucket(nil), r.authoritative.Breakdown...)
	}
	if len(live) == 0 {
		return out
	}

	index := make(map[string]int, len(out.Breakdown))
	for i, b := range out.Breakdown {
		index[b.OptionKey] = i
	}
	for _, p := range live {
		i, ok := index[p.optionKey]
		if !ok {
			out.Breakdown = append(out.Breakdown, domain.BreakdownBucket{OptionKey: p.optionKey})
			i = len(out.Breakdown) - 1
			index[p.optionKey] = i
		}
		out.Breakdown[i].Count++
		out.TotalVotes++
	}
	for i := range out.Breakdown {
		out.Breakdown[i].Percentage = domain.Percent(out.Breakdown[i].Count, out.TotalVotes)
	}
	return out
}

// Pending returns how many optimistic votes are still displayed
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	now := r.now()
	for _, p := range r.pending {
		if now.Sub(p.at) < r.window {
			n++
		}
	}
	return n
}
