package watch

import (
	"context"
	"sync/atomic"

	"github.com/web3guy0/polyflow/types"
)

// RefreshSignal is the shared flag between the controller (writer) and the
// streamer (poller). Raising an already-raised signal is a no-op; Consume
// returns true exactly once per raise.
type RefreshSignal struct {
	raised atomic.Bool
}

func NewRefreshSignal() *RefreshSignal { return &RefreshSignal{} }

func (s *RefreshSignal) Raise() { s.raised.Store(true) }

func (s *RefreshSignal) Consume() bool { return s.raised.Swap(false) }

// WatchedLister is the slice of the repository the subscription source
// reads.
type WatchedLister interface {
	ListWatched(ctx context.Context) ([]*types.WatchedMarket, error)
}

// SetSource couples the watched table with the refresh signal; it is the
// streamer's view of the controller's output.
type SetSource struct {
	repo   WatchedLister
	signal *RefreshSignal
}

func NewSetSource(repo WatchedLister, signal *RefreshSignal) *SetSource {
	return &SetSource{repo: repo, signal: signal}
}

// Desired returns the condition ids the streamer should be subscribed to.
func (s *SetSource) Desired(ctx context.Context) ([]string, error) {
	rows, err := s.repo.ListWatched(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, w := range rows {
		ids = append(ids, w.ConditionID)
	}
	return ids, nil
}

// Consume drains the refresh flag.
func (s *SetSource) Consume() bool { return s.signal.Consume() }
