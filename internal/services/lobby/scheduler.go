package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// TickFunc runs one countdown tick. The scheduler re-arms the interval
// only after the func returns, so ticks for one lobby never overlap even
// when persistence or broadcast work is slow.
type TickFunc func(ctx context.Context)

// Scheduler owns the per-lobby countdown timers. At most one timer exists
// per lobby id; Arm on an id with a live timer cancels the old one first,
// and Cancel removes the handle from the map in the same critical section
// so no further tick can fire afterwards.
type Scheduler struct {
	clock  clockwork.Clock
	mu     sync.Mutex
	timers map[string]*timerHandle
}

type timerHandle struct {
	stop chan struct{} // closed exactly once, under the scheduler mutex
}

func NewScheduler(clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		clock:  clock,
		timers: make(map[string]*timerHandle),
	}
}

func (s *Scheduler) Arm(ctx context.Context, lobbyID string, interval time.Duration, onTick TickFunc) {
	s.mu.Lock()
	if old, ok := s.timers[lobbyID]; ok {
		close(old.stop)
		zap.L().Debug("scheduler.replace_timer", zap.String("lobby_id", lobbyID))
	}
	h := &timerHandle{stop: make(chan struct{})}
	s.timers[lobbyID] = h
	s.mu.Unlock()

	go s.run(ctx, lobbyID, h, interval, onTick)
}

func (s *Scheduler) Cancel(lobbyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.timers[lobbyID]; ok {
		close(h.stop)
		delete(s.timers, lobbyID)
	}
}

// Active reports whether a timer is currently armed for the lobby.
func (s *Scheduler) Active(lobbyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[lobbyID]
	return ok
}

func (s *Scheduler) run(ctx context.Context, lobbyID string, h *timerHandle, interval time.Duration, onTick TickFunc) {
	t := s.clock.NewTimer(interval)
	defer stopAndDrainTimer(t)

	for {
		select {
		case <-ctx.Done():
			s.removeIf(lobbyID, h)
			return
		case <-h.stop:
			return
		case <-t.Chan():
			// Cancel may race the firing timer; a cancelled handle must
			// never run another tick.
			select {
			case <-h.stop:
				return
			default:
			}
			onTick(ctx)
			// A tick may have cancelled its own timer (below-minimum
			// revert, countdown reaching zero). Check before re-arming.
			select {
			case <-h.stop:
				return
			default:
			}
			t.Reset(interval)
		}
	}
}

// removeIf deletes the handle only if it is still the registered one, so
// a timer re-armed under the same id is never torn down by a stale run.
func (s *Scheduler) removeIf(lobbyID string, h *timerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.timers[lobbyID]; ok && cur == h {
		close(cur.stop)
		delete(s.timers, lobbyID)
	}
}

// stopAndDrainTimer stops a timer and drains its channel, per the
// time.Timer.Stop documentation.
func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}
