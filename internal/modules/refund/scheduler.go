// README: Delayed refund timers keyed by order code; newest schedule wins, due times survive restarts.
package refund

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("refund scheduler closed")

// Executor performs the refund for an order; it re-validates the order itself.
type Executor interface {
	ExecuteRefund(ctx context.Context, code string) error
}

type Due struct {
	Code string    `json:"code"`
	At   time.Time `json:"at"`
}

// DueStore persists pending due times so Recover can re-arm them after a restart.
type DueStore interface {
	Add(ctx context.Context, code string, at time.Time) error
	Remove(ctx context.Context, code string) error
	List(ctx context.Context) ([]Due, error)
}

type timerEntry struct {
	timer *time.Timer
	gen   uint64
	at    time.Time
}

type Scheduler struct {
	exec       Executor
	store      DueStore
	log        zerolog.Logger
	runTimeout time.Duration
	now        func() time.Time

	mu      sync.Mutex
	gen     uint64
	timers  map[string]*timerEntry
	running map[string]bool
	rerun   map[string]bool
	closed  bool
	wg      sync.WaitGroup
}

func NewScheduler(exec Executor, store DueStore, log zerolog.Logger, runTimeout time.Duration) *Scheduler {
	if store == nil {
		store = NewMemoryDueStore()
	}
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	return &Scheduler{
		exec:       exec,
		store:      store,
		log:        log.With().Str("component", "refund_scheduler").Logger(),
		runTimeout: runTimeout,
		now:        time.Now,
		timers:     make(map[string]*timerEntry),
		running:    make(map[string]bool),
		rerun:      make(map[string]bool),
	}
}

// Schedule arms a refund for code after delay, replacing any earlier timer.
func (s *Scheduler) Schedule(ctx context.Context, code string, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	at := s.now().Add(delay)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if prev, ok := s.timers[code]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[code] = &timerEntry{
		gen:   gen,
		at:    at,
		timer: time.AfterFunc(delay, func() { s.fire(code, gen) }),
	}
	s.mu.Unlock()

	s.log.Info().Str("order_code", code).Dur("delay", delay).Msg("refund scheduled")
	if err := s.store.Add(ctx, code, at); err != nil {
		// the in-memory timer still fires; only restart recovery is lost
		s.log.Warn().Err(err).Str("order_code", code).Msg("persist refund due time")
		return err
	}
	return nil
}

// Cancel disarms a pending refund. An execution already in flight is not interrupted.
func (s *Scheduler) Cancel(code string) {
	s.mu.Lock()
	if e, ok := s.timers[code]; ok {
		e.timer.Stop()
		delete(s.timers, code)
	}
	delete(s.rerun, code)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Remove(ctx, code); err != nil {
		s.log.Warn().Err(err).Str("order_code", code).Msg("remove refund due time")
	}
	s.log.Info().Str("order_code", code).Msg("refund cancelled")
}

// Pending lists armed timers ordered by due time.
func (s *Scheduler) Pending() []Due {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Due, 0, len(s.timers))
	for code, e := range s.timers {
		out = append(out, Due{Code: code, At: e.at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Recover re-arms every persisted due time; overdue refunds fire immediately.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	dues, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	for _, d := range dues {
		if err := s.Schedule(ctx, d.Code, d.At.Sub(now)); err != nil && !errors.Is(err, ErrClosed) {
			s.log.Warn().Err(err).Str("order_code", d.Code).Msg("recover refund")
		}
	}
	if len(dues) > 0 {
		s.log.Info().Int("count", len(dues)).Msg("refund timers recovered")
	}
	return len(dues), nil
}

// Close stops all timers and waits for running executions. Due times stay persisted.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for _, e := range s.timers {
		e.timer.Stop()
	}
	s.timers = make(map[string]*timerEntry)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) fire(code string, gen uint64) {
	s.mu.Lock()
	e, ok := s.timers[code]
	if s.closed || !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, code)
	if s.running[code] {
		s.rerun[code] = true
		s.mu.Unlock()
		return
	}
	s.running[code] = true
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	for {
		s.execute(code)

		s.mu.Lock()
		if s.rerun[code] && !s.closed {
			delete(s.rerun, code)
			s.mu.Unlock()
			continue
		}
		delete(s.running, code)
		delete(s.rerun, code)
		_, rearmed := s.timers[code]
		s.mu.Unlock()

		if !rearmed {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.store.Remove(ctx, code); err != nil {
				s.log.Warn().Err(err).Str("order_code", code).Msg("remove refund due time")
			}
			cancel()
		}
		return
	}
}

func (s *Scheduler) execute(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()
	start := s.now()
	if err := s.exec.ExecuteRefund(ctx, code); err != nil {
		s.log.Error().Err(err).Str("order_code", code).Dur("took", s.now().Sub(start)).Msg("refund execution failed")
		return
	}
	s.log.Info().Str("order_code", code).Dur("took", s.now().Sub(start)).Msg("refund execution finished")
}
