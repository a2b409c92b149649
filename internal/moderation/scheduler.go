package moderation

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joyedlion/steward/internal/db"
	"github.com/joyedlion/steward/internal/observability"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepParallel = 4
)

// ScopeResolver answers whether a chat is still reachable, i.e. exists and
// the bot is a member of it.
type ScopeResolver interface {
	ScopeReachable(ctx context.Context, chatID int64) (bool, error)
}

type sweepStore interface {
	ListDueRestrictions(ctx context.Context, now time.Time) ([]*db.Restriction, error)
}

type lifter interface {
	Lift(ctx context.Context, chatID, userID int64, kind db.RestrictionKind, cause Cause) (bool, error)
}

// Sweeper periodically scans the store for due restrictions and drives lift
// transitions through the engine. It derives due work from durable storage
// on every tick, so restrictions that expired while the process was down
// are handled by the first sweep like any other.
type Sweeper struct {
	store    sweepStore
	engine   lifter
	scopes   ScopeResolver
	interval time.Duration
	parallel int
	logger   *log.Entry

	startStopMutex sync.Mutex
	started        bool
	workerCancel   context.CancelFunc
	workerWG       sync.WaitGroup
}

func NewSweeper(store sweepStore, engine lifter, scopes ScopeResolver, interval time.Duration, parallel int) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if parallel <= 0 {
		parallel = defaultSweepParallel
	}
	return &Sweeper{
		store:    store,
		engine:   engine,
		scopes:   scopes,
		interval: interval,
		parallel: parallel,
		logger:   log.WithField("context", "expiry_sweeper"),
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.startStopMutex.Lock()
	defer s.startStopMutex.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.workerCancel = cancel

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()

		// The store may hold restrictions that came due while the process
		// was down; sweep once before the first tick.
		if err := s.Sweep(runCtx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithField("error", err.Error()).Error("startup sweep failed")
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := s.Sweep(runCtx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.WithField("error", err.Error()).Error("sweep failed")
				}
			}
		}
	}()

	s.started = true
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.startStopMutex.Lock()
	if !s.started {
		s.startStopMutex.Unlock()
		return nil
	}
	s.started = false
	cancel := s.workerCancel
	s.startStopMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.workerWG.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Sweep processes the snapshot of restrictions due at now. Items that
// become due mid-sweep wait for the next tick. Failures are isolated per
// item and reported as one aggregated error.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) error {
	ctx, span := otel.Tracer("expiry-sweeper").Start(ctx, "sweep-restrictions")
	defer span.End()
	defer observability.StartSweep()()

	due, err := s.store.ListDueRestrictions(ctx, now)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	observability.Logger.Debug("processing due restrictions",
		zap.Int("count", len(due)),
	)

	var (
		mu       sync.Mutex
		sweepErr error
	)
	g := &errgroup.Group{}
	g.SetLimit(s.parallel)
	for _, r := range due {
		g.Go(func() error {
			if err := s.processDue(ctx, r); err != nil {
				mu.Lock()
				sweepErr = errors.Join(sweepErr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return sweepErr
}

func (s *Sweeper) processDue(ctx context.Context, r *db.Restriction) error {
	entry := s.logger.WithFields(log.Fields{
		"chat_id": r.ChatID,
		"user_id": r.UserID,
		"kind":    r.Kind,
	})

	cause := CauseExpired
	reachable, err := s.scopes.ScopeReachable(ctx, r.ChatID)
	if err != nil {
		// Transient resolver failures keep the record; the expired lift
		// below either succeeds or is retried next tick.
		entry.WithField("error", err.Error()).Warn("cant resolve scope, assuming reachable")
	} else if !reachable {
		cause = CauseUnreachable
	}

	if _, err := s.engine.Lift(ctx, r.ChatID, r.UserID, r.Kind, cause); err != nil {
		entry.WithFields(log.Fields{"cause": cause, "error": err.Error()}).Error("failed to lift due restriction")
		return err
	}
	return nil
}
