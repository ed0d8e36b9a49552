package worker

import (
	"context"
	"time"

	"github.com/admitly/admitexam-backend/internal/config"
	"github.com/admitly/admitexam-backend/internal/repository"
	"github.com/admitly/admitexam-backend/internal/service"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	GradingPollTimeout = 1 * time.Second
	// SweepGrace keeps the reconciliation sweep from racing a grade run
	// that was enqueued moments before.
	SweepGrace = 30 * time.Second
	SweepBatch = 100
)

// RedisScheduler enqueues grading obligations onto a Redis list. The durable
// pending marker on the session row (graded_at IS NULL) backs it up: if the
// enqueue or the process is lost, the sweep re-discovers the session.
type RedisScheduler struct {
	rdb *redis.Client
}

// NewRedisScheduler creates a new RedisScheduler.
func NewRedisScheduler(rdb *redis.Client) *RedisScheduler {
	return &RedisScheduler{rdb: rdb}
}

// Schedule pushes a session id onto the grading queue.
func (s *RedisScheduler) Schedule(ctx context.Context, sessionID uuid.UUID) error {
	return s.rdb.RPush(ctx, config.WorkerKey.GradingQueue, sessionID.String()).Err()
}

// GradingWorker consumes the grading queue and periodically sweeps for
// completed sessions whose grading never ran (crashed process, lost enqueue).
type GradingWorker struct {
	grader        *service.GradingEngine
	sessionRepo   *repository.ExamSessionRepository
	rdb           *redis.Client
	sweepInterval time.Duration
	log           zerolog.Logger
}

// NewGradingWorker creates a new GradingWorker.
func NewGradingWorker(
	grader *service.GradingEngine,
	sessionRepo *repository.ExamSessionRepository,
	rdb *redis.Client,
	sweepInterval time.Duration,
	log zerolog.Logger,
) *GradingWorker {
	return &GradingWorker{
		grader:        grader,
		sessionRepo:   sessionRepo,
		rdb:           rdb,
		sweepInterval: sweepInterval,
		log:           log.With().Str("component", "grading_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *GradingWorker) Start(ctx context.Context) {
	w.log.Info().Msg("GradingWorker started")

	sweep := time.NewTicker(w.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("GradingWorker stopping...")
			return
		case <-sweep.C:
			w.sweepPending(ctx)
		default:
			w.processNext(ctx)
		}
	}
}

func (w *GradingWorker) processNext(ctx context.Context) {
	item, err := w.rdb.BLPop(ctx, GradingPollTimeout, config.WorkerKey.GradingQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(item) < 2 {
		return
	}

	sessionID, err := uuid.Parse(item[1])
	if err != nil {
		w.log.Error().Err(err).Str("raw", item[1]).Msg("Invalid session id on grading queue")
		return
	}

	if err := w.grader.Grade(ctx, sessionID); err != nil {
		w.log.Error().Err(err).
			Str("session_id", sessionID.String()).
			Msg("Grading failed, requeueing")
		// Grade is idempotent; a retry after partial writes is safe.
		w.rdb.RPush(ctx, config.WorkerKey.GradingQueue, item[1])
		time.Sleep(5 * time.Second)
	}
}

// sweepPending re-enqueues completed sessions whose grading marker is still
// unset. This makes the submit-then-grade handoff survive process restarts.
func (w *GradingWorker) sweepPending(ctx context.Context) {
	ids, err := w.sessionRepo.ListPendingGrading(ctx, SweepGrace, SweepBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("Pending grading sweep failed")
		return
	}
	if len(ids) == 0 {
		return
	}

	for _, id := range ids {
		if err := w.rdb.RPush(ctx, config.WorkerKey.GradingQueue, id.String()).Err(); err != nil {
			w.log.Error().Err(err).Str("session_id", id.String()).Msg("Sweep enqueue failed")
		}
	}
	w.log.Info().Int("count", len(ids)).Msg("Re-enqueued ungraded sessions")
}
