package services

import (
	"context"
	"time"

	"tarot-system/internal/apperror"
	"tarot-system/internal/config"
	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	"github.com/google/uuid"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepBatch    = 100
)

type expiredSessionFinalizer interface {
	ListExpiredSessionIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	FinalizeSession(ctx context.Context, sessionID uuid.UUID, reason models.FinishReason) (*models.FinalizeResult, error)
}

type busyConsultantReleaser interface {
	ReleaseExpiredBusy(ctx context.Context, now time.Time) (int, error)
}

// SessionSweeper периодически завершает консультации с истёкшим временем
// и освобождает тарологов с истёкшим busy_until. Работает независимо от клиента.
type SessionSweeper struct {
	sessions    expiredSessionFinalizer
	consultants busyConsultantReleaser
	log         *logger.Logger
	interval    time.Duration
	batchSize   int
	now         func() time.Time
}

// NewSessionSweeper создает новый фоновый обработчик истёкших сессий
func NewSessionSweeper(sessions expiredSessionFinalizer, consultants busyConsultantReleaser, log *logger.Logger, cfg *config.SweeperConfig) *SessionSweeper {
	interval := defaultSweepInterval
	batch := defaultSweepBatch
	if cfg != nil {
		if cfg.IntervalSeconds > 0 {
			interval = time.Duration(cfg.IntervalSeconds) * time.Second
		}
		if cfg.BatchSize > 0 {
			batch = cfg.BatchSize
		}
	}

	return &SessionSweeper{
		sessions:    sessions,
		consultants: consultants,
		log:         log,
		interval:    interval,
		batchSize:   batch,
		now:         time.Now,
	}
}

// Start запускает цикл проверки до отмены контекста
func (s *SessionSweeper) Start(ctx context.Context) {
	s.log.WithField("interval", s.interval.String()).Info("Starting session sweeper")
	go s.loop(ctx)
}

func (s *SessionSweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Session sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход и возвращает число завершённых сессий и освобождённых тарологов.
func (s *SessionSweeper) RunOnce(ctx context.Context) (finished int, released int) {
	now := s.now()

	ids, err := s.sessions.ListExpiredSessionIDs(ctx, now, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("Failed to list expired sessions")
	}

	for _, id := range ids {
		if _, err := s.sessions.FinalizeSession(ctx, id, models.FinishReasonExpired); err != nil {
			// Сессию уже завершил клиент или оператор
			if apperror.Is(err, apperror.KindConflict) {
				continue
			}
			s.log.WithError(err).WithField("session_id", id).Error("Failed to finalize expired session")
			continue
		}
		finished++
	}

	released, err = s.consultants.ReleaseExpiredBusy(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("Failed to release busy consultants")
	}

	if finished > 0 || released > 0 {
		s.log.WithFields(map[string]interface{}{
			"finished": finished,
			"released": released,
		}).Info("Session sweep completed")
	}
	return finished, released
}
