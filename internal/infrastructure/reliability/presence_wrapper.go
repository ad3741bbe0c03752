package reliability

import (
	"context"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// PresenceWrapper guards a presence repository behind a circuit breaker so a
// failing Redis backend cannot stall every socket accept. The breaker is one
// per wrapped repository; callers fall back to live-connection state when an
// operation is rejected.
type PresenceWrapper struct {
	repo    ports.PresenceRepository
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewPresenceWrapper(repo ports.PresenceRepository, cfg circuitbreaker.Config, logger *zap.SugaredLogger) *PresenceWrapper {
	w := &PresenceWrapper{
		repo:    repo,
		breaker: circuitbreaker.New(cfg),
		logger:  logger,
	}

	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("presence circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

func (w *PresenceWrapper) Join(ctx context.Context, roomID string, p domain.Participant) error {
	return w.breaker.Execute(ctx, func() error {
		return w.repo.Join(ctx, roomID, p)
	})
}

func (w *PresenceWrapper) Leave(ctx context.Context, roomID, userID string) error {
	return w.breaker.Execute(ctx, func() error {
		return w.repo.Leave(ctx, roomID, userID)
	})
}

func (w *PresenceWrapper) List(ctx context.Context, roomID string) ([]domain.Participant, error) {
	return circuitbreaker.Do(ctx, w.breaker, func() ([]domain.Participant, error) {
		return w.repo.List(ctx, roomID)
	})
}

// Stats returns the breaker's counters for health reporting.
func (w *PresenceWrapper) Stats() circuitbreaker.Stats {
	return w.breaker.GetStats()
}
