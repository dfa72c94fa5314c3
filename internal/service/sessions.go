package service

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/observability/internal/domain"
)

// RunSessionSweeper ends idle sessions on every sweep interval until ctx is
// done. Each session.ended event goes through the synthetic store path.
func (s *Service) RunSessionSweeper(ctx context.Context) {
	s.tracker.Run(ctx, s.config.SessionSweepInterval, s.emitSessionEnded)
}

func (s *Service) emitSessionEnded(ctx context.Context, ev *domain.Event) {
	emitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if stored := s.emitDerived(emitCtx, ev); stored != nil {
		s.logger.DebugContext(ctx, "session ended",
			"session_id", stored.SessionID, "agent_id", stored.AgentID, "event_id", stored.EventID)
	}
}
