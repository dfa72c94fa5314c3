package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xiaot623/gogo/observability/internal/config"
	"github.com/xiaot623/gogo/observability/internal/detector"
	"github.com/xiaot623/gogo/observability/internal/domain"
	"github.com/xiaot623/gogo/observability/internal/policy"
	"github.com/xiaot623/gogo/observability/internal/repository"
	"github.com/xiaot623/gogo/observability/internal/session"
	"github.com/xiaot623/gogo/observability/internal/summary"
	"github.com/xiaot623/gogo/observability/internal/telemetry"
	"github.com/xiaot623/gogo/observability/internal/tracer"
)

// Broadcaster receives every stored record, in storage order.
type Broadcaster interface {
	Publish(ctx context.Context, ev *domain.Event) error
}

// DefaultPublishTimeout bounds one broadcaster call while the write lock is
// held.
const DefaultPublishTimeout = 2 * time.Second

type Service struct {
	store        store.Store
	tracker      *session.Tracker
	detector     *detector.Detector
	tracer       *tracer.Tracer
	summarizer   *summary.Summarizer
	broadcasters []Broadcaster
	telemetry    *telemetry.Recorder
	config       *config.Config
	logger       *slog.Logger

	publishTimeout time.Duration

	// writeMu keeps insert and broadcast order identical.
	writeMu sync.Mutex
	// summaryMu makes the summary existence check and insert atomic.
	summaryMu sync.Mutex
}

// New wires the pipeline. policyEngine and rec may be nil.
func New(st store.Store, cfg *config.Config, policyEngine *policy.Engine, rec *telemetry.Recorder, broadcasters ...Broadcaster) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	if rec == nil {
		rec = telemetry.Nop()
	}

	det := detector.New(st, policyEngine, detector.Config{
		TimeoutThreshold: cfg.ToolTimeoutThreshold,
		FailureWindow:    cfg.FailureWindow,
		FailureThreshold: cfg.FailureThreshold,
	})
	det.OnLookupError = func(ctx context.Context, rule string, _ error) {
		rec.LookupError(ctx, rule)
	}

	return &Service{
		store:        st,
		tracker:      session.NewTracker(cfg.SessionTimeout),
		detector:     det,
		tracer:       tracer.New(st, cfg.ContextWindowMin, cfg.ContextWindowMax),
		summarizer:   summary.New(st),
		broadcasters: broadcasters,
		telemetry:    rec,
		config:       cfg,
		logger:       slog.Default().With("component", "service"),

		publishTimeout: DefaultPublishTimeout,
	}
}

// AddBroadcaster registers another sink for stored records.
func (s *Service) AddBroadcaster(b Broadcaster) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.broadcasters = append(s.broadcasters, b)
}
