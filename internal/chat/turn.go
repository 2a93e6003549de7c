package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/ent0n29/chatrelay/internal/observability"
)

type stage string

const (
	stageValidating         stage = "validating"
	stageAppendingUser      stage = "appending_user"
	stageListing            stage = "listing"
	stageInferring          stage = "inferring"
	stageAppendingAssistant stage = "appending_assistant"
)

// turn tracks one pass through the linear pipeline. Stages only move
// forward; the pipeline ends in done or fail.
type turn struct {
	id         string
	log        *slog.Logger
	metrics    *observability.Metrics
	stage      stage
	started    time.Time
	stageStart time.Time
}

func (s *Service) startTurn(ctx context.Context) *turn {
	now := time.Now()
	id := s.newTurnID()
	return &turn{
		id:         id,
		log:        observability.LoggerFromContext(ctx).With("turn_id", id),
		metrics:    s.metrics,
		stage:      stageValidating,
		started:    now,
		stageStart: now,
	}
}

func (t *turn) enter(next stage) {
	now := time.Now()
	t.metrics.ObserveTurnStage(string(t.stage), now.Sub(t.stageStart))
	t.stage = next
	t.stageStart = now
}

func (t *turn) done(result string) {
	t.enter("done")
	t.metrics.ObserveTurnStage("turn_total", time.Since(t.started))
	t.metrics.ObserveTurn(result)
	t.log.Info("turn completed", "result", result, "duration_ms", time.Since(t.started).Milliseconds())
}

func (t *turn) fail(kind string, err error) error {
	t.metrics.ObserveTurn(kind)
	level := slog.LevelError
	if kind == "invalid_request" {
		level = slog.LevelWarn
	}
	t.log.Log(context.Background(), level, "turn failed",
		"stage", string(t.stage),
		"kind", kind,
		"error", err,
		"duration_ms", time.Since(t.started).Milliseconds(),
	)
	return err
}
