// Package audit is the audit recorder (C7): writes QueryRun records behind
// a circuit breaker so a struggling audit table degrades to "unaudited" log
// lines instead of failing the user-facing query, and assembles bounded
// replay packets on demand.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/lexcite/corpuscore/internal/model"
)

// Store is the persistence surface the recorder writes through. Implemented
// by internal/storage.
type Store interface {
	InsertQueryRun(ctx context.Context, run model.QueryRun) error
	GetQueryRun(ctx context.Context, runID uuid.UUID) (model.QueryRun, error)
}

// maxReplayPacketBytes caps a reconstructed replay packet's serialized
// size; beyond it the retrieval, context and citations manifests are
// truncated in turn and the packet is flagged, and FinalAnswer is replaced
// with "[TRUNCATED]" if the packet is still over the cap.
const maxReplayPacketBytes = 1_000_000

// Recorder wraps Store.InsertQueryRun in a circuit breaker: 5 consecutive
// failures open the breaker for a 300-second cooldown, after which a single
// half-open probe decides whether to close it again.
type Recorder struct {
	store   Store
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewRecorder constructs a Recorder.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit_write",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     300 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("audit_breaker_state_change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Recorder{store: store, breaker: cb, logger: logger}
}

// Record writes run through the circuit breaker. Neither a breaker trip nor a
// write failure propagates to the caller: a write skipped by the open breaker
// is logged with failure_reason=audit_write_suppressed, any other write error
// is logged as audit_write_failed, and the query still returns its answer.
func (r *Recorder) Record(ctx context.Context, run model.QueryRun) {
	_, err := r.breaker.Execute(func() (any, error) {
		return nil, r.store.InsertQueryRun(ctx, run)
	})
	if err != nil {
		reason := model.FailureAuditWriteSuppressed
		if errors.Is(err, gobreaker.ErrOpenState) {
			r.logger.Warn("audit_write_suppressed", "run_id", run.RunID, "reason", reason, "breaker", "open")
			return
		}
		r.logger.Error("audit_write_failed", "run_id", run.RunID, "error", err)
	}
}

// ReplayPacket reconstructs a bounded ReplayPacket for runID, implementing
// server.ReplayService.
func (r *Recorder) ReplayPacket(ctx context.Context, runID string) (model.ReplayPacket, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return model.ReplayPacket{}, fmt.Errorf("audit: invalid run id: %w", err)
	}

	run, err := r.store.GetQueryRun(ctx, id)
	if err != nil {
		return model.ReplayPacket{}, err
	}

	packet := model.ReplayPacket{
		RunID:               run.RunID,
		CorpusVersionID:      run.CorpusVersionID,
		UserQuery:            run.UserQuery,
		RetrievalManifest:    run.RetrievalManifest,
		ContextManifest:      run.ContextManifest,
		ModelConfig:          run.ModelConfig,
		SystemPromptVersion:  run.SystemPromptVersion,
		FinalAnswer:          run.FinalAnswer,
		CitationsManifest:    run.CitationVerifications,
		LatencyMS:            run.LatencyMS,
	}

	if estimateSize(packet) > maxReplayPacketBytes {
		packet.SizeLimited = true
		for len(packet.RetrievalManifest) > 0 && estimateSize(packet) > maxReplayPacketBytes {
			packet.RetrievalManifest = packet.RetrievalManifest[:len(packet.RetrievalManifest)/2]
		}
		for len(packet.ContextManifest) > 0 && estimateSize(packet) > maxReplayPacketBytes {
			packet.ContextManifest = packet.ContextManifest[:len(packet.ContextManifest)/2]
		}
		for len(packet.CitationsManifest) > 0 && estimateSize(packet) > maxReplayPacketBytes {
			packet.CitationsManifest = packet.CitationsManifest[:len(packet.CitationsManifest)/2]
		}
		// Manifests alone can't always close the gap (a verbose final_answer
		// can exceed the cap on its own), so it's the last thing replaced.
		if estimateSize(packet) > maxReplayPacketBytes {
			packet.FinalAnswer = "[TRUNCATED]"
		}
	}

	return packet, nil
}

func estimateSize(p model.ReplayPacket) int {
	size := len(p.FinalAnswer) + len(p.UserQuery)
	size += len(p.RetrievalManifest) * 64
	size += len(p.ContextManifest) * 64
	size += len(p.CitationsManifest) * 96
	return size
}
