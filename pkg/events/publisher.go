package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paperflow/pipeline/pkg/models"
)

// EventStore is the subset of pgdb.EventRepo the Publisher needs, kept as an
// interface so events has no compile-time dependency on pgdb (the inverse
// of the teacher's EventPublisher, which holds a *sql.DB directly — our
// persistence layer already owns the insert+pg_notify transaction, so the
// publisher only has to marshal and forward).
type EventStore interface {
	PersistAndNotify(ctx context.Context, runID models.RunID, kind string, payload []byte, channel string) (int64, error)
}

// Publisher is the typed, fire-and-forget event publication surface used by
// pkg/agenttask, pkg/reliability callers, and pkg/orchestrator.
type Publisher struct {
	store EventStore
	bus   *Bus
}

// NewPublisher wraps an EventStore (normally a *pgdb.Client's EventRepo) and
// an in-process Bus for local fan-out. bus may be nil to skip local fan-out.
func NewPublisher(store EventStore, bus *Bus) *Publisher {
	return &Publisher{store: store, bus: bus}
}

// PublishTask persists+notifies a task lifecycle event on its run's channel.
// runID is threaded separately since TaskEventPayload itself carries no run
// correlation id; callers pass the task record's RunID.
func (p *Publisher) PublishTask(ctx context.Context, runID models.RunID, payload TaskEventPayload) error {
	event := payload.toEvent()
	event.RunID = string(runID)
	return p.publish(ctx, runID, payload.Type, event)
}

// PublishCircuit persists+notifies a CIRCUIT_OPENED/HALF_OPEN/CLOSED event.
// Circuit transitions are process-wide, not tied to one run, so they publish
// under the empty run id and the global channel only.
func (p *Publisher) PublishCircuit(ctx context.Context, payload CircuitEventPayload) error {
	return p.publish(ctx, "", payload.Type, payload.toEvent())
}

// PublishRun persists+notifies one PIPELINE_* event for a run.
func (p *Publisher) PublishRun(ctx context.Context, runID models.RunID, payload RunEventPayload) error {
	return p.publish(ctx, runID, payload.Type, payload.toEvent())
}

func (p *Publisher) publish(ctx context.Context, runID models.RunID, kind string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshaling %s payload: %w", kind, err)
	}

	channel := GlobalRunsChannel
	if runID != "" {
		channel = RunChannel(string(runID))
	}

	if _, err := p.store.PersistAndNotify(ctx, runID, kind, body, channel); err != nil {
		return fmt.Errorf("events: persisting %s: %w", kind, err)
	}

	if p.bus != nil {
		p.bus.Publish(Envelope{RunID: runID, Kind: kind, Payload: body})
	}
	return nil
}
