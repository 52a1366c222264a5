package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperflow/pipeline/pkg/models"
)

type fakeStore struct {
	calls []struct {
		runID   models.RunID
		kind    string
		payload []byte
		channel string
	}
}

func (f *fakeStore) PersistAndNotify(ctx context.Context, runID models.RunID, kind string, payload []byte, channel string) (int64, error) {
	f.calls = append(f.calls, struct {
		runID   models.RunID
		kind    string
		payload []byte
		channel string
	}{runID, kind, payload, channel})
	return int64(len(f.calls)), nil
}

func TestPublisher_PublishTask_PersistsAndFansOutLocally(t *testing.T) {
	store := &fakeStore{}
	bus := NewBus()
	sub, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	pub := NewPublisher(store, bus)
	err := pub.PublishTask(context.Background(), models.RunID("run-1"), TaskEventPayload{
		Type: EventTaskCompleted, TaskID: "task-1", AgentID: "PAPER_PROCESSOR",
		UserID: "user-1", Status: "completed", Timestamp: time.Now(),
	})
	require.NoError(t, err)

	require.Len(t, store.calls, 1)
	assert.Equal(t, EventTaskCompleted, store.calls[0].kind)
	assert.Equal(t, RunChannel("run-1"), store.calls[0].channel)

	select {
	case env := <-sub:
		assert.Equal(t, EventTaskCompleted, env.Kind)
		var event Event
		require.NoError(t, json.Unmarshal(env.Payload, &event))
		assert.Equal(t, "task-1", event.TaskID)
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, "completed", event.Detail["status"])
	case <-time.After(time.Second):
		t.Fatal("expected event on local bus subscription")
	}
}

func TestPublisher_PublishCircuit_UsesGlobalChannel(t *testing.T) {
	store := &fakeStore{}
	pub := NewPublisher(store, nil)

	err := pub.PublishCircuit(context.Background(), CircuitEventPayload{
		Type: EventCircuitOpened, AgentID: "QUALITY_CHECKER", Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, store.calls, 1)
	assert.Equal(t, GlobalRunsChannel, store.calls[0].channel)
	assert.Equal(t, models.RunID(""), store.calls[0].runID)
}

func TestPublisher_PublishRun_CarriesProgressInDetail(t *testing.T) {
	store := &fakeStore{}
	pub := NewPublisher(store, nil)

	err := pub.PublishRun(context.Background(), models.RunID("run-2"), RunEventPayload{
		Type: EventPipelineStageComplete, RunID: "run-2", CurrentStage: "PAPER_PROCESSOR",
		ProgressPercent: 15, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, store.calls, 1)

	var event Event
	require.NoError(t, json.Unmarshal(store.calls[0].payload, &event))
	assert.EqualValues(t, 15, event.Detail["progress_percent"])
	assert.Equal(t, "PAPER_PROCESSOR", event.Detail["current_stage"])
}

func TestBus_DropsEventWhenSubscriberBufferFull(t *testing.T) {
	bus := NewBus()
	sub, unsubscribe := bus.Subscribe(1)
	defer unsubscribe()

	bus.Publish(Envelope{Kind: "A"})
	bus.Publish(Envelope{Kind: "B"}) // buffer full, dropped silently

	env := <-sub
	assert.Equal(t, "A", env.Kind)
}
