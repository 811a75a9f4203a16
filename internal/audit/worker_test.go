package audit

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travlr/internal/platform/metrics"
	"travlr/pkg/domain"
)

var testMetrics = metrics.New()

type recordingSink struct {
	events chan Event
}

func (s *recordingSink) Publish(_ context.Context, event Event) error {
	s.events <- event
	return nil
}

func testActor(t *testing.T) domain.AID {
	t.Helper()
	aid, err := domain.ParseAID("E" + strings.Repeat("A", 44))
	require.NoError(t, err)
	return aid
}

func TestWorkerPersistsAndFansOut(t *testing.T) {
	store := NewInMemoryStore()
	sink := &recordingSink{events: make(chan Event, 8)}
	w := NewWorker(store, sink, testMetrics, slog.Default())
	go w.Run()

	actor := testActor(t)
	w.Record(context.Background(), ActionConsentApproved, actor, "req-1",
		map[string]any{"fields": 2})
	w.Record(context.Background(), ActionConsentRevoked, actor, "req-1", nil)
	w.Close()

	all := store.All()
	require.Len(t, all, 2)
	assert.Equal(t, ActionConsentApproved, all[0].Action)
	assert.Equal(t, ActionConsentRevoked, all[1].Action)
	assert.Equal(t, actor, all[0].Actor)
	assert.False(t, all[0].At.IsZero())

	// Both events also reached the sink.
	for i := 0; i < 2; i++ {
		select {
		case <-sink.events:
		case <-time.After(time.Second):
			t.Fatal("sink did not receive event")
		}
	}
}

func TestByActorNewestFirst(t *testing.T) {
	store := NewInMemoryStore()
	w := NewWorker(store, nil, testMetrics, slog.Default())
	go w.Run()

	actor := testActor(t)
	w.Record(context.Background(), ActionConsentRequested, actor, "req-1", nil)
	w.Record(context.Background(), ActionConsentApproved, actor, "req-1", nil)
	w.Close()

	events, err := store.ByActor(context.Background(), actor, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ActionConsentApproved, events[0].Action)
}
