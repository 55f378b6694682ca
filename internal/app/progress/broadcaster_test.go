package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStream struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingStream) Send(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingStream) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestBroadcaster_PublishAssignsSequence(t *testing.T) {
	b := NewBroadcaster()
	s := &recordingStream{}
	b.Subscribe(s)

	b.Publish(Event{RunID: "r", State: StateCollectingSeeds})
	b.Publish(Event{RunID: "r", State: StateDone})

	events := s.Events()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].SequenceNo)
	assert.Equal(t, uint64(2), events[1].SequenceNo)
	assert.Equal(t, StateDone, events[1].State)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()
	s := &recordingStream{}
	id := b.Subscribe(s)
	assert.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(id)
	b.Publish(Event{State: StateDone})

	assert.Empty(t, s.Events())
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroadcaster_FailingSubscriberDoesNotAffectOthers(t *testing.T) {
	b := NewBroadcaster()
	bad := &recordingStream{err: errors.New("closed")}
	good := &recordingStream{}
	b.Subscribe(bad)
	b.Subscribe(good)

	b.Publish(Event{State: StateDone})

	assert.Len(t, good.Events(), 1)
}

func TestBroadcaster_SlowSubscriberTimesOut(t *testing.T) {
	b := NewBroadcaster()
	block := make(chan struct{})
	defer close(block)
	b.Subscribe(StreamFunc(func(Event) error {
		<-block
		return nil
	}))

	start := time.Now()
	b.Publish(Event{State: StateDone})
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBroadcaster_SubscribeChan(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.SubscribeChan(1)

	b.Publish(Event{State: StateMatchingLibrary})
	b.Publish(Event{State: StateDone}) // dropped, buffer is full

	got := <-ch
	assert.Equal(t, StateMatchingLibrary, got.State)

	cancel()
	b.Publish(Event{State: StateFailed})
	select {
	case e := <-ch:
		t.Fatalf("unexpected event after cancel: %+v", e)
	default:
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	b.Subscribe(&recordingStream{})
	b.Close()
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "fetching_similarity", StateFetchingSimilarity.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateFinalizing.IsTerminal())
}
