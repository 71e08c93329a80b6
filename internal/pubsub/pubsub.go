// Package pubsub implements the per-session event queues and fan-out
// dispatcher of spec §4.9: three bounded channels per session
// (depiUpdates, blackboardUpdates, resourceUpdates), each terminated by
// a sentinel value rather than by closing the Go channel, so a
// streaming RPC handler can tell "no more events" apart from
// "channel closed out from under me".
package pubsub

import "sync"

// EventKind names which of the three channels an Event belongs to.
type EventKind int

const (
	DepiEvent EventKind = iota
	BlackboardEvent
	ResourceEvent
)

// Event is one notification pushed to a subscribed session. Kind
// selects the queue; Operation/Payload carry the update's content
// (e.g. "AddResource", "AddLink", "LinkDirtied") and the affected
// coordinates. Fields are intentionally loose (map[string]string)
// since the wire encoding of an update's payload is opaque to this
// package, matching the RPC layer's message shapes.
type Event struct {
	Kind      EventKind
	Operation string
	Branch    string
	ToolID    string
	GroupURL  string
	Payload   map[string]string
}

// sentinel is pushed to terminate a queue; Dequeue returns ok=false
// when it is received, matching spec §4.9's "streams terminate when
// the queue receives a sentinel".
var sentinel = Event{Operation: "__close__"}

const queueCapacity = 256

// SessionQueues holds one session's three bounded event channels.
type SessionQueues struct {
	mu     sync.Mutex
	closed bool

	depi       chan Event
	blackboard chan Event
	resource   chan Event
}

// NewSessionQueues allocates the three bounded channels for a new
// session.
func NewSessionQueues() *SessionQueues {
	return &SessionQueues{
		depi:       make(chan Event, queueCapacity),
		blackboard: make(chan Event, queueCapacity),
		resource:   make(chan Event, queueCapacity),
	}
}

func (q *SessionQueues) channel(kind EventKind) chan Event {
	switch kind {
	case BlackboardEvent:
		return q.blackboard
	case ResourceEvent:
		return q.resource
	default:
		return q.depi
	}
}

// Push enqueues an event on the named channel, dropping it silently if
// the queue is already closed or full (a full queue means the
// subscriber has fallen far enough behind that further buffering
// wouldn't help; the sweeper/timeout path is the real backstop).
func (q *SessionQueues) Push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.channel(e.Kind) <- e:
	default:
	}
}

// Dequeue blocks until an event or the sentinel arrives on kind's
// channel. ok is false once the sentinel has been received.
func (q *SessionQueues) Dequeue(kind EventKind) (Event, bool) {
	e := <-q.channel(kind)
	if e.Operation == sentinel.Operation {
		return Event{}, false
	}
	return e, true
}

// CloseAll pushes the sentinel to all three channels, terminating any
// blocked Dequeue callers; used by session timeout and Logout (spec
// §4.8: "Closing a session drains and terminates its three event
// queues").
func (q *SessionQueues) CloseAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.depi <- sentinel
	q.blackboard <- sentinel
	q.resource <- sentinel
}

// Dispatcher fans mutation events out to every active session matching
// the routing rule in spec §4.9: branch name equality, the relevant
// watching* flag, and for resource events, the session's watched-group
// set.
type Dispatcher struct {
	sessions SessionLister
}

// SessionLister is the subset of session.Manager the dispatcher needs;
// declared here (rather than imported) to avoid a pubsub->session
// import cycle, since session already imports pubsub for SessionQueues.
type SessionLister interface {
	Sessions() []Subscriber
}

// Subscriber is the subset of a session the dispatcher routes against.
type Subscriber struct {
	Branch         string
	WatchingDepi   bool
	WatchingBoard  bool
	WatchingRes    bool
	WatchedGroup   func(toolID, url string) bool
	Queues         *SessionQueues
}

// NewDispatcher wraps a SessionLister.
func NewDispatcher(sessions SessionLister) *Dispatcher {
	return &Dispatcher{sessions: sessions}
}

// Publish routes e to every subscriber whose branch matches and whose
// relevant watching flag is set.
func (d *Dispatcher) Publish(e Event) {
	for _, sub := range d.sessions.Sessions() {
		if sub.Branch != e.Branch {
			continue
		}
		switch e.Kind {
		case DepiEvent:
			if sub.WatchingDepi {
				sub.Queues.Push(e)
			}
		case BlackboardEvent:
			if sub.WatchingBoard {
				sub.Queues.Push(e)
			}
		case ResourceEvent:
			if sub.WatchingRes && (sub.WatchedGroup == nil || sub.WatchedGroup(e.ToolID, e.GroupURL)) {
				sub.Queues.Push(e)
			}
		}
	}
}
