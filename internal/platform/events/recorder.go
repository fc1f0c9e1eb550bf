package events

import "sync"

// Published is one call captured by Recorder.
type Published struct {
	Subject string
	Event   Event
}

// Recorder is an in-process Sink that keeps every event. Used in tests and in
// development when NATS is not configured.
type Recorder struct {
	mu     sync.Mutex
	events []Published
}

func (r *Recorder) Publish(subject, eventName, actorID string, props map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Subject: subject, Event: Envelope(eventName, actorID, props)})
}

// Events returns a copy of what was published so far.
func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Published, len(r.events))
	copy(out, r.events)
	return out
}
