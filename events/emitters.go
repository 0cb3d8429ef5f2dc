package events

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Emitter receives committed events.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// Recorder keeps every event in memory, in emission order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events whose type matches eventType.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.EventType() == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// LogEmitter writes each event as a structured log line.
type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(ev Event) {
	attrs := Attributes(ev)
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+1)
	fields = append(fields, zap.String("type", ev.EventType()))
	for _, k := range keys {
		fields = append(fields, zap.String(k, attrs[k]))
	}
	l.logger.Info("Event emitted", fields...)
}

// Fanout forwards each event to every wrapped emitter in order.
type Fanout []Emitter

func (f Fanout) Emit(ev Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(ev)
		}
	}
}
