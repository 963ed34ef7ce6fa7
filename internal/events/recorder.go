package events

import (
	"log"

	"github.com/pingsantohq/connprobe/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// LogRecorder writes every event as a single log line.
type LogRecorder struct {
	Logger *log.Logger
}

func (l LogRecorder) Record(event types.Event) {
	if l.Logger == nil {
		return
	}
	if event.Address != "" {
		l.Logger.Printf("event type=%s address=%s details=%v", event.Type, event.Address, event.Details)
		return
	}
	l.Logger.Printf("event type=%s details=%v", event.Type, event.Details)
}
