package golin

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"
)

type EventType int

func (et EventType) String() string {
	switch et {
	case EventTypeError:
		return "ERROR"
	case EventTypeWarning:
		return "WARN"
	case EventTypeInfo:
		return "INFO"
	case EventTypeDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

type Event struct {
	Type    EventType
	Details string
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Type.String(), e.Details)
}

// eventQueue is a bounded event channel written from interrupt context.
// Sends never block, a full queue drops the event and logs the caller.
type eventQueue struct {
	ch chan Event
}

func newEventQueue(size int) eventQueue {
	return eventQueue{ch: make(chan Event, size)}
}

func (q eventQueue) send(eventType EventType, details string) {
	select {
	case q.ch <- Event{Type: eventType, Details: details}:
	default:
		_, file, no, ok := runtime.Caller(2)
		if ok {
			log.Printf("%s#%d event channel full: %s\n", filepath.Base(file), no, details)
		} else {
			log.Printf("event channel full: %s", details)
		}
	}
}

func (q eventQueue) Error(err error)     { q.send(EventTypeError, err.Error()) }
func (q eventQueue) Warn(warn string)    { q.send(EventTypeWarning, warn) }
func (q eventQueue) Info(info string)    { q.send(EventTypeInfo, info) }
func (q eventQueue) Debug(debug string)  { q.send(EventTypeDebug, debug) }
func (q eventQueue) Event() <-chan Event { return q.ch }
