package heap

import (
	"github.com/wippyai/nativehandle"
)

// Event types for record lifecycle notifications.
type EventType uint8

const (
	EventAllocated EventType = iota
	EventDestroyed
	EventFieldSet
)

func (t EventType) String() string {
	switch t {
	case EventAllocated:
		return "allocated"
	case EventDestroyed:
		return "destroyed"
	case EventFieldSet:
		return "field-set"
	default:
		return "unknown"
	}
}

// Event represents a record lifecycle event.
type Event struct {
	Field   nativehandle.Field
	Value   string
	Address nativehandle.Address
	Type    EventType
}

// Observer receives notifications about record lifecycle events.
// Observers are called with no heap lock held.
type Observer interface {
	OnRecordEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnRecordEvent(e Event) { f(e) }

// Stats summarizes heap activity since creation.
type Stats struct {
	Allocated uint64
	Destroyed uint64
	Live      int
}
