package golin

// DefaultHeartbeatThreshold is the number of valid frames between two
// data-valid heartbeat toggles.
const DefaultHeartbeatThreshold = 10

// EventCounter counts validated frames since the last heartbeat.
// It is only touched from interrupt context and carries no lock of its own.
type EventCounter struct {
	threshold  int
	count      int
	heartbeats uint64
}

func NewEventCounter(threshold int) *EventCounter {
	if threshold <= 0 {
		threshold = DefaultHeartbeatThreshold
	}
	return &EventCounter{threshold: threshold}
}

// Add records one validated frame. It returns true when the threshold is
// reached, in which case the count is back at zero.
func (c *EventCounter) Add() bool {
	c.count++
	if c.count == c.threshold {
		c.count = 0
		c.heartbeats++
		return true
	}
	return false
}

func (c *EventCounter) Count() int         { return c.count }
func (c *EventCounter) Threshold() int     { return c.threshold }
func (c *EventCounter) Heartbeats() uint64 { return c.heartbeats }
