package stats

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of the presence and message counters.
type Snapshot struct {
	Connects          uint64    `json:"connects"`
	Disconnects       uint64    `json:"disconnects"`
	ActivityUpdates   uint64    `json:"activity_updates"`
	MessagesRelayed   uint64    `json:"messages_relayed"`
	MessagesDelivered uint64    `json:"messages_delivered"`
	MessageFailures   uint64    `json:"message_failures"`
	OnlineUsers       int64     `json:"online_users"`
	PeakOnlineUsers   int64     `json:"peak_online_users"`
	LastEventAt       time.Time `json:"last_event_at,omitempty"`
}

// Collector aggregates presence events.
type Collector struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) touch(at time.Time) {
	if at.After(c.snap.LastEventAt) {
		c.snap.LastEventAt = at
	}
}

// Connected records a user going online.
func (c *Collector) Connected(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Connects++
	c.snap.OnlineUsers++
	if c.snap.OnlineUsers > c.snap.PeakOnlineUsers {
		c.snap.PeakOnlineUsers = c.snap.OnlineUsers
	}
	c.touch(at)
}

// Disconnected records a user going offline.
func (c *Collector) Disconnected(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Disconnects++
	if c.snap.OnlineUsers > 0 {
		c.snap.OnlineUsers--
	}
	c.touch(at)
}

// ActivityUpdated records an activity change.
func (c *Collector) ActivityUpdated(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.ActivityUpdates++
	c.touch(at)
}

// MessageRelayed records a persisted message.
func (c *Collector) MessageRelayed(delivered bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.MessagesRelayed++
	if delivered {
		c.snap.MessagesDelivered++
	}
	c.touch(at)
}

// MessageFailed records a rejected message.
func (c *Collector) MessageFailed(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.MessageFailures++
	c.touch(at)
}

// Snapshot returns a copy of the counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}
