package xjob

import (
	"sync"
	"time"
)

// EventKind 任务事件类型
type EventKind string

const (
	EventEnqueued  EventKind = "enqueued"
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventRetrying  EventKind = "retrying"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
	EventReclaimed EventKind = "reclaimed"
)

// Event 任务状态变化事件。Delay 仅 retrying 有效。
type Event struct {
	Kind    EventKind     `json:"kind"`
	JobID   string        `json:"job_id,omitempty"`
	Type    string        `json:"type,omitempty"`
	Tenant  string        `json:"tenant,omitempty"`
	Attempt int           `json:"attempt,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"`
	Error   string        `json:"error,omitempty"`
	At      time.Time     `json:"at"`
}

// hub 非阻塞广播，慢订阅者丢事件
type hub struct {
	mu   sync.Mutex
	subs []chan Event
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, c := range h.subs {
				if c == ch {
					h.subs = append(h.subs[:i], h.subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
}
