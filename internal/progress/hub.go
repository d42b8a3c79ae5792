package progress

import (
	"sync"
	"time"
)

type Stage string

const (
	StageStarted  Stage = "started"
	StageBatch    Stage = "batch"
	StageFinished Stage = "finished"
	StageFailed   Stage = "failed"
)

// Event describes one step of a sync run.
type Event struct {
	Kind    string    `json:"kind"`
	Stage   Stage     `json:"stage"`
	Batch   int       `json:"batch,omitempty"`
	Batches int       `json:"batches"`
	Due     int       `json:"due"`
	Written int       `json:"written"`
	Dropped int       `json:"dropped"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Hub fans events out to subscribers. Slow subscribers miss events rather
// than block publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events and a function that releases it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
