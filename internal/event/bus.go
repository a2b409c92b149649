package event

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Notice is a staff-log message queued for asynchronous delivery.
type Notice struct {
	ChatID    int64
	Text      string
	HTML      bool
	CreatedAt time.Time
}

// Bus is a bounded in-process queue of notices. Producers never block: when
// the queue is full the notice is dropped and counted against delivery, so
// the hot path stays live.
type Bus struct {
	q chan Notice
}

func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Bus{q: make(chan Notice, capacity)}
}

func (b *Bus) Enqueue(n Notice) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	select {
	case b.q <- n:
	default:
		log.WithField("chat_id", n.ChatID).Warn("notice queue full, dropping notice")
	}
}
