package event

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	deliveryMaxRetries = 3
	deliveryRetryStep  = 300 * time.Millisecond
	noticeMaxAge       = 10 * time.Minute
)

// Sender delivers a notice text to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendHTML(ctx context.Context, chatID int64, html string) error
}

// Worker drains the bus and delivers notices with bounded retries. Notices
// older than noticeMaxAge are discarded instead of delivered late.
type Worker struct {
	bus    *Bus
	sender Sender
	logger *log.Entry

	startStopMutex sync.Mutex
	started        bool
	workerCancel   context.CancelFunc
	workerWG       sync.WaitGroup
}

func NewWorker(bus *Bus, sender Sender) *Worker {
	return &Worker{
		bus:    bus,
		sender: sender,
		logger: log.WithField("context", "notice_worker"),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.startStopMutex.Lock()
	defer w.startStopMutex.Unlock()
	if w.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.workerCancel = cancel

	w.workerWG.Add(1)
	go func() {
		defer w.workerWG.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case n := <-w.bus.q:
				w.deliver(runCtx, n)
			}
		}
	}()

	w.started = true
	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	w.startStopMutex.Lock()
	if !w.started {
		w.startStopMutex.Unlock()
		return nil
	}
	w.started = false
	cancel := w.workerCancel
	w.startStopMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.workerWG.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (w *Worker) deliver(ctx context.Context, n Notice) {
	if n.ChatID == 0 {
		return
	}
	if time.Since(n.CreatedAt) > noticeMaxAge {
		w.logger.WithField("age", time.Since(n.CreatedAt)).Debug("skipping stale notice")
		return
	}

	var lastErr error
	for attempt := 0; attempt < deliveryMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * deliveryRetryStep):
			}
		}
		send := w.sender.SendText
		if n.HTML {
			send = w.sender.SendHTML
		}
		if lastErr = send(ctx, n.ChatID, n.Text); lastErr == nil {
			return
		}
	}
	w.logger.WithFields(log.Fields{
		"chat_id": n.ChatID,
		"error":   lastErr.Error(),
	}).Error("failed to deliver notice")
}
