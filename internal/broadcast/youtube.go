package broadcast

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	youtube "google.golang.org/api/youtube/v3"

	"github.com/joyedlion/steward/internal/event"
)

const kvLastLiveVideoID = "broadcast:youtube:last_live_video_id"

type stateStore interface {
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}

type groupStore interface {
	GetGroupMembers(ctx context.Context, chatID int64, groupName string) ([]int64, error)
}

// Announcer polls a YouTube channel for live streams and posts an
// announcement when one starts. Detection is edge triggered on the video
// id, persisted in the key-value store, so a restart mid-stream does not
// re-announce it.
type Announcer struct {
	state     stateStore
	groups    groupStore
	bus       *event.Bus
	service   *youtube.Service
	channelID string
	chatID    int64
	pingGroup string
	interval  time.Duration
	logger    *log.Entry

	startStopMutex sync.Mutex
	started        bool
	workerCancel   context.CancelFunc
	workerWG       sync.WaitGroup
}

func NewAnnouncer(ctx context.Context, state stateStore, groups groupStore, bus *event.Bus, apiKey, channelID string, chatID int64, pingGroup string, interval time.Duration) (*Announcer, error) {
	service, err := youtube.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Announcer{
		state:     state,
		groups:    groups,
		bus:       bus,
		service:   service,
		channelID: channelID,
		chatID:    chatID,
		pingGroup: pingGroup,
		interval:  interval,
		logger:    log.WithField("context", "youtube_announcer"),
	}, nil
}

func (a *Announcer) Start(ctx context.Context) error {
	a.startStopMutex.Lock()
	defer a.startStopMutex.Unlock()
	if a.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.workerCancel = cancel

	a.workerWG.Add(1)
	go func() {
		defer a.workerWG.Done()

		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := a.poll(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.WithField("error", err.Error()).Warn("poll failed")
				}
			}
		}
	}()

	a.started = true
	return nil
}

func (a *Announcer) Stop(ctx context.Context) error {
	a.startStopMutex.Lock()
	if !a.started {
		a.startStopMutex.Unlock()
		return nil
	}
	a.started = false
	cancel := a.workerCancel
	a.startStopMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.workerWG.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (a *Announcer) poll(ctx context.Context) error {
	call := a.service.Search.List([]string{"snippet"}).
		ChannelId(a.channelID).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx)
	resp, err := call.Do()
	if err != nil {
		return fmt.Errorf("search live streams: %w", err)
	}

	if len(resp.Items) == 0 {
		// Channel went offline; clear the edge so the next stream announces.
		return a.state.SetKV(ctx, kvLastLiveVideoID, "")
	}

	item := resp.Items[0]
	videoID := item.Id.VideoId
	last, err := a.state.GetKV(ctx, kvLastLiveVideoID)
	if err != nil {
		return fmt.Errorf("read last live video id: %w", err)
	}
	if videoID == "" || videoID == last {
		return nil
	}

	if err := a.state.SetKV(ctx, kvLastLiveVideoID, videoID); err != nil {
		return fmt.Errorf("store last live video id: %w", err)
	}

	a.announce(ctx, item.Snippet.Title, videoID)
	return nil
}

func (a *Announcer) announce(ctx context.Context, title, videoID string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Live now: %s\nhttps://youtu.be/%s", html.EscapeString(title), videoID)

	if a.pingGroup != "" {
		members, err := a.groups.GetGroupMembers(ctx, a.chatID, a.pingGroup)
		if err != nil {
			a.logger.WithField("error", err.Error()).Warn("cant load ping group")
		}
		if len(members) > 0 {
			b.WriteString("\n")
			for _, userID := range members {
				fmt.Fprintf(&b, `<a href="tg://user?id=%d">&#8288;</a>`, userID)
			}
		}
	}

	a.bus.Enqueue(event.Notice{
		ChatID:    a.chatID,
		Text:      b.String(),
		HTML:      true,
		CreatedAt: time.Now(),
	})
	a.logger.WithFields(log.Fields{"video_id": videoID, "title": title}).Info("live stream announced")
}
