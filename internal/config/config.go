package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string   `env:"TOKEN,required"`
		EnabledHandlers  []string `env:"HANDLERS,default=moderation,gatekeeper,scorekeeper,tickets,reactor"`
		LogLevel         int      `env:"LOG_LEVEL,default=2"`
		DotPath          string   `env:"DOT_PATH,default=~/.steward"`
		StaffLogChatID   int64    `env:"STAFF_LOG_CHAT_ID"`
		MetricsAddr      string   `env:"METRICS_ADDR,default=:2112"`
		Moderation       Moderation
		Verification     Verification
		Broadcast        Broadcast
	}

	Moderation struct {
		SweepInterval   time.Duration `env:"SWEEP_INTERVAL,default=30s"`
		ExternalTimeout time.Duration `env:"EXTERNAL_TIMEOUT,default=10s"`
		SweepParallel   int           `env:"SWEEP_PARALLEL,default=4"`
		BannedWords     []string      `env:"BANNED_WORDS"`
		LinkWhitelist   []string      `env:"LINK_WHITELIST"`
	}

	Verification struct {
		ChallengeTimeout time.Duration `env:"VERIFY_TIMEOUT,default=3m"`
		WelcomeEnabled   bool          `env:"WELCOME_ENABLED,default=true"`
	}

	Broadcast struct {
		YouTubeAPIKey    string        `env:"YOUTUBE_API_KEY"`
		YouTubeChannelID string        `env:"YOUTUBE_CHANNEL_ID"`
		AnnounceChatID   int64         `env:"ANNOUNCE_CHAT_ID"`
		PingGroup        string        `env:"ANNOUNCE_PING_GROUP,default=stream"`
		PollInterval     time.Duration `env:"YOUTUBE_POLL_INTERVAL,default=60s"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("STW_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
