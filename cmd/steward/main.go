package main

import (
	"context"
	"os"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/joyedlion/steward/internal/bot"
	"github.com/joyedlion/steward/internal/broadcast"
	"github.com/joyedlion/steward/internal/config"
	"github.com/joyedlion/steward/internal/db/sqlite"
	"github.com/joyedlion/steward/internal/event"
	"github.com/joyedlion/steward/internal/handlers"
	"github.com/joyedlion/steward/internal/infra"
	"github.com/joyedlion/steward/internal/leveling"
	"github.com/joyedlion/steward/internal/lifecycle"
	"github.com/joyedlion/steward/internal/moderation"
	"github.com/joyedlion/steward/internal/observability"
	"github.com/joyedlion/steward/internal/platform/telegram"
	"github.com/joyedlion/steward/internal/tickets"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}
	log.SetFormatter(&config.StwFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		log.WithError(err).Fatalln("cant initialize observability")
	}

	infra.GoRecoverable(-1, "process_updates", func() {
		defer cancelFunc()

		botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
		if err != nil {
			log.WithError(err).Errorln("cant initialize bot api")
			time.Sleep(1 * time.Second)
			log.Fatalln("exiting")
		}
		if log.Level(cfg.LogLevel) == log.TraceLevel {
			botAPI.Debug = true
		}
		defer botAPI.StopReceivingUpdates()

		dbClient, err := sqlite.NewSQLiteClient(ctx, infra.GetWorkDir(), "steward.db")
		if err != nil {
			log.WithError(err).Fatalln("cant open database")
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				log.WithError(err).Errorln("cant close database")
			}
		}()

		ops := telegram.NewOperations(botAPI)
		bus := event.NewBus(0)
		notifier := event.NewStaffNotifier(bus, cfg.StaffLogChatID)

		engine := moderation.NewEngine(dbClient, ops, notifier, cfg.Moderation.ExternalTimeout)
		sweeper := moderation.NewSweeper(dbClient, engine, ops, cfg.Moderation.SweepInterval, cfg.Moderation.SweepParallel)
		warnings := moderation.NewWarnings(dbClient)
		levels := leveling.NewService(dbClient)
		ticketService := tickets.NewService(dbClient)

		service := bot.NewService(botAPI, dbClient)
		gatekeeper := handlers.NewGatekeeper(service, engine, ops, dbClient)

		runtime := lifecycle.NewRuntime(
			event.NewWorker(bus, ops),
			sweeper,
			gatekeeper,
		)
		if cfg.Broadcast.YouTubeAPIKey != "" && cfg.Broadcast.YouTubeChannelID != "" {
			announcer, err := broadcast.NewAnnouncer(ctx, dbClient, dbClient, bus,
				cfg.Broadcast.YouTubeAPIKey, cfg.Broadcast.YouTubeChannelID,
				cfg.Broadcast.AnnounceChatID, cfg.Broadcast.PingGroup, cfg.Broadcast.PollInterval)
			if err != nil {
				log.WithError(err).Errorln("cant initialize stream announcer")
			} else {
				runtime.Register(announcer)
			}
		}
		if err := runtime.Start(ctx); err != nil {
			log.WithError(err).Fatalln("cant start components")
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := runtime.Stop(stopCtx); err != nil {
				log.WithError(err).Errorln("cant stop components")
			}
		}()

		bot.RegisterUpdateHandler("moderation", handlers.NewModeration(service, engine, warnings, ops))
		bot.RegisterUpdateHandler("gatekeeper", gatekeeper)
		bot.RegisterUpdateHandler("scorekeeper", handlers.NewScorekeeper(service, levels, ops))
		bot.RegisterUpdateHandler("tickets", handlers.NewTickets(service, ticketService, ops))
		bot.RegisterUpdateHandler("reactor", handlers.NewReactor(service, dbClient, ops))

		updateConfig := api.NewUpdate(0)
		updateConfig.Timeout = 60
		updateConfig.AllowedUpdates = []string{
			"message", "edited_message", "callback_query",
			"chat_member", "my_chat_member", "message_reaction",
		}
		updateProcessor := bot.NewUpdateProcessor(service)

		updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)

		for {
			select {
			case err := <-errorChan:
				log.WithError(err).Fatalln("bot api get updates error")
			case update := <-updateChan:
				if err := updateProcessor.Process(ctx, &update); err != nil {
					log.WithError(err).Errorln("cant process update")
				}
			case <-ctx.Done():
				log.WithError(ctx.Err()).Errorln("no more updates")
				return
			}
		}
	})

	select {
	case <-infra.MonitorExecutable(ctx):
		log.Errorln("executable file was modified")
	case <-ctx.Done():
	}
	os.Exit(0)
}
