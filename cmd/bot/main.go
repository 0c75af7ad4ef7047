package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/skylantern/voicetime/internal/config"
	"github.com/skylantern/voicetime/internal/database"
	"github.com/skylantern/voicetime/internal/discord"
	"github.com/skylantern/voicetime/internal/engine"
	"github.com/skylantern/voicetime/internal/quest"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", "err", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Level: level})
	log.SetDefault(logger)

	// Initialize database
	db, err := database.New(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("Failed to initialize database", "err", err)
	}
	defer db.Close()

	session, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		log.Fatal("Failed to create Discord session", "err", err)
	}
	messenger := discord.NewMessenger(session)
	dir := discord.NewStateDirectory(session.State)

	var sink quest.RewardSink = discord.LogSink{Logger: logger.WithPrefix("quest")}
	if cfg.QuestChannelID != "" {
		sink = discord.NewQuestAnnouncer(messenger, cfg.QuestChannelID)
	}

	eng, err := engine.New(db, dir, sink, engine.Options{
		Core:         cfg.Core,
		SchedulePath: cfg.SchedulePath,
		DropCount:    cfg.DropCount,
		Logger:       logger,
	})
	if err != nil {
		log.Fatal("Failed to build engine", "err", err)
	}

	bot := discord.New(session, discord.Deps{
		Clock:     eng.Clock,
		Presence:  eng.Tracker,
		Channels:  eng.Ledger,
		Totals:    eng.Periods,
		Directory: dir,
		Messenger: messenger,
		Admins:    cfg.AdminIDs,
		Logger:    logger.WithPrefix("discord"),
	})

	var board *discord.Board
	if cfg.BoardChannelID != "" {
		board = discord.NewBoard(eng.Clock, eng.Periods, messenger, cfg.BoardChannelID, logger.WithPrefix("board"))
		for h := 0; h < 24; h++ {
			if err := eng.Scheduler.EveryDayAt(h, 0, fmt.Sprintf("rank-board-%02d", h), board.Job); err != nil {
				log.Fatal("Failed to schedule rank board", "err", err)
			}
		}
	}
	if cfg.DropChannelID != "" {
		if _, err := eng.ArmDrops(discord.DropAnnouncer(messenger, cfg.DropChannelID, logger.WithPrefix("drops"))); err != nil {
			logger.Error("Failed to arm drops", "err", err)
		}
	}

	// Start bot
	if err := bot.Start(); err != nil {
		log.Fatal("Failed to start bot", "err", err)
	}
	if err := eng.Start(); err != nil {
		log.Fatal("Failed to start scheduler", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	if board != nil {
		g.Go(func() error {
			board.Job(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down bot...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(eng.Shutdown(shutdownCtx), bot.Stop())
	})

	if err := g.Wait(); err != nil {
		logger.Error("Shutdown incomplete", "err", err)
	}
}
