package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/TheBloodMan49/colocfinder/src/colocfinder/components/filter"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/components/poster"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/components/scheduler"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/components/scraper"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/store"
)

type Config struct {
	Token                string
	ChannelID            string
	InterestingChannelID string
	DB                   *gorm.DB
	Redis                *redis.Client
	Cities               []string
	CheckInterval        time.Duration
	MinRooms             int
	MaxListingAge        time.Duration
	UserAgent            string
	RequestDelay         time.Duration
	CookiesPath          string
	Logger               *slog.Logger
}

type Bot struct {
	session   *discordgo.Session
	db        *gorm.DB
	rdb       *redis.Client
	config    Config
	store     *store.Store
	source    *scraper.Leboncoin
	poster    *poster.Poster
	scheduler *scheduler.Scheduler
	log       *slog.Logger
	startedAt time.Time
	paused    atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(config Config) (*Bot, error) {
	dg, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	bot := &Bot{
		session: dg,
		db:      config.DB,
		rdb:     config.Redis,
		config:  config,
		log:     config.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := bot.initializeComponents(); err != nil {
		cancel()
		return nil, err
	}

	bot.registerHandlers()

	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	return bot, nil
}

func (b *Bot) initializeComponents() error {
	st, err := store.New(b.db, b.log)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	b.store = st

	// A missing cookie file yields nil without error; only a malformed
	// one is worth a warning.
	cookies, err := scraper.LoadCookies(b.config.CookiesPath)
	if err != nil {
		b.log.Warn("cookies not loaded, requests run without them", "path", b.config.CookiesPath, "error", err)
	}

	fetcher, err := scraper.NewFetcher(b.config.UserAgent, b.config.RequestDelay, cookies, b.log)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	b.source = scraper.NewLeboncoin(fetcher, b.log)

	b.poster = poster.New(b.session, b.store, b.rdb, b.config.ChannelID, b.config.InterestingChannelID, b.log)

	f := filter.New(filter.Config{
		MinRooms:      b.config.MinRooms,
		MaxListingAge: b.config.MaxListingAge,
	})
	b.scheduler = scheduler.New([]scheduler.Source{b.source}, b.store, b.poster, f,
		b.config.Cities, b.config.CheckInterval, &b.paused, b.log)

	return nil
}

func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.handleInteraction)
}

func (b *Bot) Start() error {
	b.startedAt = time.Now()
	return b.session.Open()
}

func (b *Bot) Stop() {
	b.cancel()
	b.wg.Wait()
	b.session.Close()
}

func (b *Bot) handleReady(s *discordgo.Session, event *discordgo.Ready) {
	b.log.Info("discord bot logged in", "user", event.User.Username)

	b.registerCommands(s, event.User.ID)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.scheduler.Start(b.ctx)
	}()
}
