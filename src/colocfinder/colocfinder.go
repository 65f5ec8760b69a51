package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/TheBloodMan49/colocfinder/src/colocfinder/bot"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/config"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/data"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/logger"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if werr := config.WriteDefault(cfgPath); werr != nil {
			log.Fatalf("write config template: %v", werr)
		}
		log.Printf("wrote config template to %s", cfgPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logg := logger.New(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir %s: %v", cfg.DataDir, err)
	}

	db := data.MustSQLite(cfg.DatabasePath())

	rdb := data.OptionalRedis(cfg.RedisURL, logg)

	b, err := bot.New(bot.Config{
		Token:                cfg.DiscordToken,
		ChannelID:            cfg.ChannelID,
		InterestingChannelID: cfg.InterestingChannelID,
		DB:                   db,
		Redis:                rdb,
		Cities:               cfg.Cities,
		CheckInterval:        cfg.CheckInterval(),
		MinRooms:             cfg.MinRooms,
		MaxListingAge:        cfg.MaxListingAge(),
		UserAgent:            cfg.UserAgent,
		RequestDelay:         cfg.RequestDelay(),
		CookiesPath:          cfg.CookiesPath(),
		Logger:               logg,
	})
	if err != nil {
		log.Fatalf("create bot: %v", err)
	}

	if err := b.Start(); err != nil {
		log.Fatalf("start bot: %v", err)
	}

	logg.Info("colocfinder running, press CTRL-C to exit",
		"config", cfgPath,
		"database", filepath.Base(cfg.DatabasePath()),
		"cities", len(cfg.Cities),
	)

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	b.Stop()
	logg.Info("colocfinder stopped")
}
