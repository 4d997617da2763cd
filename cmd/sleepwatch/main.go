package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"sleepwatch/internal/config"
	"sleepwatch/internal/dispatch"
	"sleepwatch/internal/monitor"
	"sleepwatch/internal/notifier"
	"sleepwatch/internal/scraper"
	"sleepwatch/internal/storage"
)

func main() {
	// A missing .env is fine: the environment may already carry everything.
	_ = godotenv.Load()

	// --- Configuration Loading ---
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	log := newLogger(cfg)
	log.WithFields(logrus.Fields{
		"source_url":   cfg.SourceURL,
		"notifier":     cfg.Notifier,
		"store_driver": cfg.StoreDriver,
		"store_path":   cfg.StorePath,
	}).Info("Configuration loaded successfully")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("sleepwatch exited with error")
		os.Exit(1)
	}
	log.Info("sleepwatch shut down gracefully.")
}

// run starts the daemon and blocks until shutdown. Deferred cleanup runs on
// every return path.
func run(cfg config.Config, log *logrus.Logger) error {
	// --- Initialize Components ---
	store, err := storage.Open(cfg.StoreDriver, cfg.StorePath, log)
	if err != nil {
		return fmt.Errorf("initialize seen-set store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Error("Error closing store")
		}
	}()

	if n, err := store.Count(context.Background()); err != nil {
		log.WithError(err).Warn("Could not count seen items")
	} else {
		log.WithField("count", n).Info("Seen-set loaded")
	}

	src, err := newScraper(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize scraper: %w", err)
	}

	push, err := newNotifier(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize notifier: %w", err)
	}

	// --- Application Startup ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := dispatch.NewQueue(cfg.DispatchInterval, log)
	queue.Start(ctx)

	// Joined before the deferred store.Close runs.
	var gc sync.WaitGroup
	if badgerStore, ok := store.(*storage.BadgerStore); ok {
		gc.Add(1)
		go func() {
			defer gc.Done()
			badgerStore.RunGC(ctx, cfg.GCInterval)
		}()
	}

	mon := monitor.New(src, store, push, queue, monitor.Options{
		InsertAttempts: cfg.InsertAttempts,
		InsertBackoff:  500 * time.Millisecond,
		InsertTimeout:  cfg.RequestTimeout,
	}, log)

	log.Info("sleepwatch is running. Press Ctrl+C to exit.")
	mon.Start(ctx, cfg.PollInterval)

	// --- Graceful Shutdown ---
	log.Info("Shutting down sleepwatch...")
	// Waits for the running task, including its store insert.
	queue.Stop()
	mon.Wait()
	gc.Wait()
	return nil
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		log.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	}
	log.SetLevel(level)
	return log
}

func newScraper(cfg config.Config, log logrus.FieldLogger) (scraper.Scraper, error) {
	if cfg.FetchMode == config.FetchBrowser {
		s, err := scraper.NewRodScraper(cfg.SourceURL, cfg.RequestTimeout, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := scraper.NewHTTPScraper(cfg.SourceURL, cfg.UserAgent, cfg.RequestTimeout, log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newNotifier(cfg config.Config, log logrus.FieldLogger) (notifier.Notifier, error) {
	if cfg.Notifier == config.NotifierTelegram {
		t, err := notifier.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, "", cfg.RequestTimeout, log)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return notifier.NewPushover(cfg.PushoverURL, cfg.AppToken, cfg.GroupToken, cfg.RequestTimeout, log), nil
}
