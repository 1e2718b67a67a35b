package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/kenyapolls/poll-detector-bot/internal/classifier"
	"github.com/kenyapolls/poll-detector-bot/internal/config"
	"github.com/kenyapolls/poll-detector-bot/internal/dedup"
	"github.com/kenyapolls/poll-detector-bot/internal/ingest"
	"github.com/kenyapolls/poll-detector-bot/internal/notifications"
	"github.com/kenyapolls/poll-detector-bot/internal/pipeline"
	"github.com/kenyapolls/poll-detector-bot/internal/recorder"
	"github.com/kenyapolls/poll-detector-bot/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg)

	mode := "stream"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	logrus.Infof("Starting Kenya Poll Detector Bot (%s mode)", mode)

	// Shared pipeline components.
	cls := classifier.New(cfg.CandidateNames, cfg.Blocklist)
	notifier := buildNotifier(cfg)
	rec := recorder.New(cfg.OutputCSV)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "stream":
		runStream(ctx, cfg, pipeline.New(cls, notifier, rec, "stream"))
	case "batch":
		runBatch(ctx, cfg, pipeline.New(cls, notifier, rec, "batch"))
	default:
		logrus.Fatalf("Unknown mode %q (expected \"stream\" or \"batch\")", mode)
	}
}

// runStream owns the long-lived filtered-stream process: ops server plus
// the stream consumer. Retry exhaustion is the only error path and exits
// non-zero; an interrupt exits clean.
func runStream(ctx context.Context, cfg *config.Config, proc *pipeline.Processor) {
	server := startOpsServer(cfg, nil)
	defer shutdownOpsServer(server)

	consumer := ingest.NewStreamConsumer(cfg.TwitterBearerToken, cfg.StreamRule, proc)
	if err := consumer.Run(ctx); err != nil {
		logrus.Fatalf("Stream terminated: %v", err)
	}

	logrus.Info("Stream stopped")
}

// runBatch performs a single search pass, or keeps running them on a cron
// schedule when one is configured.
func runBatch(ctx context.Context, cfg *config.Config, proc *pipeline.Processor) {
	if err := cfg.ValidateDedup(); err != nil {
		logrus.Fatalf("Failed to validate dedup configuration: %v", err)
	}

	store, err := buildDedupStore(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize dedup store: %v", err)
	}

	runner := ingest.NewBatchRunner(
		cfg.TwitterBearerToken,
		cfg.StreamRule,
		time.Duration(cfg.BatchWindowMinutes)*time.Minute,
		store,
		proc,
	)

	if cfg.BatchSchedule == "" {
		if err := runner.Run(ctx); err != nil {
			logrus.Errorf("Batch run failed: %v", err)
		}
		return
	}

	server := startOpsServer(cfg, runner)
	defer shutdownOpsServer(server)

	sched := scheduler.New(cfg.BatchSchedule, runner)
	if err := sched.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	<-ctx.Done()
	logrus.Info("Shutting down...")
}

// startOpsServer exposes health and metrics, and a manual trigger endpoint
// when a batch runner is available.
func startOpsServer(cfg *config.Config, runner *ingest.BatchRunner) *http.Server {
	router := mux.NewRouter()

	router.HandleFunc("/health", healthCheckHandler).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if runner != nil {
		router.HandleFunc("/trigger", triggerHandler(runner)).Methods("POST")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("HTTP server failed: %v", err)
		}
	}()

	return server
}

func shutdownOpsServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func triggerHandler(runner *ingest.BatchRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go func() {
			if err := runner.Run(context.Background()); err != nil {
				logrus.Errorf("Manual batch trigger failed: %v", err)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"Batch run triggered successfully"}`))
	}
}

func buildNotifier(cfg *config.Config) notifications.Notifier {
	channels := notifications.Fanout{
		notifications.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID),
	}

	if cfg.NotificationEmail != "" {
		channels = append(channels, notifications.NewEmailNotifier(
			cfg.NotificationEmail, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword))
	}

	return channels
}

func buildDedupStore(cfg *config.Config) (dedup.Store, error) {
	switch cfg.DedupBackend {
	case config.DedupBackendAzure:
		return dedup.NewBlobStore(cfg.StorageAccount, cfg.StorageContainer, cfg.StorageBlob)
	default:
		return dedup.NewGistStore(cfg.GithubToken, cfg.GistID, cfg.GistFilename), nil
	}
}

func setupLogging(cfg *config.Config) {
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Log lines go to stdout and to a local file.
	file, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logrus.Warnf("Failed to open log file %s, logging to stdout only: %v", cfg.LogFile, err)
		return
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, file))
}
