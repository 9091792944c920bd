package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farmchat/internal/attach"
	"farmchat/internal/blob"
	"farmchat/internal/bus"
	kafkabus "farmchat/internal/bus/kafka"
	"farmchat/internal/channel"
	"farmchat/internal/config"
	"farmchat/internal/httpserver"
	"farmchat/internal/identity"
	"farmchat/internal/obs"
	"farmchat/internal/service"
	"farmchat/internal/store/sqlite"
	"farmchat/internal/typing"
	"farmchat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := obs.NewLogger(cfg.Env)

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := sqlite.Migrate(db); err != nil {
		logger.Error("run migrations", "err", err)
		os.Exit(1)
	}

	// Event bus: in-process delivery, optionally mirrored to Kafka for other
	// instances and downstream consumers.
	memBus := bus.NewMemory()
	publisher := bus.Publisher(memBus)
	if len(cfg.KafkaBrokers) > 0 {
		forwarder, err := kafkabus.NewForwarder(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Error("connect kafka", "err", err)
			os.Exit(1)
		}
		defer forwarder.Close()
		publisher = bus.Fanout{memBus, forwarder}
	}

	// Blob store for attachments and voice notes.
	var uploader blob.Uploader = blob.NoopUploader{}
	if cfg.S3Endpoint != "" {
		client, err := blob.NewClient(
			cfg.S3Endpoint, cfg.S3UseSSL,
			cfg.S3AccessKey, cfg.S3SecretKey,
			cfg.S3Bucket, cfg.S3PublicBaseURL,
			logger,
		)
		if err != nil {
			logger.Error("configure blob store", "err", err)
			os.Exit(1)
		}
		uploader = client
	}

	// Repositories
	convRepo := sqlite.NewConversationRepo(db)
	msgRepo := sqlite.NewMessageRepo(db)
	typingRepo := sqlite.NewTypingRepo(db)
	directoryRepo := sqlite.NewDirectoryRepo(db)

	// Services
	convSvc := service.NewConversationService(convRepo, logger)
	msgSvc := service.NewMessageService(convRepo, msgRepo, publisher, logger)
	inboxSvc := service.NewInboxService(convRepo, msgRepo, directoryRepo, logger)
	typingSvc := typing.NewService(typingRepo, publisher, cfg.TypingIdleAfter, cfg.TypingStalenessWindow, logger)
	pipeline := attach.NewPipeline(uploader, cfg.MaxAttachmentBytes, cfg.UploadRetries, logger)
	msgChannel := channel.New(msgSvc, memBus, logger)

	provider := identity.NewProvider(cfg.JWTSecret)
	hub := ws.NewHub()

	router := httpserver.NewRouter(cfg, httpserver.Deps{
		Conversations: convSvc,
		Messages:      msgSvc,
		Inbox:         inboxSvc,
		Channel:       msgChannel,
		Typing:        typingSvc,
		Pipeline:      pipeline,
		Identity:      provider,
		Events:        memBus,
		Hub:           hub,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting farmchat server", "addr", cfg.HTTPAddr(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.CloseAll()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
	}
}
