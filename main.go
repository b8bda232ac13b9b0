package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	goredislib "github.com/go-redis/redis/v8"

	"credhub/internal/common/logging"
	"credhub/internal/config"
	"credhub/internal/credentials"
	"credhub/internal/crypto"
	"credhub/internal/engines"
	"credhub/internal/engines/emaildomain"
	"credhub/internal/engines/githubapp"
	"credhub/internal/engines/googleauth"
	"credhub/internal/engines/oauth2"
	"credhub/internal/locks"
	"credhub/internal/metrics"
	"credhub/internal/notify"
	"credhub/internal/providers"
	"credhub/internal/queue"
	"credhub/internal/scheduler"
	"credhub/internal/server"
	"credhub/internal/storage"
)

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	cfg := config.Load()

	logging.InitGlobalLogger()
	logger := logging.GetGlobalLogger()
	defer logging.MustSync()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()

	enc, err := crypto.NewEncryptor(cfg.SecretsEncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize encryptor: %v", err)
	}

	store, closeStore, err := storage.NewStore(ctx, cfg, enc)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closeStore()

	// Redis backs the job queue, the refresh locks and the change
	// notifier. Without it the service still runs, degraded to
	// in-process equivalents.
	var (
		jobQueue    queue.Queue
		lockManager locks.Manager
		notifier    engines.Notifier
	)
	redisClient := goredislib.NewClient(&goredislib.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable, falling back to in-process queue and locks",
			logging.String("address", cfg.RedisAddress),
			logging.Err(err))
		jobQueue = queue.NewMemoryQueue(1024)
		lockManager = locks.NewLocalManager()
		notifier = engines.NopNotifier{}
	} else {
		defer redisClient.Close()
		jobQueue, err = queue.NewRedisQueue(redisClient)
		if err != nil {
			log.Fatalf("Failed to initialize job queue: %v", err)
		}
		lockManager, err = locks.NewRedsyncManager(redisClient)
		if err != nil {
			log.Fatalf("Failed to initialize lock manager: %v", err)
		}
		notifier = notify.NewRedisNotifier(redisClient, logger)
	}

	m := metrics.NewMetrics("credhub")
	providerRegistry := providers.NewRegistry(providers.DefaultCacheTTL)
	engineRegistry := engines.NewRegistry()

	engineRegistry.Register(oauth2.NewEngine(oauth2.Options{
		Registry:    providerRegistry,
		Store:       store,
		Metrics:     m,
		Notifier:    notifier,
		Logger:      logger,
		CallbackURL: cfg.SiteURL + "/integrations/callback",
	}))

	engineRegistry.Register(googleauth.NewEngine(googleauth.Options{
		Store:    store,
		Metrics:  m,
		Notifier: notifier,
		Logger:   logger,
	}))

	if cfg.GitHubAppID != "" && cfg.GitHubAppPrivateKey != "" {
		ghEngine, err := githubapp.NewEngine(githubapp.Options{
			AppID:         cfg.GitHubAppID,
			PrivateKeyPEM: cfg.GitHubAppPrivateKey,
			Store:         store,
			Metrics:       m,
			Notifier:      notifier,
			Logger:        logger,
		})
		if err != nil {
			log.Fatalf("Failed to initialize GitHub App engine: %v", err)
		}
		engineRegistry.Register(ghEngine)
	} else {
		logger.Info("GitHub App credentials not set, github engine disabled")
	}

	var emailBackends []emaildomain.Backend
	if cfg.MailjetAPIKey != "" && cfg.MailjetSecretKey != "" {
		emailBackends = append(emailBackends,
			emaildomain.NewMailjetBackend(cfg.MailjetAPIKey, cfg.MailjetSecretKey, nil))
	}
	if awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion)); err == nil {
		emailBackends = append(emailBackends,
			emaildomain.NewSESBackend(sesv2.NewFromConfig(awsCfg)))
	} else {
		logger.Warn("AWS configuration unavailable, SES email backend disabled", logging.Err(err))
	}
	engineRegistry.Register(emaildomain.NewEngine(emaildomain.Options{
		Store:    store,
		Backends: emailBackends,
		Notifier: notifier,
		Logger:   logger,
	}))

	sched := scheduler.NewScheduler(scheduler.Options{
		Store:    store,
		Registry: engineRegistry,
		Queue:    jobQueue,
		Locks:    lockManager,
		Metrics:  m,
		Logger:   logger,
		Workers:  cfg.RefreshWorkers,
	})
	if err := sched.Start(cfg.RefreshSweepSchedule); err != nil {
		log.Fatalf("Failed to start refresh scheduler: %v", err)
	}
	defer sched.Stop()

	srv := server.NewServer(server.Options{
		Port: cfg.Port,
		Secrets: func(kind string) string {
			return config.ProviderSigningSecret(kind)
		},
		Sink: func(ctx context.Context, kind string, body []byte) {
			logger.Info("Webhook accepted",
				logging.String("kind", kind),
				logging.Int("bytes", len(body)))
		},
		Metrics: m,
		Logger:  logger,
	})

	go func() {
		logger.Info("Server starting",
			logging.String("port", cfg.Port),
			logging.Int("oauth_kinds", len(credentials.OAuthKinds)))
		if err := srv.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", err)
	}
}
