package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/MeadeCPA-Ocrolus/banklink/config"
	accountrepo "github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/account"
	clientrepo "github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/client"
	itemrepo "github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/item"
	linktokenrepo "github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/linktoken"
	transactionrepo "github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/transaction"
	webhookeventrepo "github.com/MeadeCPA-Ocrolus/banklink/internal/repositories/webhookevent"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/database"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/events"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/kafka"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/ledger"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/linker"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/middleware"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/provider"
	healthroute "github.com/MeadeCPA-Ocrolus/banklink/pkg/routes/health"
	itemroute "github.com/MeadeCPA-Ocrolus/banklink/pkg/routes/item"
	linksessionroute "github.com/MeadeCPA-Ocrolus/banklink/pkg/routes/linksession"
	sandboxroute "github.com/MeadeCPA-Ocrolus/banklink/pkg/routes/sandbox"
	webhookroute "github.com/MeadeCPA-Ocrolus/banklink/pkg/routes/webhook"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/startup"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/status"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/vault"
	"github.com/MeadeCPA-Ocrolus/banklink/pkg/webhooks"
)

const version = "1.0.0"

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, reading environment directly")
	}

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	shutdownTracing, err := tracing.Init(ctx, cfg.AppName, cfg.OTLPEndpoint)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdownTracing(ctx) //nolint:errcheck

	db, err := database.Connect(ctx, database.ConnectConfig{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		UserName:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := runMigrations(cfg, db, logger); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}

	// Repositories
	itemRepo := itemrepo.NewRepository(db, logger)
	accountRepo := accountrepo.NewRepository(db, logger)
	transactionRepo := transactionrepo.NewRepository(db, logger)
	clientRepo := clientrepo.NewRepository(db, logger)
	linkTokenRepo := linktokenrepo.NewRepository(db, logger)
	webhookEventRepo := webhookeventrepo.NewRepository(db, logger)

	// Credential vault
	keyStore, err := vault.NewEnvKeyStore(cfg.EncryptionKeys, cfg.ActiveKeyID)
	if err != nil {
		logger.WithError(err).Fatal("failed to load encryption keys")
	}
	gateway := vault.NewGateway(keyStore, vault.NewKeyCache(), logger)

	// Provider client
	providerClient := provider.NewHTTPClient(provider.HTTPConfig{
		BaseURL:  cfg.ProviderBaseURL,
		ClientID: cfg.ProviderClientID,
		Secret:   cfg.ProviderSecret,
		Timeout:  cfg.ProviderTimeout,
		PageSize: cfg.SyncPageSize,
	}, logger)

	// Event emission
	var producer *kafka.Producer
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()
	}
	emitter := events.NewEmitter(producer, logger)

	// Domain services
	reconciler := linker.NewReconciler(itemRepo, accountRepo, linkTokenRepo, providerClient, gateway, emitter, logger)
	updater := status.NewUpdater(itemRepo, accountRepo, transactionRepo, emitter, cfg.TransactionArchivalEnabled, logger)
	engine := ledger.NewEngine(itemRepo, accountRepo, transactionRepo, providerClient, gateway, emitter, cfg.SyncMaxRetries, logger)
	gate := webhooks.NewGate(webhookEventRepo, itemRepo, logger)
	dispatcher := webhooks.NewDispatcher(gate, reconciler, updater, logger)

	if err := registerDependencies(cfg, logger, db, itemRepo, accountRepo, transactionRepo, clientRepo, linkTokenRepo, gateway, providerClient, engine, dispatcher); err != nil {
		logger.WithError(err).Fatal("failed to register dependencies")
	}

	e := newServer(cfg, logger)
	checker := healthroute.NewChecker(db, version)
	checker.RegisterRoutes(e)

	manager := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	manager.AddDependency(&serverDependency{e: e, port: cfg.Port, logger: logger})

	if cfg.KafkaConsumerEnabled {
		consumer := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaSyncTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, logger, func(ctx context.Context, req *kafka.SyncRequest) error {
			_, err := engine.SyncItem(ctx, req.ItemID)
			return err
		})
		manager.AddDependency(&consumerDependency{consumer: consumer})
	}

	if err := manager.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start")
	}
	checker.SetReady(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	checker.SetReady(false)
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown did not complete cleanly")
	}
}

func newLogger(cfg config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	if cfg.PrettyLogs {
		zapLogger, _ = zap.NewDevelopment()
	} else {
		zapLogger, _ = zap.NewProduction()
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func runMigrations(cfg config.Config, db database.DB, logger ectologger.Logger) error {
	driver, err := postgres.WithInstance(db.Unsafe().DB, &postgres.Config{})
	if err != nil {
		return err
	}

	ms := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return ms.Migrate(cfg.DatabaseName, driver)
}

func registerDependencies(
	cfg config.Config,
	logger ectologger.Logger,
	db database.DB,
	itemRepo *itemrepo.Repository,
	accountRepo *accountrepo.Repository,
	transactionRepo *transactionrepo.Repository,
	clientRepo *clientrepo.Repository,
	linkTokenRepo *linktokenrepo.Repository,
	gateway *vault.Gateway,
	providerClient *provider.HTTPClient,
	engine *ledger.Engine,
	dispatcher *webhooks.Dispatcher,
) error {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return err
	}

	if err := ectoinject.RegisterInstance[config.Config](container, cfg); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[database.DB](container, db); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*itemrepo.Repository](container, itemRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*accountrepo.Repository](container, accountRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*transactionrepo.Repository](container, transactionRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*clientrepo.Repository](container, clientRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*linktokenrepo.Repository](container, linkTokenRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*vault.Gateway](container, gateway); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[provider.Client](container, providerClient); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*ledger.Engine](container, engine); err != nil {
		return err
	}
	return ectoinject.RegisterInstance[*webhooks.Dispatcher](container, dispatcher)
}

func newServer(cfg config.Config, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second

	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.HTTPErrorHandler = middleware.Error(logger)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	webhookroute.Register(api.Group("/webhooks"))
	itemroute.Register(api.Group("/items"))
	linksessionroute.Register(api.Group("/link-sessions"))
	if !cfg.IsProduction() {
		sandboxroute.Register(api.Group("/sandbox"))
	}

	return e
}

// serverDependency runs the echo server under the startup manager.
type serverDependency struct {
	e      *echo.Echo
	port   int
	logger ectologger.Logger
}

func (s *serverDependency) GetName() string     { return "http-server" }
func (s *serverDependency) DependsOn() []string { return nil }

func (s *serverDependency) Start(ctx context.Context) error {
	go func() {
		addr := fmt.Sprintf(":%d", s.port)
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("http server stopped")
		}
	}()
	return nil
}

func (s *serverDependency) Stop(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// consumerDependency runs the sync-request consumer under the startup manager.
type consumerDependency struct {
	consumer *kafka.Consumer
}

func (c *consumerDependency) GetName() string     { return "kafka-consumer" }
func (c *consumerDependency) DependsOn() []string { return []string{"http-server"} }

func (c *consumerDependency) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *consumerDependency) Stop(ctx context.Context) error {
	return c.consumer.Stop()
}
