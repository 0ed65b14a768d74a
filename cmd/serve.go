package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/ai-radar/internal/auth"
	"github.com/example/ai-radar/internal/config"
	"github.com/example/ai-radar/internal/coordinator"
	"github.com/example/ai-radar/internal/handlers"
	"github.com/example/ai-radar/internal/mirror"
	"github.com/example/ai-radar/internal/modelrpc"
	"github.com/example/ai-radar/internal/pipeline"
	"github.com/example/ai-radar/internal/repository"
	"github.com/example/ai-radar/internal/scoring"
	"github.com/example/ai-radar/internal/status"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture pipeline and its HTTP control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		return runServe(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Auth.JWTSecret == "" || cfg.Auth.ConsentSecret == "" {
		return errors.New("auth.jwt_secret and auth.consent_secret are required to serve")
	}
	messages, err := status.MessagesFor(cfg.Locale)
	if err != nil {
		return err
	}

	sinks, closeSinks, err := buildStatusSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()
	surface := status.NewSurface(logger, status.Options{Sinks: sinks})
	defer surface.Close()

	engine := loadEngine(ctx, cfg, logger)
	defer engine.Close()

	backend, err := newSyntheticBackend(cfg)
	if err != nil {
		return err
	}
	verifier, err := auth.NewConsentVerifier(cfg.Auth.ConsentSecret)
	if err != nil {
		return err
	}
	session := mirror.NewSession(backend, verifier, logger)

	var journal coordinator.Journal
	if cfg.Database.DSN != "" {
		db, err := initDatabase(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		repo := repository.NewRunRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("auto migrate failed: %w", err)
		}
		journal = repo
	}

	coord := coordinator.New(session, engine, surface, logger, coordinator.Options{
		Journal: journal,
		Pipeline: pipeline.Options{
			Settle1:  cfg.Pipeline.Settle1,
			Settle2:  cfg.Pipeline.Settle2,
			Messages: messages,
		},
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.RegisterRoutes(router, coord, auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience))
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Start(gctx)
	})
	g.Go(func() error {
		logger.Info("AI Radar API listening", zap.String("addr", cfg.HTTP.Addr))
		return serveHTTP(gctx, server, cfg.HTTP.ShutdownTimeout, logger, nil)
	})
	return g.Wait()
}

// loadEngine loads the scoring model once. A load failure is not fatal: the
// engine reports it and every run scores as unavailable.
func loadEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) *scoring.Engine {
	switch {
	case cfg.Model.RemoteAddr != "":
		client, err := modelrpc.Dial(ctx, cfg.Model.RemoteAddr, cfg.Model.DialTimeout, logger)
		if err != nil {
			return scoring.NewEngine(nil, fmt.Errorf("dial model server %s: %w", cfg.Model.RemoteAddr, err), logger)
		}
		return scoring.NewEngine(client, nil, logger)
	case cfg.Model.Path != "":
		model, err := scoring.LoadArtifact(cfg.Model.Path)
		if err != nil {
			return scoring.NewEngine(nil, err, logger)
		}
		return scoring.NewEngine(model, nil, logger)
	default:
		return scoring.NewEngine(nil, scoring.ErrModelUnavailable, logger)
	}
}

func newSyntheticBackend(cfg *config.Config) (*mirror.Synthetic, error) {
	opts := mirror.SyntheticOptions{
		Metrics: mirror.Metrics{
			Width:   cfg.Display.Width,
			Height:  cfg.Display.Height,
			Density: cfg.Display.Density,
		},
		FirstFrameDelay: cfg.Display.FirstFrameDelay,
		FrameInterval:   cfg.Display.FrameInterval,
		RowAlignment:    cfg.Display.RowAlignment,
	}
	if cfg.Display.Source != "" {
		img, err := decodeImageFile(cfg.Display.Source)
		if err != nil {
			return nil, err
		}
		opts.Source = img
	}
	return mirror.NewSynthetic(opts)
}

func buildStatusSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]status.Sink, func(), error) {
	sinks := []status.Sink{status.NewLogSink(logger)}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Redis.Addr != "" {
		client, err := initRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		sinks = append(sinks, status.NewRedisSink(status.NewRedisStore(client), cfg.Redis.Key, cfg.Redis.Channel, logger))
	}

	if cfg.MQTT.Broker != "" {
		client, err := status.ConnectMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientID, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { client.Disconnect(250) })
		sinks = append(sinks, status.NewMQTTSink(client, cfg.MQTT.Topic, cfg.MQTT.QoS))
	}

	return sinks, closeAll, nil
}

func initDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}
