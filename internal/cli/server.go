package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-challenge-service/internal/app"
	"live-challenge-service/internal/config"
	"live-challenge-service/internal/infra/memory"
	"live-challenge-service/internal/infra/postgres"
	infraredis "live-challenge-service/internal/infra/redis"
	"live-challenge-service/internal/judge"
	"live-challenge-service/internal/logger"
	"live-challenge-service/internal/metrics"
	"live-challenge-service/internal/realtime"
	transport "live-challenge-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the challenge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// stores groups the persistence choices made from config.
type stores struct {
	challenges  app.ChallengeStore
	submissions app.SubmissionStore
	loader      memory.ChallengeLoader
	close       func()
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Server.LogLevel, cfg.Server.PrettyLogs)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return err
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not reachable at startup")
		}
	}

	cacheTTL := config.TTLDuration(cfg.Challenge.CacheTTL, 30*time.Second)
	lockTTL := config.TTLDuration(cfg.Challenge.LockTTL, 2*time.Minute)

	var reader app.ChallengeReader
	var locker app.SubmissionLocker
	if redisClient != nil {
		reader = infraredis.NewChallengeCache(redisClient, st.loader, config.TTLDuration(cfg.Redis.TTL, cacheTTL))
		locker = infraredis.NewSubmissionLocker(redisClient, lockTTL)
	} else {
		reader = memory.NewChallengeCache(st.loader, cacheTTL)
		locker = memory.NewLocker()
	}

	judgeClient := judge.NewClient(judge.Options{
		URL:              cfg.Judge.URL,
		Timeout:          config.TTLDuration(cfg.Judge.Timeout, 15*time.Second),
		RunTimeoutMs:     cfg.Judge.RunTimeoutMs,
		CompileTimeoutMs: cfg.Judge.CompileTimeoutMs,
	})

	hub := realtime.NewHub(reader, realtime.NewRegistry())
	service := app.NewChallengeService(st.challenges, st.submissions, reader, hub)
	grader := app.NewGrader(st.challenges, st.submissions, judgeClient, locker, hub)

	ws := transport.NewWSHandler(hub, transport.WSOptions{
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		AllowQueryIdentity: cfg.Server.AllowQueryIdentity,
	})
	router := transport.NewRouter(transport.RouterOptions{
		Challenges:     transport.NewChallengeHandler(service, grader),
		WS:             ws,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Gatherer:       reg,
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", finalPort).Msg("starting challenge service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		logger.Info().Msg("shutting down server")
	case <-ctx.Done():
		logger.Info().Msg("context canceled, shutting down server")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server failed")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStores picks postgres when configured, migrating it first, and the in-memory store otherwise.
func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.Postgres.URL == "" {
		logger.Warn().Msg("postgres not configured, challenges are kept in memory")
		mem := memory.NewStore()
		return stores{challenges: mem, submissions: mem, loader: mem, close: func() {}}, nil
	}

	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return stores{}, err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return stores{}, err
	}
	pg := postgres.NewStore(pool)
	return stores{challenges: pg, submissions: pg, loader: pg, close: pool.Close}, nil
}
