package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"elsa-quiz-live/internal/config"
	"elsa-quiz-live/internal/hub"
	"elsa-quiz-live/internal/infra/memory"
	pgloader "elsa-quiz-live/internal/infra/postgres"
	infraredis "elsa-quiz-live/internal/infra/redis"
	transport "elsa-quiz-live/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewServeCmd builds the CLI subcommand that runs the coordination hub.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, false); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(memory.SampleQuizzes())
	if pool != nil {
		loader = pgloader.NewQuizLoader(pool)
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	roomTTL := config.Duration(cfg.Redis.TTL, 2*time.Hour)
	var (
		quizzes hub.QuizRepository
		rooms   hub.RoomStore
	)
	if redisClient != nil {
		quizzes = infraredis.NewQuizRepository(redisClient, loader, quizTTL)
		rooms = infraredis.NewRoomStore(redisClient, roomTTL)
	} else {
		quizzes = memory.NewQuizRepository(loader, quizTTL)
		rooms = memory.NewRoomStore()
	}

	router := transport.NewRouter(
		hub.New(rooms, quizzes),
		transport.StaticTokens(cfg.Server.Tokens),
		transport.WithPongWait(config.Duration(cfg.Server.PongWait, 60*time.Second)),
	)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Bool("redis", redisClient != nil).Bool("postgres", pool != nil).Msg("starting quiz hub")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		log.Info().Msg("shutting down hub")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down hub")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
