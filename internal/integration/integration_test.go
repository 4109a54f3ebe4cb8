package integration

import (
	"context"
	"database/sql"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"elsa-quiz-live/internal/channel"
	"elsa-quiz-live/internal/domain"
	"elsa-quiz-live/internal/hub"
	pgloader "elsa-quiz-live/internal/infra/postgres"
	pgmigrations "elsa-quiz-live/internal/infra/postgres/migrations"
	infraredis "elsa-quiz-live/internal/infra/redis"
	"elsa-quiz-live/internal/room"
	"elsa-quiz-live/internal/session"
	transport "elsa-quiz-live/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestLiveRoomAgainstPostgresAndRedis(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgloader.NewQuizLoader(pool)
	if err := loader.SaveQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("save quiz: %v", err)
	}
	if err := loader.SaveQuiz(ctx, domain.Quiz{ID: "empty", Title: "Nothing"}); err != nil {
		t.Fatalf("save empty quiz: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	h := hub.New(
		infraredis.NewRoomStore(redisClient, 5*time.Minute),
		infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute),
	)
	server := httptest.NewServer(transport.NewRouter(h, transport.StaticTokens(nil)))
	defer server.Close()

	hostM, hostSess := open(t, server, domain.Identity{Credential: "h", DisplayName: "Host"},
		room.Entry{Role: domain.RoleHost, QuizID: "quiz-1"})
	if exists, err := redisClient.Exists(ctx, "room:code:"+hostSess.RoomCode).Result(); err != nil || exists != 1 {
		t.Fatalf("expected room code reserved in redis, got %d (%v)", exists, err)
	}

	playerM, _ := open(t, server, domain.Identity{Credential: "p", DisplayName: "Alice"},
		room.Entry{Role: domain.RolePlayer, RoomCode: strings.ToLower(hostSess.RoomCode)})

	waitUntil(t, "player in roster", func() bool { return hostM.Snapshot().Projection.Size() == 1 })
	if err := hostM.StartGame(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitUntil(t, "question", func() bool { return playerM.Snapshot().Phase == domain.PhaseQuestionActive })
	if err := playerM.SubmitAnswer(1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitUntil(t, "game over", func() bool { return playerM.Snapshot().Phase == domain.PhaseGameOver })

	final := playerM.Snapshot().Final
	if final == nil || final.WinnerName != "Alice" || final.WinnerScore == 0 {
		t.Fatalf("unexpected final result %+v", final)
	}
	if cached, err := redisClient.Exists(ctx, "quiz:quiz-1").Result(); err != nil || cached != 1 {
		t.Fatalf("expected quiz cached in redis, got %d (%v)", cached, err)
	}

	if err := hostM.Exit(); err != nil {
		t.Fatalf("host exit: %v", err)
	}
	waitUntil(t, "room released", func() bool {
		n, err := redisClient.Exists(ctx, "room:code:"+hostSess.RoomCode).Result()
		return err == nil && n == 0
	})
	<-playerM.Done()

	ch := channel.New(channel.DefaultConfig(wsURL(server)), domain.Identity{Credential: "h2"})
	m := session.NewMachine(ch)
	defer m.Close()
	if _, err := m.Open(ctx, room.New(ch, domain.Identity{Credential: "h2"}, zerolog.Nop()), room.Entry{Role: domain.RoleHost, QuizID: "empty"}); err == nil {
		t.Fatalf("expected empty quiz to be refused")
	}
}

func open(t *testing.T, server *httptest.Server, identity domain.Identity, entry room.Entry) (*session.Machine, domain.Session) {
	t.Helper()
	ch := channel.New(channel.DefaultConfig(wsURL(server)), identity)
	m := session.NewMachine(ch, session.WithReviewDwell(200*time.Millisecond))
	t.Cleanup(func() { _ = m.Close() })
	sess, err := m.Open(context.Background(), room.New(ch, identity, zerolog.Nop()), entry)
	if err != nil {
		t.Fatalf("open %s: %v", entry.Role, err)
	}
	return m, sess
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.QuizQuestion{
			{ID: "q1", Prompt: "What is 2 + 2?", Options: [domain.OptionCount]string{"3", "4", "5", "6"}, CorrectIndex: 1, TimeLimitSeconds: 1, Points: 1},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
