package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"exam-room-service/internal/app"
	"exam-room-service/internal/broadcast"
	"exam-room-service/internal/config"
	"exam-room-service/internal/domain"
	"exam-room-service/internal/infra/memory"
	"exam-room-service/internal/infra/postgres"
	redisinfra "exam-room-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// backends holds the stores and event plumbing selected by config. Postgres
// and Redis are optional; without them everything lives in process memory.
type backends struct {
	deps  app.Deps
	hub   *broadcast.Hub
	relay *redisinfra.Relay
	pool  *pgxpool.Pool

	closers []func() error
	logger  *log.Logger
}

func openBackends(ctx context.Context, cfg config.Config, logger *log.Logger) (*backends, error) {
	b := &backends{hub: broadcast.NewHub(), logger: logger}
	deps := app.Deps{Logger: logger, Events: b.hub}

	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		b.closers = append(b.closers, db.Close)
		store := postgres.NewStore(db)
		deps.Rooms, deps.Participants, deps.Submissions = store, store.Participants(), store.Submissions()

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.pool = pool
		b.closers = append(b.closers, func() error {
			pool.Close()
			return nil
		})
	} else {
		store := memory.NewStore()
		deps.Rooms, deps.Participants, deps.Submissions = store, store.Participants(), store.Submissions()
	}

	var loader app.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if b.pool != nil {
		loader = postgres.NewQuizLoader(b.pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		deps.Quizzes = redisinfra.NewQuizRepository(client, loader, quizTTL)
		// Every instance publishes through Redis and its relay feeds the local
		// hub, so a room's occupants may be spread across instances.
		deps.Events = redisinfra.NewEventBus(client, cfg.Redis.EventPrefix, logger)
		b.relay = redisinfra.NewRelay(client, b.hub, cfg.Redis.EventPrefix, logger)
	} else {
		deps.Quizzes = memory.NewQuizRepository(loader, quizTTL)
	}

	b.deps = deps
	return b, nil
}

// Close releases connections in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.logger.Printf("close backend: %v", err)
		}
	}
	b.closers = nil
}

func newSweeper(cfg config.Config, rooms *app.RoomService) *app.Sweeper {
	return app.NewSweeper(rooms,
		config.TTLDuration(cfg.Sweep.Interval, app.DefaultSweepInterval),
		config.TTLDuration(cfg.Sweep.Debounce, app.DefaultSweepDebounce),
	)
}

// sampleQuizzes backs rooms when no database is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.QuestionMultipleChoice,
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
					Points: 1,
				},
				{
					ID:     "q2",
					Type:   domain.QuestionCheckboxes,
					Prompt: "Which of these are prime?",
					Options: []domain.Option{
						{ID: "o1", Text: "2", Correct: true},
						{ID: "o2", Text: "4"},
						{ID: "o3", Text: "7", Correct: true},
					},
					Points: 2,
				},
				{
					ID:              "q3",
					Type:            domain.QuestionFillInBlank,
					Prompt:          "The capital of Vietnam is ___.",
					AcceptedAnswers: []string{"Hanoi", "Ha Noi"},
					Points:          1,
				},
				{
					ID:     "q4",
					Type:   domain.QuestionDragAndDrop,
					Prompt: "Match each animal to its habitat.",
					Pairs: []domain.Pair{
						{Draggable: "camel", DropZone: "desert"},
						{Draggable: "penguin", DropZone: "ice"},
					},
					Points: 2,
				},
				{
					ID:     "q5",
					Type:   domain.QuestionParagraph,
					Prompt: "Describe your favourite book.",
				},
			},
		},
	}
}
