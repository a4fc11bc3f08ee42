package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"exam-room-service/internal/app"
	"exam-room-service/internal/config"
	"exam-room-service/internal/domain"
	"exam-room-service/internal/infra/postgres"
	"github.com/spf13/cobra"
)

// NewSweepCmd runs a single activation and completion pass, for cron-driven
// deployments that do not keep the in-process sweeper running.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Activate due rooms and complete expired ones once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), *configPath, cmd.OutOrStdout())
		},
	}
}

func runSweep(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	b, err := openBackends(ctx, cfg, log.Default())
	if err != nil {
		return err
	}
	defer b.Close()

	report, err := newSweeper(cfg, app.NewRoomService(b.deps)).Tick(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// NewImportQuizzesCmd loads quiz documents from a JSON file into Postgres.
func NewImportQuizzesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import-quizzes <file.json>",
		Short: "Upsert quiz documents into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportQuizzes(cmd.Context(), *configPath, args[0])
		},
	}
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, quizID string) error
}

func runImportQuizzes(ctx context.Context, configPath, path string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	quizzes, err := readQuizzes(path)
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg, log.Default())
	if err != nil {
		return err
	}
	defer b.Close()

	loader := postgres.NewQuizLoader(b.pool)
	for _, quiz := range quizzes {
		if err := loader.SaveQuiz(ctx, quiz); err != nil {
			return fmt.Errorf("quiz %s: %w", quiz.ID, err)
		}
		// Rooms pick up new content on the next load instead of after the TTL.
		if inv, ok := b.deps.Quizzes.(cacheInvalidator); ok {
			if err := inv.Invalidate(ctx, quiz.ID); err != nil {
				log.Printf("invalidate quiz %s: %v", quiz.ID, err)
			}
		}
		log.Printf("imported quiz %s (%d questions)", quiz.ID, len(quiz.Questions))
	}
	return nil
}

func readQuizzes(path string) ([]domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var quizzes []domain.Quiz
	if err := json.Unmarshal(data, &quizzes); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, quiz := range quizzes {
		if quiz.ID == "" {
			return nil, fmt.Errorf("quiz %d: id is required", i)
		}
		if len(quiz.Questions) == 0 {
			return nil, fmt.Errorf("quiz %s: no questions", quiz.ID)
		}
		seen := make(map[string]bool, len(quiz.Questions))
		for _, q := range quiz.Questions {
			if q.ID == "" || seen[q.ID] {
				return nil, fmt.Errorf("quiz %s: question ids must be unique and non-empty", quiz.ID)
			}
			seen[q.ID] = true
		}
	}
	return quizzes, nil
}
