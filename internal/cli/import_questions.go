package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"prepost-assessment-service/internal/config"
	"prepost-assessment-service/internal/infra/memory"
	pgstore "prepost-assessment-service/internal/infra/postgres"
	redisstore "prepost-assessment-service/internal/infra/redis"
)

// NewImportQuestionsCmd loads a YAML question file into Postgres.
func NewImportQuestionsCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import-questions",
		Short: "Replace the active question bank from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.Quiz.QuestionsFile
			}
			if file == "" {
				return fmt.Errorf("no questions file given")
			}
			return importQuestions(cmd.Context(), cfg, newLogger(cfg), file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML question file (defaults to quiz.questions_file)")
	return cmd
}

func importQuestions(ctx context.Context, cfg config.Config, log logrus.FieldLogger, file string) error {
	questions, err := memory.ReadQuestionsFile(file)
	if err != nil {
		return err
	}
	if err := runMigrations(ctx, cfg, log); err != nil {
		return err
	}
	db, err := openBun(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := pgstore.NewQuestionImporter(db).Import(ctx, questions)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"file":        file,
		"upserted":    res.Upserted,
		"deactivated": res.Deactivated,
	}).Info("question bank imported")

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		if err := redisstore.NewAnswerKeyCache(client, nil, 0).Invalidate(ctx); err != nil {
			log.WithError(err).Warn("cached answer key not invalidated")
		}
	}
	return nil
}
