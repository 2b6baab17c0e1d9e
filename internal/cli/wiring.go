package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"prepost-assessment-service/internal/app"
	"prepost-assessment-service/internal/config"
	"prepost-assessment-service/internal/domain"
	"prepost-assessment-service/internal/email"
	"prepost-assessment-service/internal/infra/memory"
	pgstore "prepost-assessment-service/internal/infra/postgres"
	redisstore "prepost-assessment-service/internal/infra/redis"
	"prepost-assessment-service/internal/logger"
	"prepost-assessment-service/internal/metrics"
)

const serviceName = "prepost-assessment-service"

func newLogger(cfg config.Config) *logrus.Entry {
	return logger.New(serviceName, cfg.Log.Level)
}

// stack holds the collaborators shared by the server and the admin commands.
type stack struct {
	cfg     config.Config
	log     logrus.FieldLogger
	store   app.DocumentStore
	service *app.AssessmentService
	closers []func()
}

func (r *stack) Close() {
	r.service.Notifier().Wait()
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func newStack(ctx context.Context, cfg config.Config, log logrus.FieldLogger, reg prometheus.Registerer) (*stack, error) {
	rt := &stack{cfg: cfg, log: log}
	fail := func(err error) (*stack, error) {
		for i := len(rt.closers) - 1; i >= 0; i-- {
			rt.closers[i]()
		}
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("redis ping: %w", err))
		}
	}

	var loader memory.QuestionLoader
	switch {
	case cfg.Postgres.URL != "":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fail(fmt.Errorf("postgres connect: %w", err))
		}
		rt.closers = append(rt.closers, pool.Close)
		loader = pgstore.NewQuestionLoader(pool)
	case cfg.Quiz.QuestionsFile != "":
		loader = memory.NewFileQuestionLoader(cfg.Quiz.QuestionsFile)
	default:
		return fail(fmt.Errorf("no question source: set postgres.url or quiz.questions_file"))
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	markerTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
	bank := memory.NewQuestionRepository(loader, quizTTL)

	var (
		answerKey app.AnswerKeyProvider = bank
		registry  app.AttemptRegistry
	)
	if redisClient != nil {
		rt.store = redisstore.NewDocumentStore(redisClient, log)
		answerKey = redisstore.NewAnswerKeyCache(redisClient, bank, quizTTL)
		registry = redisstore.NewAttemptRegistry(redisClient, markerTTL)
	} else {
		log.Warn("redis not configured, session records are kept in memory")
		rt.store = memory.NewDocumentStore()
		registry = memory.NewAttemptRegistry()
	}

	sender, err := newEmailSender(cfg, log)
	if err != nil {
		return fail(err)
	}

	rt.service = app.NewAssessmentService(app.Dependencies{
		Store:                rt.store,
		Questions:            bank,
		AnswerKey:            answerKey,
		Email:                sender,
		Registry:             registry,
		Defaults:             cfg.Settings(),
		MigrationDate:        domain.Date(cfg.Migration.LegacyDate),
		MigrationConcurrency: cfg.Migration.Concurrency,
		Location:             cfg.Location(),
		Logger:               log,
		Metrics:              metrics.New(reg),
	})
	return rt, nil
}

func newEmailSender(cfg config.Config, log logrus.FieldLogger) (app.EmailSender, error) {
	switch cfg.Email.Driver {
	case "smtp":
		if cfg.Email.SMTPAddr == "" || cfg.Email.From == "" {
			return nil, fmt.Errorf("email.smtp_addr and email.from are required for the smtp driver")
		}
		return email.NewSMTPSender(email.SMTPConfig{
			Addr:     cfg.Email.SMTPAddr,
			From:     cfg.Email.From,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
		}), nil
	case "none":
		return nil, nil
	default:
		return email.NewLogSender(log), nil
	}
}
