package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"prepost-assessment-service/internal/domain"
)

type questionRow struct {
	bun.BaseModel `bun:"table:questions"`

	ID                 string    `bun:"id,pk"`
	Position           int       `bun:"position,notnull"`
	Text               string    `bun:"text,notnull"`
	Topic              string    `bun:"topic,notnull"`
	Options            []string  `bun:"options,type:jsonb,notnull"`
	CorrectOptionIndex int       `bun:"correct_option_index,notnull"`
	Active             bool      `bun:"active,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,notnull"`
}

// ImportResult counts what an import changed.
type ImportResult struct {
	Upserted    int
	Deactivated int
}

// QuestionImporter replaces the active question bank in one transaction.
// Questions absent from the import are deactivated, not deleted.
type QuestionImporter struct {
	db  *bun.DB
	now func() time.Time
}

func NewQuestionImporter(db *bun.DB) *QuestionImporter {
	return &QuestionImporter{db: db, now: time.Now}
}

func (i *QuestionImporter) Import(ctx context.Context, questions []domain.Question) (ImportResult, error) {
	if len(questions) == 0 {
		return ImportResult{}, domain.ErrQuestionBankUnavailable
	}
	now := i.now().UTC()
	rows := make([]questionRow, len(questions))
	ids := make([]string, len(questions))
	for n, q := range questions {
		if err := q.Validate(); err != nil {
			return ImportResult{}, err
		}
		position := q.Order
		if position == 0 {
			position = n + 1
		}
		rows[n] = questionRow{
			ID:                 q.ID,
			Position:           position,
			Text:               q.Text,
			Topic:              q.Topic,
			Options:            q.Options,
			CorrectOptionIndex: q.CorrectOptionIndex,
			Active:             true,
			UpdatedAt:          now,
		}
		ids[n] = q.ID
	}

	var result ImportResult
	err := i.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().
			Model(&rows).
			On("CONFLICT (id) DO UPDATE").
			Set("position = EXCLUDED.position").
			Set("text = EXCLUDED.text").
			Set("topic = EXCLUDED.topic").
			Set("options = EXCLUDED.options").
			Set("correct_option_index = EXCLUDED.correct_option_index").
			Set("active = TRUE").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("upsert questions: %w", err)
		}
		res, err := tx.NewUpdate().
			Model((*questionRow)(nil)).
			Set("active = FALSE").
			Set("updated_at = ?", now).
			Where("active").
			Where("id NOT IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("deactivate questions: %w", err)
		}
		deactivated, _ := res.RowsAffected()
		result = ImportResult{Upserted: len(rows), Deactivated: int(deactivated)}
		return nil
	})
	return result, err
}
