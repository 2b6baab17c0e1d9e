package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"prepost-assessment-service/internal/domain"
	"prepost-assessment-service/internal/logger"
)

func samplePayload() domain.ResultEmail {
	return domain.ResultEmail{
		Key:           "ana@example.com_pre_20240310",
		ParticipantID: "ana@example.com",
		Mode:          domain.ModePre,
		Items: []domain.ResultEmailItem{
			{Index: 0, Question: "2 + 2?", Topic: "arithmetic", Selected: "4", Correct: "4", IsCorrect: true, WasAnswered: true},
			{Index: 1, Question: "Capital of France?", Correct: "Paris"},
		},
		Score:           1,
		CorrectCount:    1,
		WrongCount:      1,
		AnsweredCount:   1,
		UnansweredCount: 1,
		TimeTaken:       90*time.Second + 300*time.Millisecond,
		SubmitReason:    domain.ReasonTimeExpired,
	}
}

func TestRender(t *testing.T) {
	body, err := Render(samplePayload())
	require.NoError(t, err)

	assert.Contains(t, body, "Score: 1 of 2 (1 answered, 1 unanswered)")
	assert.Contains(t, body, "Time taken: 1m30s")
	assert.Contains(t, body, "Submitted: timeExpired")
	assert.Contains(t, body, "1. 2 + 2? [arithmetic]")
	assert.Contains(t, body, "Your answer: (no answer)")
	assert.Contains(t, body, "Correct answer: 4 - correct")
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Addr: "mail.example.com:587", From: "noreply@example.com", Username: "u", Password: "p"})
	var gotTo []string
	var gotMsg string
	sender.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "mail.example.com:587", addr)
		assert.NotNil(t, a)
		gotTo = to
		gotMsg = string(msg)
		return nil
	}

	require.NoError(t, sender.SendResultEmail(context.Background(), samplePayload()))
	assert.Equal(t, []string{"ana@example.com"}, gotTo)
	assert.True(t, strings.HasPrefix(gotMsg, "From: noreply@example.com\r\n"))
	assert.Contains(t, gotMsg, "Subject: Your pre-assessment result: 1/2\r\n")
}

func TestSMTPSenderErrors(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Addr: "mail.example.com:25", From: "noreply@example.com"})
	sender.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay refused") }

	err := sender.SendResultEmail(context.Background(), samplePayload())
	assert.EqualError(t, err, "relay refused")

	payload := samplePayload()
	payload.ParticipantID = "P-42"
	assert.Error(t, sender.SendResultEmail(context.Background(), payload))
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, NewLogSender(logger.Discard()).SendResultEmail(context.Background(), samplePayload()))
}
