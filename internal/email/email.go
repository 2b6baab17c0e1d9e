// Package email delivers result emails.
package email

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"
	"prepost-assessment-service/internal/domain"
)

// LogSender writes the rendered email to the log instead of sending it.
type LogSender struct {
	log logrus.FieldLogger
}

func NewLogSender(log logrus.FieldLogger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendResultEmail(_ context.Context, payload domain.ResultEmail) error {
	body, err := Render(payload)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"key":         payload.Key,
		"participant": payload.ParticipantID,
		"score":       payload.Score,
	}).Info("result email\n" + body)
	return nil
}

// SMTPConfig addresses an SMTP relay. Username empty disables auth.
type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string
}

// SMTPSender sends result emails through an SMTP relay. The participant id is
// the recipient address.
type SMTPSender struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}
}

func (s *SMTPSender) SendResultEmail(ctx context.Context, payload domain.ResultEmail) error {
	if !strings.Contains(payload.ParticipantID, "@") {
		return fmt.Errorf("participant %q has no email address", payload.ParticipantID)
	}
	body, err := Render(payload)
	if err != nil {
		return err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", payload.ParticipantID)
	fmt.Fprintf(&msg, "Subject: %s\r\n", Subject(payload))
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	var auth smtp.Auth
	if s.cfg.Username != "" {
		host, _, err := net.SplitHostPort(s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("smtp addr: %w", err)
		}
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.cfg.Addr, auth, s.cfg.From, []string{payload.ParticipantID}, msg.Bytes())
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subject is the email subject line for payload.
func Subject(payload domain.ResultEmail) string {
	return fmt.Sprintf("Your %s-assessment result: %d/%d", payload.Mode, payload.Score, len(payload.Items))
}

var resultTemplate = template.Must(template.New("result").Funcs(template.FuncMap{
	"inc":      func(i int) int { return i + 1 },
	"duration": func(d time.Duration) string { return d.Truncate(time.Second).String() },
}).Parse(`Assessment: {{.Mode}}
Score: {{.Score}} of {{len .Items}} ({{.AnsweredCount}} answered, {{.UnansweredCount}} unanswered)
Time taken: {{duration .TimeTaken}}
{{- if .SubmitReason}}
Submitted: {{.SubmitReason}}{{end}}
{{range .Items}}
{{inc .Index}}. {{.Question}}{{if .Topic}} [{{.Topic}}]{{end}}
   Your answer: {{if .WasAnswered}}{{.Selected}}{{else}}(no answer){{end}}
   Correct answer: {{.Correct}}{{if .IsCorrect}} - correct{{end}}
{{end}}`))

// Render produces the plain-text body of a result email.
func Render(payload domain.ResultEmail) (string, error) {
	var buf bytes.Buffer
	if err := resultTemplate.Execute(&buf, payload); err != nil {
		return "", fmt.Errorf("render result email: %w", err)
	}
	return buf.String(), nil
}
