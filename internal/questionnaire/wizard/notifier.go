package wizard

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "advisory-portal/internal/common/errors"
	"advisory-portal/internal/common/logger"
	"advisory-portal/internal/questionnaire/answers"
)

// Submission describes a questionnaire that reached the remote store as
// complete.
type Submission struct {
	SessionID      string         `json:"sessionId"`
	Identity       string         `json:"identity"`
	SubmittedAt    time.Time      `json:"submittedAt"`
	QualifiedGoals []answers.Goal `json:"qualifiedGoals"`
	AnswerCount    int            `json:"answerCount"`
}

// Notifier is told about successful submissions. Failures are logged by the
// engine and never undo the submission.
type Notifier interface {
	NotifySubmitted(ctx context.Context, sub Submission) error
}

// EmailSender delivers a plain-text email.
type EmailSender interface {
	SendEmail(ctx context.Context, from, to, subject, body string) error
}

// EmailNotifier mails the advisory desk whenever a client submits.
type EmailNotifier struct {
	sender EmailSender
	from   string
	to     string
}

func NewEmailNotifier(sender EmailSender, from, to string) *EmailNotifier {
	return &EmailNotifier{sender: sender, from: from, to: to}
}

func (n *EmailNotifier) NotifySubmitted(ctx context.Context, sub Submission) error {
	subject := fmt.Sprintf("Questionnaire submitted (%s)", sub.SessionID)

	var b strings.Builder
	fmt.Fprintf(&b, "Client %s submitted the financial questionnaire at %s.\n\n",
		sub.Identity, sub.SubmittedAt.Format(time.RFC1123))
	fmt.Fprintf(&b, "Answers recorded: %d\n", sub.AnswerCount)
	if len(sub.QualifiedGoals) == 0 {
		b.WriteString("No goals were selected for follow-up.\n")
	} else {
		b.WriteString("Goals for follow-up:\n")
		for _, g := range sub.QualifiedGoals {
			fmt.Fprintf(&b, "  - %s (%s)\n", g.Name, strings.ReplaceAll(string(g.Interest), "_", " "))
		}
	}

	if err := n.sender.SendEmail(ctx, n.from, n.to, subject, b.String()); err != nil {
		return apperrors.NewNotificationSendFailedError("email", err)
	}
	return nil
}

// LogNotifier only logs submissions; used when email is disabled.
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifySubmitted(_ context.Context, sub Submission) error {
	n.log.Info("Questionnaire submitted", map[string]interface{}{
		"session_id":      sub.SessionID,
		"qualified_goals": len(sub.QualifiedGoals),
		"answer_count":    sub.AnswerCount,
	})
	return nil
}
