// Package notify dispatches submission and reply emails and records every
// attempt in the email_logs audit table.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tauict/feedback/config"
	"github.com/tauict/feedback/log"
)

// Email types as stored in email_logs.
const (
	TypeConfirmation = "submission_confirmation"
	TypeStaffAlert   = "staff_notification"
	TypeAdminReply   = "admin_reply"
)

// error_message column width
const maxErrorLen = 255

// Sender delivers a single message to a single recipient.
type Sender interface {
	Send(to, subject, body string) error
}

type Notifier struct {
	db     *sql.DB
	sender Sender
	cfg    config.Mail
}

func New(db *sql.DB, sender Sender, cfg config.Mail) *Notifier {
	return &Notifier{db: db, sender: sender, cfg: cfg}
}

// Submission carries the recorded submission details the messages need.
type Submission struct {
	ID             int
	Token          string
	OfficeName     string
	ServiceAvailed string
	OverallRating  int
	Comments       string
	Email          string
}

// SubmissionRecorded fires the per-submission notifications: a client
// confirmation when an email was supplied, and a staff alert always.
// Each kind gets exactly one attempt; failures are logged and swallowed —
// the submission is already committed.
func (n *Notifier) SubmissionRecorded(ctx context.Context, sub Submission) {
	if sub.Email != "" {
		body := fmt.Sprintf(
			"Thank you for your feedback on %s!\n\n"+
				"Submission ID: %s\n"+
				"Office Evaluated: %s\n"+
				"Service Availed: %s\n\n"+
				"Keep your Submission ID for reference. We may contact you via this email.\n\n"+
				"Best regards,\n%s",
			sub.OfficeName, sub.Token, sub.OfficeName, sub.ServiceAvailed, n.cfg.FromName,
		)
		n.dispatch(ctx, TypeConfirmation, sub.ID, sub.Email, "Your Feedback Submission", body)
	}

	comments := sub.Comments
	if comments == "" {
		comments = "None"
	}
	body := fmt.Sprintf(
		"New Feedback Submission\n\n"+
			"Submission ID: %s\n"+
			"Office Evaluated: %s\n"+
			"Service Availed: %s\n"+
			"Overall Rating: %d/5\n"+
			"Comments: %s\n\n"+
			"Best regards,\n%s",
		sub.Token, sub.OfficeName, sub.ServiceAvailed, sub.OverallRating, comments, n.cfg.FromName,
	)
	n.dispatch(ctx, TypeStaffAlert, sub.ID, n.cfg.StaffEmail, "New Feedback Submission Received", body)
}

// DeliverReply sends an admin reply message. Unlike the submission
// notifications the outcome is returned: the caller persists the reply only
// on confirmed delivery, then records the attempt with LogOutcome once its
// transaction has resolved.
func (n *Notifier) DeliverReply(to, token, officeName, message string) error {
	body := fmt.Sprintf(
		"Reply to your feedback on %s (Submission ID: %s):\n\n%s\n\n"+
			"Best regards,\n%s",
		officeName, token, message, n.cfg.FromName,
	)
	err := n.sender.Send(to, "Reply to Your Feedback", body)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func (n *Notifier) dispatch(ctx context.Context, emailType string, submissionID int, to, subject, body string) {
	err := n.sender.Send(to, subject, body)
	n.LogOutcome(ctx, submissionID, emailType, err)
	if err != nil {
		log.Warnf("notify.%s: %s", emailType, err)
	}
}

// LogOutcome appends the audit row for one send attempt.
func (n *Notifier) LogOutcome(ctx context.Context, submissionID int, emailType string, sendErr error) {
	status := "sent"
	var errMsg sql.NullString
	if sendErr != nil {
		status = "failed"
		errMsg = sql.NullString{String: truncate(sendErr.Error(), maxErrorLen), Valid: true}
	}

	_, err := n.db.ExecContext(ctx, `
		INSERT INTO email_logs (submission_id, email_type, status, error_message, logged_at)
		VALUES (?, ?, ?, ?, ?)`,
		submissionID,
		emailType,
		status,
		errMsg,
		time.Now(),
	)
	if err != nil {
		log.Errorf("notify.log_outcome: %s", err)
	}
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
