package routes

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tauict/feedback/app"
	"github.com/tauict/feedback/httpx"
	"github.com/tauict/feedback/log"
	"github.com/tauict/feedback/model"
	"github.com/tauict/feedback/notify"
)

// replyError writes the reply endpoint's JSON error envelope.
func replyError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	log.Debug("reply:", msg)
	w.WriteHeader(status)
	render.JSON(w, r, map[string]any{
		"error": msg,
	})
}

// SendReply records the single admin reply for a submission and delivers
// it. The reply row is committed only on confirmed delivery; a transport
// failure leaves the submission unreplied (and logged as failed), so it
// can be retried.
func SendReply(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submissionId, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		reply := model.Reply{}
		err = render.DecodeJSON(r.Body, &reply)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		reply.Message = sanitizeText(reply.Message, 0)
		if reply.Message == "" {
			replyError(w, r, http.StatusUnprocessableEntity, "message is required")
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		var token, officeName string
		var email sql.NullString
		var expiresAt sql.NullTime
		err = tx.QueryRowContext(r.Context(), `
			SELECT fs.submission_token, o.office_name, se.email, se.expires_at
			FROM form_submissions fs
			JOIN clients c ON (c.client_id = fs.client_id)
			JOIN offices o ON (o.office_id = c.office_id)
			LEFT OUTER JOIN submission_emails se ON (se.submission_id = fs.submission_id)
			WHERE fs.submission_id = ?`,
			submissionId,
		).Scan(&token, &officeName, &email, &expiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			replyError(w, r, http.StatusNotFound, "submission not found")
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_submission", err)
			return
		}

		if !email.Valid {
			replyError(w, r, http.StatusUnprocessableEntity, "no email on file for this submission")
			return
		}
		if err := validate.Var(email.String, "email"); err != nil {
			replyError(w, r, http.StatusUnprocessableEntity, "email on file is not valid")
			return
		}
		if expiresAt.Valid && expiresAt.Time.Before(time.Now()) {
			replyError(w, r, http.StatusGone, "correspondence window has expired")
			return
		}

		// the primary key turns a concurrent duplicate into a conflict here,
		// before any mail goes out
		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO admin_replies (submission_id, reply_text, replied_at)
			VALUES (?, ?, ?)`,
			submissionId,
			reply.Message,
			time.Now(),
		)
		if isUniqueViolation(err) {
			replyError(w, r, http.StatusConflict, "already replied")
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.insert_reply", err)
			return
		}

		sendErr := app.Notifier.DeliverReply(email.String, token, officeName, reply.Message)
		if sendErr != nil {
			// rollback drops the reply row; the attempt is still audited
			tx.Rollback()
			app.Notifier.LogOutcome(r.Context(), submissionId, notify.TypeAdminReply, sendErr)
			log.Errorf("reply.send: %s", sendErr)
			replyError(w, r, http.StatusBadGateway, "could not deliver reply email")
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.insert_reply.commit", err)
			return
		}
		app.Notifier.LogOutcome(r.Context(), submissionId, notify.TypeAdminReply, nil)

		render.JSON(w, r, map[string]any{
			"success": "reply sent",
		})
	}
}
