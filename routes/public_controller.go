package routes

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/tauict/feedback/app"
	"github.com/tauict/feedback/httpx"
	"github.com/tauict/feedback/log"
	"github.com/tauict/feedback/model"
	"github.com/tauict/feedback/notify"
	"github.com/tauict/feedback/sqd"
)

const serviceAvailedMaxLen = 100

// ErrNoActiveForm means no questionnaire has been activated yet.
var ErrNoActiveForm = errors.New("no active form")

func PublicGetActiveForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := fetchActiveForm(r, app.DB)
		if errors.Is(err, ErrNoActiveForm) {
			httpx.LogStatusMsg(w, http.StatusNotFound, log.DebugLevel, "get_form.active", "no active form is configured")
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}

		offices, err := fetchOffices(r, app.DB)
		if err != nil {
			httpx.LogInternalError(w, "db.get_form.offices", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"form":    form,
			"offices": offices,
		})
	}
}

func PublicListOffices(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offices, err := fetchOffices(r, app.DB)
		if err != nil {
			httpx.LogInternalError(w, "db.get_offices", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"offices": offices,
		})
	}
}

func SubmitFeedback(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feedback := model.Feedback{}
		err := render.DecodeJSON(r.Body, &feedback)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		if err := validate.Struct(feedback); err != nil {
			httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "submit.validate", "invalid submission: %s", err)
			return
		}

		feedback.ServiceAvailed = sanitizeText(feedback.ServiceAvailed, serviceAvailedMaxLen)
		if feedback.ServiceAvailed == "" {
			httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "submit.validate", "service_availed is required")
			return
		}

		// resolve the active questionnaire; submission is impossible without one
		var formId int
		err = app.QueryRowContext(r.Context(), `
			SELECT form_id FROM active_form
			ORDER BY set_at DESC LIMIT 1`,
		).Scan(&formId)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogStatusMsg(w, http.StatusServiceUnavailable, log.WarnLevel, "submit.active_form", "no active form is configured")
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_active_form", err)
			return
		}

		var officeName string
		err = app.QueryRowContext(r.Context(),
			`SELECT office_name FROM offices WHERE office_id = ?`,
			feedback.OfficeID,
		).Scan(&officeName)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "submit.validate", "unknown office %d", feedback.OfficeID)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_office", err)
			return
		}

		questions, err := fetchFormAnswerKey(r, app.DB, formId)
		if err != nil {
			httpx.LogInternalError(w, "db.get_form_questions", err)
			return
		}

		// every answer must name a question of the active form and one of
		// that question's own options, at most once per question
		answered := make(map[int]bool, len(feedback.Answers))
		for _, a := range feedback.Answers {
			q, ok := questions[a.QuestionID]
			if !ok {
				httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "submit.validate", "question %d does not belong to the active form", a.QuestionID)
				return
			}
			if _, ok := q.options[a.OptionID]; !ok {
				httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "submit.validate", "option %d does not belong to question %d", a.OptionID, a.QuestionID)
				return
			}
			if answered[a.QuestionID] {
				httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "submit.validate", "question %d answered more than once", a.QuestionID)
				return
			}
			answered[a.QuestionID] = true
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		var dateOfVisit any
		if feedback.DateOfVisit != "" {
			dateOfVisit = feedback.DateOfVisit
		}

		var clientId int
		err = tx.QueryRowContext(r.Context(), `
			INSERT INTO clients (date_of_visit, office_id, service_availed)
			VALUES (?, ?, ?)
			RETURNING client_id`,
			dateOfVisit,
			feedback.OfficeID,
			feedback.ServiceAvailed,
		).Scan(&clientId)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_client", err)
			return
		}

		submissionId, token, err := insertSubmission(r, tx, clientId, feedback.Comments)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_submission", err)
			return
		}

		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO overall_ratings (submission_id, rating)
			VALUES (?, ?)`,
			submissionId,
			feedback.OverallRating,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_rating", err)
			return
		}

		if feedback.Email != "" {
			_, err = tx.ExecContext(r.Context(), `
				INSERT INTO submission_emails (submission_id, email, expires_at)
				VALUES (?, ?, ?)`,
				submissionId,
				feedback.Email,
				time.Now().AddDate(0, 0, 30),
			)
			if err != nil {
				httpx.LogInternalError(w, "db.insert_email", err)
				return
			}
		}

		respStmt, err := tx.PrepareContext(r.Context(), `
			INSERT INTO responses (client_id, question_id, option_id)
			VALUES (?, ?, ?)`)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_responses.prepare", err)
			return
		}
		defer respStmt.Close()

		for _, a := range feedback.Answers {
			_, err = respStmt.ExecContext(r.Context(), clientId, a.QuestionID, a.OptionID)
			if err != nil {
				httpx.LogInternalError(w, "db.insert_responses.insert", err)
				return
			}

			q := questions[a.QuestionID]
			if !sqd.IsSQD(q.code) {
				continue
			}
			weight, ok := sqd.Weight(q.options[a.OptionID])
			if !ok {
				// non-ordinal option on an SQD question: response only
				continue
			}
			_, err = tx.ExecContext(r.Context(), `
				INSERT INTO sqd_ratings (submission_id, office_id, question_id, weighted_mean)
				VALUES (?, ?, ?, ?)`,
				submissionId,
				feedback.OfficeID,
				a.QuestionID,
				weight,
			)
			if err != nil {
				httpx.LogInternalError(w, "db.insert_sqd_rating", err)
				return
			}
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.insert_submission.commit", err)
			return
		}

		// notifications are best effort; the submission is already committed
		app.Notifier.SubmissionRecorded(r.Context(), notify.Submission{
			ID:             submissionId,
			Token:          token,
			OfficeName:     officeName,
			ServiceAvailed: feedback.ServiceAvailed,
			OverallRating:  feedback.OverallRating,
			Comments:       feedback.Comments,
			Email:          feedback.Email,
		})

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"token": token,
		})
	}
}

// insertSubmission generates the submission token and inserts the row,
// regenerating on the off chance the token collides.
func insertSubmission(r *http.Request, tx *sql.Tx, clientId int, comments string) (submissionId int, token string, err error) {
	for attempt := 0; attempt < 3; attempt++ {
		token, err = newSubmissionToken()
		if err != nil {
			return 0, "", err
		}

		err = tx.QueryRowContext(r.Context(), `
			INSERT INTO form_submissions (client_id, submission_token, comments)
			VALUES (?, ?, ?)
			RETURNING submission_id`,
			clientId,
			token,
			comments,
		).Scan(&submissionId)
		if err == nil {
			return submissionId, token, nil
		}
		if !isUniqueViolation(err) {
			return 0, "", err
		}
		log.Warnf("submit.token_collision: regenerating (attempt %d)", attempt+1)
	}
	return 0, "", fmt.Errorf("insert submission: %w", err)
}

func newSubmissionToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

type answerKeyQuestion struct {
	code    string
	options map[int]string // option_id -> option_value
}

// fetchFormAnswerKey loads a form's questions and options keyed for answer
// validation and SQD derivation.
func fetchFormAnswerKey(r *http.Request, db *sql.DB, formId int) (map[int]answerKeyQuestion, error) {
	rows, err := db.QueryContext(r.Context(), `
		SELECT q.question_id, q.question_code, o.option_id, o.option_value
		FROM questions q
		JOIN options o ON (o.question_id = q.question_id)
		WHERE q.form_id = ?`,
		formId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := map[int]answerKeyQuestion{}
	for rows.Next() {
		var questionId, optionId int
		var code, value string
		err = rows.Scan(&questionId, &code, &optionId, &value)
		if err != nil {
			return nil, err
		}

		q, ok := questions[questionId]
		if !ok {
			q = answerKeyQuestion{code: code, options: map[int]string{}}
		}
		q.options[optionId] = value
		questions[questionId] = q
	}
	return questions, rows.Err()
}

// fetchActiveForm resolves the active-form pointer and loads the full
// questionnaire, questions in display order.
func fetchActiveForm(r *http.Request, db *sql.DB) (*model.Form, error) {
	form := model.Form{}
	err := db.QueryRowContext(r.Context(), `
		SELECT f.form_id, f.form_code, f.revision_no, f.effectivity_date
		FROM forms f
		JOIN active_form af ON (f.form_id = af.form_id)
		ORDER BY af.set_at DESC LIMIT 1`,
	).Scan(&form.ID, &form.FormCode, &form.RevisionNo, &form.EffectivityDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveForm
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(r.Context(), `
		SELECT
			q.question_id, qt.type_name, q.question_code, q.question_text, q.display_order,
			o.option_id, o.option_value, o.option_text
		FROM questions q
		JOIN question_types qt ON (qt.type_id = q.type_id)
		LEFT OUTER JOIN options o ON (o.question_id = q.question_id)
		WHERE q.form_id = ?
		ORDER BY q.display_order, q.question_id, o.option_id`,
		form.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		q := model.Question{}
		var optionId sql.NullInt64
		var optionValue, optionText sql.NullString
		err = rows.Scan(
			&q.ID, &q.TypeName, &q.Code, &q.Text, &q.DisplayOrder,
			&optionId, &optionValue, &optionText,
		)
		if err != nil {
			return nil, err
		}

		if n := len(form.Questions); n == 0 || form.Questions[n-1].ID != q.ID {
			form.Questions = append(form.Questions, q)
		}
		if optionId.Valid {
			last := &form.Questions[len(form.Questions)-1]
			last.Options = append(last.Options, model.Option{
				ID:    int(optionId.Int64),
				Value: optionValue.String,
				Text:  optionText.String,
			})
		}
	}
	return &form, rows.Err()
}

func fetchOffices(r *http.Request, db *sql.DB) ([]model.Office, error) {
	rows, err := db.QueryContext(r.Context(), `
		SELECT office_id, office_name FROM offices
		ORDER BY office_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offices := []model.Office{}
	for rows.Next() {
		o := model.Office{}
		err = rows.Scan(&o.ID, &o.Name)
		if err != nil {
			return nil, err
		}
		offices = append(offices, o)
	}
	return offices, rows.Err()
}
