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
)

func CreateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := model.Form{}
		err := render.DecodeJSON(r.Body, &form)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		if err := validate.Struct(form); err != nil {
			httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "create_form.validate", "invalid form: %s", err)
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		var formId int
		err = tx.QueryRowContext(r.Context(), `
			INSERT INTO forms (form_code, revision_no, effectivity_date)
			VALUES (?, ?, ?)
			RETURNING form_id`,
			form.FormCode,
			form.RevisionNo,
			form.EffectivityDate,
		).Scan(&formId)
		if isUniqueViolation(err) {
			httpx.LogStatusMsg(w, http.StatusConflict, log.DebugLevel, "create_form.duplicate",
				"form %s revision %d already exists", form.FormCode, form.RevisionNo)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form", err)
			return
		}

		questionStmt, err := tx.PrepareContext(r.Context(), `
			INSERT INTO questions (form_id, type_id, question_code, question_text, display_order)
			VALUES (?, (SELECT type_id FROM question_types WHERE type_name = ?), ?, ?, ?)
			RETURNING question_id`)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form.questions.prepare", err)
			return
		}
		defer questionStmt.Close()

		optionStmt, err := tx.PrepareContext(r.Context(), `
			INSERT INTO options (question_id, option_value, option_text)
			VALUES (?, ?, ?)`)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form.options.prepare", err)
			return
		}
		defer optionStmt.Close()

		for i, q := range form.Questions {
			order := q.DisplayOrder
			if order == 0 {
				order = i + 1
			}

			var questionId int
			err = questionStmt.QueryRowContext(r.Context(), formId, q.TypeName, q.Code, q.Text, order).
				Scan(&questionId)
			if err != nil {
				httpx.LogInternalError(w, "db.insert_form.questions.insert", err)
				return
			}

			for _, o := range q.Options {
				_, err = optionStmt.ExecContext(r.Context(), questionId, o.Value, o.Text)
				if err != nil {
					httpx.LogInternalError(w, "db.insert_form.options.insert", err)
					return
				}
			}
		}

		if form.SetActive {
			err = upsertActiveForm(r, tx, formId)
			if err != nil {
				httpx.LogInternalError(w, "db.insert_form.set_active", err)
				return
			}
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form.commit", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": formId,
		})
	}
}

func ListForms(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := app.QueryContext(r.Context(), `
			SELECT form_id, form_code, revision_no, effectivity_date
			FROM forms
			ORDER BY form_id DESC`,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_forms", err)
			return
		}
		defer rows.Close()

		forms := []model.Form{}
		for rows.Next() {
			f := model.Form{}
			err = rows.Scan(&f.ID, &f.FormCode, &f.RevisionNo, &f.EffectivityDate)
			if err != nil {
				httpx.LogInternalError(w, "db.get_forms.scan", err)
				return
			}
			forms = append(forms, f)
		}

		render.JSON(w, r, map[string]any{
			"forms": forms,
		})
	}
}

func GetActiveForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := model.Form{}
		var setAt time.Time
		err := app.QueryRowContext(r.Context(), `
			SELECT f.form_id, f.form_code, f.revision_no, f.effectivity_date, af.set_at
			FROM forms f
			JOIN active_form af ON (f.form_id = af.form_id)
			ORDER BY af.set_at DESC LIMIT 1`,
		).Scan(&f.ID, &f.FormCode, &f.RevisionNo, &f.EffectivityDate, &setAt)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_active_form", "none")
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_active_form", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"form":   f,
			"set_at": setAt,
		})
	}
}

func SetActiveForm(app app.App) http.HandlerFunc {
	type request struct {
		FormID int `json:"form_id" validate:"required"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req := request{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if err := validate.Struct(req); err != nil {
			httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "set_active_form.validate", "invalid request: %s", err)
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		var exists bool
		err = tx.QueryRowContext(r.Context(),
			`SELECT 1 FROM forms WHERE form_id = ?`,
			req.FormID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "set_active_form", req.FormID)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}

		err = upsertActiveForm(r, tx, req.FormID)
		if err != nil {
			httpx.LogInternalError(w, "db.set_active_form", err)
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.set_active_form.commit", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"form_id": req.FormID,
		})
	}
}

// upsertActiveForm writes the singleton pointer row. The fixed key makes
// concurrent calls converge on one row instead of racing a check-then-act.
func upsertActiveForm(r *http.Request, tx *sql.Tx, formId int) error {
	_, err := tx.ExecContext(r.Context(), `
		INSERT INTO active_form (id, form_id, set_at)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			form_id = excluded.form_id,
			set_at = excluded.set_at`,
		formId,
		time.Now(),
	)
	return err
}

func CreateOffice(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		office := model.Office{}
		err := render.DecodeJSON(r.Body, &office)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		office.Name = sanitizeText(office.Name, 0)
		if office.Name == "" {
			httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "create_office.validate", "name is required")
			return
		}

		var officeId int
		err = app.QueryRowContext(r.Context(), `
			INSERT INTO offices (office_name)
			VALUES (?)
			RETURNING office_id`,
			office.Name,
		).Scan(&officeId)
		if isUniqueViolation(err) {
			httpx.LogStatusMsg(w, http.StatusConflict, log.DebugLevel, "create_office.duplicate", "office %q already exists", office.Name)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.insert_office", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": officeId,
		})
	}
}

// startDate resolves the ?filter= query parameter the dashboard uses:
// all (default), week or month.
func startDate(r *http.Request) (string, bool) {
	switch r.URL.Query().Get("filter") {
	case "week":
		return time.Now().AddDate(0, 0, -7).Format("2006-01-02"), true
	case "month":
		return time.Now().AddDate(0, 0, -30).Format("2006-01-02"), true
	}
	return "", false
}

func GetOfficeMetrics(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		officeId, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		metrics := model.OfficeMetrics{OfficeID: officeId}
		err = app.QueryRowContext(r.Context(),
			`SELECT office_name FROM offices WHERE office_id = ?`,
			officeId,
		).Scan(&metrics.OfficeName)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_metrics", officeId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_office", err)
			return
		}

		since, filtered := startDate(r)

		// overall rating average; AVG over no rows is NULL, never zero
		query := `
			SELECT AVG(orat.rating), COUNT(orat.rating)
			FROM clients c
			JOIN form_submissions fs ON (fs.client_id = c.client_id)
			JOIN overall_ratings orat ON (orat.submission_id = fs.submission_id)
			WHERE c.office_id = ?`
		args := []any{officeId}
		if filtered {
			query += ` AND c.date_of_visit >= ?`
			args = append(args, since)
		}

		var avgRating sql.NullFloat64
		err = app.QueryRowContext(r.Context(), query, args...).
			Scan(&avgRating, &metrics.RatingCount)
		if err != nil {
			httpx.LogInternalError(w, "db.get_metrics.rating", err)
			return
		}
		if avgRating.Valid {
			metrics.AvgRating = &avgRating.Float64
		}

		query = `
			SELECT AVG(sqd.weighted_mean)
			FROM sqd_ratings sqd
			JOIN form_submissions fs ON (fs.submission_id = sqd.submission_id)
			JOIN clients c ON (c.client_id = fs.client_id)
			WHERE sqd.office_id = ?`
		args = []any{officeId}
		if filtered {
			query += ` AND c.date_of_visit >= ?`
			args = append(args, since)
		}

		var avgSQD sql.NullFloat64
		err = app.QueryRowContext(r.Context(), query, args...).Scan(&avgSQD)
		if err != nil {
			httpx.LogInternalError(w, "db.get_metrics.sqd", err)
			return
		}
		if avgSQD.Valid {
			metrics.AvgSQDRating = &avgSQD.Float64
		}

		query = `
			SELECT q.question_id, q.question_code, q.question_text, AVG(sqd.weighted_mean)
			FROM sqd_ratings sqd
			JOIN questions q ON (q.question_id = sqd.question_id)
			JOIN form_submissions fs ON (fs.submission_id = sqd.submission_id)
			JOIN clients c ON (c.client_id = fs.client_id)
			WHERE sqd.office_id = ?`
		args = []any{officeId}
		if filtered {
			query += ` AND c.date_of_visit >= ?`
			args = append(args, since)
		}
		query += `
			GROUP BY q.question_id, q.question_code, q.question_text
			ORDER BY q.display_order`

		rows, err := app.QueryContext(r.Context(), query, args...)
		if err != nil {
			httpx.LogInternalError(w, "db.get_metrics.questions", err)
			return
		}
		defer rows.Close()

		metrics.Questions = []model.QuestionMetric{}
		for rows.Next() {
			qm := model.QuestionMetric{}
			var mean sql.NullFloat64
			err = rows.Scan(&qm.QuestionID, &qm.Code, &qm.Text, &mean)
			if err != nil {
				httpx.LogInternalError(w, "db.get_metrics.questions.scan", err)
				return
			}
			if mean.Valid {
				qm.WeightedMean = &mean.Float64
			}
			metrics.Questions = append(metrics.Questions, qm)
		}

		render.JSON(w, r, metrics)
	}
}

// GetSubmissionEmailLog exposes the delivery audit trail for one submission.
func GetSubmissionEmailLog(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submissionId, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		rows, err := app.QueryContext(r.Context(), `
			SELECT log_id, submission_id, email_type, status, error_message, logged_at
			FROM email_logs
			WHERE submission_id = ?
			ORDER BY log_id`,
			submissionId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_email_logs", err)
			return
		}
		defer rows.Close()

		logs := []model.EmailLog{}
		for rows.Next() {
			l := model.EmailLog{}
			var errMsg sql.NullString
			err = rows.Scan(&l.ID, &l.SubmissionID, &l.EmailType, &l.Status, &errMsg, &l.LoggedAt)
			if err != nil {
				httpx.LogInternalError(w, "db.get_email_logs.scan", err)
				return
			}
			l.ErrorMessage = errMsg.String
			logs = append(logs, l)
		}

		render.JSON(w, r, map[string]any{
			"email_logs": logs,
		})
	}
}

func GetOfficeEvaluations(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		officeId, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		since, filtered := startDate(r)
		query := `
			SELECT
				fs.submission_id, fs.submission_token, fs.comments,
				c.date_of_visit, c.service_availed, orat.rating,
				se.email IS NOT NULL,
				EXISTS (SELECT 1 FROM admin_replies ar WHERE ar.submission_id = fs.submission_id)
			FROM form_submissions fs
			JOIN clients c ON (c.client_id = fs.client_id)
			JOIN overall_ratings orat ON (orat.submission_id = fs.submission_id)
			LEFT OUTER JOIN submission_emails se ON (se.submission_id = fs.submission_id)
			WHERE c.office_id = ?`
		args := []any{officeId}
		if filtered {
			query += ` AND c.date_of_visit >= ?`
			args = append(args, since)
		}
		query += ` ORDER BY fs.submission_id DESC`

		rows, err := app.QueryContext(r.Context(), query, args...)
		if err != nil {
			httpx.LogInternalError(w, "db.get_evaluations", err)
			return
		}
		defer rows.Close()

		evaluations := []model.Evaluation{}
		for rows.Next() {
			e := model.Evaluation{}
			var dateOfVisit sql.NullString
			err = rows.Scan(
				&e.SubmissionID, &e.Token, &e.Comments,
				&dateOfVisit, &e.ServiceAvailed, &e.Rating,
				&e.HasEmail, &e.Replied,
			)
			if err != nil {
				httpx.LogInternalError(w, "db.get_evaluations.scan", err)
				return
			}
			e.DateOfVisit = dateOfVisit.String
			evaluations = append(evaluations, e)
		}

		render.JSON(w, r, map[string]any{
			"evaluations": evaluations,
		})
	}
}
