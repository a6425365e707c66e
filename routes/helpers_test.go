package routes

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tauict/feedback/app"
	"github.com/tauict/feedback/config"
	"github.com/tauict/feedback/database"
	"github.com/tauict/feedback/httpx"
	"github.com/tauict/feedback/notify"
)

var dbSeq int64

type testApp struct {
	app.App
	handler http.Handler
	sender  *fakeSender
}

// newTestApp wires the full router over a fresh in-memory database created
// through the real migrations.
func newTestApp(t *testing.T) *testApp {
	t.Helper()

	cfg := config.Config{
		DBUrl:       fmt.Sprintf("file:routes_test_%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1)),
		TokenSecret: "test-secret",
		TokenTTL:    time.Minute,
		Mail: config.Mail{
			FromAddress: "feedback@tau.test",
			FromName:    "TAU Feedback Team",
			StaffEmail:  "staff@tau.test",
		},
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sender := &fakeSender{}
	a := app.App{
		DB:           db,
		BearerServer: httpx.NewBearerServer(db, cfg),
		Config:       cfg,
		Notifier:     notify.New(db, sender, cfg.Mail),
	}

	return &testApp{App: a, handler: Wire(a), sender: sender}
}

type sentMail struct {
	To, Subject, Body string
}

type fakeSender struct {
	fail bool
	sent []sentMail
}

func (s *fakeSender) Send(to, subject, body string) error {
	if s.fail {
		return errors.New("smtp: connection refused")
	}
	s.sent = append(s.sent, sentMail{to, subject, body})
	return nil
}

// do runs a request through the router, JSON-encoding body when present
// and attaching token as a bearer credential.
func (ta *testApp) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("content-type", "application/json")
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

// adminToken provisions an admin user and logs in through the API.
func (ta *testApp) adminToken(t *testing.T) string {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = ta.Exec(`INSERT OR IGNORE INTO user (username, password_hash) VALUES (?, ?)`, "admin", string(hash))
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/login", nil)
	req.SetBasicAuth("admin", "hunter2")
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.AccessToken)
	return body.AccessToken
}

func (ta *testApp) seedOffice(t *testing.T, name string) int {
	t.Helper()

	res, err := ta.Exec(`INSERT INTO offices (office_name) VALUES (?)`, name)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return int(id)
}

// seededForm describes the standard test questionnaire: one Citizen's
// Charter multiple-choice question and one SQD Likert question.
type seededForm struct {
	formID      int
	ccQuestion  int
	ccOptions   map[string]int // option_value -> option_id
	sqdQuestion int
	sqdOptions  map[string]int
}

func (ta *testApp) seedActiveForm(t *testing.T) seededForm {
	t.Helper()

	form := ta.seedForm(t, "CSM-01", 1)
	ta.setActive(t, form.formID)
	return form
}

func (ta *testApp) seedForm(t *testing.T, code string, revision int) seededForm {
	t.Helper()

	res, err := ta.Exec(`
		INSERT INTO forms (form_code, revision_no, effectivity_date)
		VALUES (?, ?, '2025-01-01')`,
		code, revision)
	require.NoError(t, err)
	formID, err := res.LastInsertId()
	require.NoError(t, err)

	form := seededForm{
		formID:     int(formID),
		ccOptions:  map[string]int{},
		sqdOptions: map[string]int{},
	}

	form.ccQuestion = ta.seedQuestion(t, form.formID, "Multiple Choice", "CC1", "Which of the following best describes your awareness of the Citizen's Charter?", 1)
	for i, value := range []string{"1", "2", "3", "4"} {
		form.ccOptions[value] = ta.seedOption(t, form.ccQuestion, value, fmt.Sprintf("CC answer %d", i+1))
	}

	form.sqdQuestion = ta.seedQuestion(t, form.formID, "Likert", "SQD0", "I am satisfied with the service that I availed.", 2)
	for value, text := range map[string]string{
		"SD":  "Strongly Disagree",
		"D":   "Disagree",
		"NAD": "Neither Agree nor Disagree",
		"A":   "Agree",
		"SA":  "Strongly Agree",
	} {
		form.sqdOptions[value] = ta.seedOption(t, form.sqdQuestion, value, text)
	}

	return form
}

func (ta *testApp) seedQuestion(t *testing.T, formID int, typeName, code, text string, order int) int {
	t.Helper()

	res, err := ta.Exec(`
		INSERT INTO questions (form_id, type_id, question_code, question_text, display_order)
		VALUES (?, (SELECT type_id FROM question_types WHERE type_name = ?), ?, ?, ?)`,
		formID, typeName, code, text, order)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return int(id)
}

func (ta *testApp) seedOption(t *testing.T, questionID int, value, text string) int {
	t.Helper()

	res, err := ta.Exec(`
		INSERT INTO options (question_id, option_value, option_text)
		VALUES (?, ?, ?)`,
		questionID, value, text)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return int(id)
}

func (ta *testApp) setActive(t *testing.T, formID int) {
	t.Helper()

	_, err := ta.Exec(`
		INSERT INTO active_form (id, form_id, set_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET form_id = excluded.form_id, set_at = excluded.set_at`,
		formID, time.Now())
	require.NoError(t, err)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func (ta *testApp) countRows(t *testing.T, table string) int {
	t.Helper()

	var n int
	err := ta.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
	require.NoError(t, err)
	return n
}

func (ta *testApp) emailLog(t *testing.T, emailType string) (status string, errMsg sql.NullString, ok bool) {
	t.Helper()

	err := ta.QueryRow(`
		SELECT status, error_message FROM email_logs
		WHERE email_type = ?
		ORDER BY log_id DESC LIMIT 1`,
		emailType,
	).Scan(&status, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sql.NullString{}, false
	}
	require.NoError(t, err)
	return status, errMsg, true
}
