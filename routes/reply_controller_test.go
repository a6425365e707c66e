package routes

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tauict/feedback/model"
)

// submitWithEmail records one submission and returns its internal id.
func submitWithEmail(t *testing.T, ta *testApp, officeId int, form seededForm, email string) int {
	t.Helper()

	feedback := validFeedback(officeId, form)
	feedback.Email = email
	rec := ta.do(t, "POST", "/api/feedback", feedback, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var submissionId int
	require.NoError(t, ta.QueryRow(`
		SELECT submission_id FROM form_submissions
		WHERE submission_token = ?`,
		submissionToken(t, rec),
	).Scan(&submissionId))

	ta.sender.sent = nil // only look at reply traffic from here on
	return submissionId
}

func TestSendReply(t *testing.T) {
	ta := newTestApp(t)
	token := ta.adminToken(t)
	officeId := ta.seedOffice(t, "Registrar")
	form := ta.seedActiveForm(t)
	submissionId := submitWithEmail(t, ta, officeId, form, "citizen@example.com")

	rec := ta.do(t, "POST", "/api/admin/submissions/"+itoa(submissionId)+"/reply",
		model.Reply{Message: "Thank you, we have forwarded your concern."}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "success")

	assert.Equal(t, 1, ta.countRows(t, "admin_replies"))

	require.Len(t, ta.sender.sent, 1)
	assert.Equal(t, "citizen@example.com", ta.sender.sent[0].To)
	assert.Contains(t, ta.sender.sent[0].Body, "forwarded your concern")

	status, _, ok := ta.emailLog(t, "admin_reply")
	require.True(t, ok)
	assert.Equal(t, "sent", status)

	t.Run("second reply rejected", func(t *testing.T) {
		rec := ta.do(t, "POST", "/api/admin/submissions/"+itoa(submissionId)+"/reply",
			model.Reply{Message: "Following up."}, token)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "already replied")
		assert.Equal(t, 1, ta.countRows(t, "admin_replies"))
		assert.Len(t, ta.sender.sent, 1) // no second delivery attempt
	})
}

func TestSendReply_NoEmailOnFile(t *testing.T) {
	ta := newTestApp(t)
	token := ta.adminToken(t)
	officeId := ta.seedOffice(t, "Registrar")
	form := ta.seedActiveForm(t)
	submissionId := submitWithEmail(t, ta, officeId, form, "")

	rec := ta.do(t, "POST", "/api/admin/submissions/"+itoa(submissionId)+"/reply",
		model.Reply{Message: "Hello."}, token)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no email on file")
	assert.Equal(t, 0, ta.countRows(t, "admin_replies"))
}

func TestSendReply_TransportFailureLeavesNoReply(t *testing.T) {
	ta := newTestApp(t)
	token := ta.adminToken(t)
	officeId := ta.seedOffice(t, "Registrar")
	form := ta.seedActiveForm(t)
	submissionId := submitWithEmail(t, ta, officeId, form, "citizen@example.com")

	ta.sender.fail = true
	rec := ta.do(t, "POST", "/api/admin/submissions/"+itoa(submissionId)+"/reply",
		model.Reply{Message: "Hello."}, token)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	// the reply row was rolled back, but the attempt is audited
	assert.Equal(t, 0, ta.countRows(t, "admin_replies"))
	status, errMsg, ok := ta.emailLog(t, "admin_reply")
	require.True(t, ok)
	assert.Equal(t, "failed", status)
	assert.Contains(t, errMsg.String, "connection refused")

	// the submission stays open for a retry
	ta.sender.fail = false
	rec = ta.do(t, "POST", "/api/admin/submissions/"+itoa(submissionId)+"/reply",
		model.Reply{Message: "Hello again."}, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ta.countRows(t, "admin_replies"))
}

func TestSendReply_ExpiredWindow(t *testing.T) {
	ta := newTestApp(t)
	token := ta.adminToken(t)
	officeId := ta.seedOffice(t, "Registrar")
	form := ta.seedActiveForm(t)
	submissionId := submitWithEmail(t, ta, officeId, form, "citizen@example.com")

	_, err := ta.Exec(`UPDATE submission_emails SET expires_at = ? WHERE submission_id = ?`,
		time.Now().AddDate(0, 0, -1), submissionId)
	require.NoError(t, err)

	rec := ta.do(t, "POST", "/api/admin/submissions/"+itoa(submissionId)+"/reply",
		model.Reply{Message: "Hello."}, token)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, 0, ta.countRows(t, "admin_replies"))
}

func TestSendReply_Validation(t *testing.T) {
	ta := newTestApp(t)
	token := ta.adminToken(t)
	officeId := ta.seedOffice(t, "Registrar")
	form := ta.seedActiveForm(t)
	submissionId := submitWithEmail(t, ta, officeId, form, "citizen@example.com")

	t.Run("unknown submission", func(t *testing.T) {
		rec := ta.do(t, "POST", "/api/admin/submissions/9999/reply",
			model.Reply{Message: "Hello."}, token)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("empty message", func(t *testing.T) {
		rec := ta.do(t, "POST", "/api/admin/submissions/"+itoa(submissionId)+"/reply",
			model.Reply{Message: "   "}, token)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("markup-only message", func(t *testing.T) {
		rec := ta.do(t, "POST", "/api/admin/submissions/"+itoa(submissionId)+"/reply",
			model.Reply{Message: "<p></p>"}, token)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	assert.Equal(t, 0, ta.countRows(t, "admin_replies"))
}
