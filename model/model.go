package model

import "time"

type Office struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name"`
}

type Form struct {
	ID              int        `json:"id,omitempty"`
	FormCode        string     `json:"form_code" validate:"required"`
	RevisionNo      int        `json:"revision_no" validate:"min=0"`
	EffectivityDate string     `json:"effectivity_date" validate:"required"`
	SetActive       bool       `json:"set_active,omitempty"`
	Questions       []Question `json:"questions,omitempty" validate:"dive"`
}

type Question struct {
	ID           int      `json:"id,omitempty"`
	TypeName     string   `json:"type" validate:"required,oneof='Likert' 'Multiple Choice'"`
	Code         string   `json:"code" validate:"required"`
	Text         string   `json:"text" validate:"required"`
	DisplayOrder int      `json:"display_order"`
	Options      []Option `json:"options,omitempty"`
}

type Option struct {
	ID    int    `json:"id,omitempty"`
	Value string `json:"value"`
	Text  string `json:"text"`
}

// Feedback is the submission intake payload. Answers are an explicit
// (question, option) list; free-form field names are not accepted.
type Feedback struct {
	OfficeID       int      `json:"office_id" validate:"required"`
	ServiceAvailed string   `json:"service_availed" validate:"required"`
	DateOfVisit    string   `json:"date_of_visit,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Email          string   `json:"email,omitempty" validate:"omitempty,email"`
	OverallRating  int      `json:"overall_rating" validate:"required,min=1,max=5"`
	Comments       string   `json:"comments,omitempty"`
	Answers        []Answer `json:"answers" validate:"dive"`
}

type Answer struct {
	QuestionID int `json:"question_id" validate:"required"`
	OptionID   int `json:"option_id" validate:"required"`
}

type Reply struct {
	Message string `json:"message" validate:"required"`
}

type OfficeMetrics struct {
	OfficeID     int              `json:"office_id"`
	OfficeName   string           `json:"office_name"`
	AvgRating    *float64         `json:"avg_rating"`
	RatingCount  int              `json:"rating_count"`
	AvgSQDRating *float64         `json:"avg_sqd_rating"`
	Questions    []QuestionMetric `json:"questions"`
}

type QuestionMetric struct {
	QuestionID   int      `json:"question_id"`
	Code         string   `json:"code"`
	Text         string   `json:"text"`
	WeightedMean *float64 `json:"weighted_mean"`
}

type Evaluation struct {
	SubmissionID   int    `json:"submission_id"`
	Token          string `json:"token"`
	ServiceAvailed string `json:"service_availed"`
	DateOfVisit    string `json:"date_of_visit,omitempty"`
	Rating         int    `json:"rating"`
	Comments       string `json:"comments,omitempty"`
	HasEmail       bool   `json:"has_email"`
	Replied        bool   `json:"replied"`
}

type EmailLog struct {
	ID           int       `json:"id"`
	SubmissionID int       `json:"submission_id"`
	EmailType    string    `json:"email_type"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	LoggedAt     time.Time `json:"logged_at"`
}
