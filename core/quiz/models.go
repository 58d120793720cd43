package quiz

import (
	"time"

	"github.com/trezcool/mtihani/core"
)

// Question types
const (
	TypeMCQ        = "MCQ"
	TypeSubjective = "SUBJECTIVE"
)

// Difficulties
const (
	DifficultyEasy   = "EASY"
	DifficultyMedium = "MEDIUM"
	DifficultyHard   = "HARD"
)

// Quiz statuses
const (
	StatusDraft     = "DRAFT"
	StatusPublished = "PUBLISHED"
	StatusArchived  = "ARCHIVED"
)

type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type Question struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Type       string    `json:"type"`
	Difficulty string    `json:"difficulty"`
	Marks      int       `json:"marks"`
	Subject    string    `json:"subject"`
	Topic      string    `json:"topic,omitempty"`
	Options    []Option  `json:"options,omitempty"` // MCQ only
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

func (q Question) IsMCQ() bool { return q.Type == TypeMCQ }

// Option returns the option with the given ID, if any.
func (q Question) Option(optionID string) (Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return opt, true
		}
	}
	return Option{}, false
}

type (
	// SanitizedOption is an Option stripped of its correctness flag; safe to hand to students.
	SanitizedOption struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}

	// SanitizedQuestion is a Question as seen by a student taking a quiz.
	SanitizedQuestion struct {
		ID      string            `json:"id"`
		Text    string            `json:"text"`
		Type    string            `json:"type"`
		Marks   int               `json:"marks"`
		Options []SanitizedOption `json:"options,omitempty"` // MCQ only
	}
)

// Sanitize strips correctness flags off the question's options.
// SUBJECTIVE questions carry no options at all.
func (q Question) Sanitize() SanitizedQuestion {
	sq := SanitizedQuestion{
		ID:    q.ID,
		Text:  q.Text,
		Type:  q.Type,
		Marks: q.Marks,
	}
	if q.IsMCQ() {
		sq.Options = make([]SanitizedOption, 0, len(q.Options))
		for _, opt := range q.Options {
			sq.Options = append(sq.Options, SanitizedOption{ID: opt.ID, Text: opt.Text})
		}
	}
	return sq
}

type Quiz struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	CreatedBy        string     `json:"created_by"`
	DurationMinutes  int        `json:"duration_minutes"`
	TotalMarks       int        `json:"total_marks"`
	PassMarks        *int       `json:"pass_marks,omitempty"`
	ShuffleQuestions bool       `json:"shuffle_questions"`
	Status           string     `json:"status"`
	StartTime        *time.Time `json:"start_time,omitempty"` // UTC
	EndTime          *time.Time `json:"end_time,omitempty"`   // UTC
	QuestionIDs      []string   `json:"question_ids"`
	AssignedClassIDs []string   `json:"assigned_class_ids"`
	CreatedAt        time.Time  `json:"created_at"` // UTC
	UpdatedAt        time.Time  `json:"updated_at"` // UTC
}

func (q Quiz) IsPublished() bool { return q.Status == StatusPublished }

// WindowContains reports whether t falls within the quiz's time window.
// A missing bound is unconstrained on that side.
func (q Quiz) WindowContains(t time.Time) bool {
	if q.StartTime != nil && t.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && t.After(*q.EndTime) {
		return false
	}
	return true
}

// Duration is the time allowed on a single attempt.
func (q Quiz) Duration() time.Duration {
	return time.Duration(q.DurationMinutes) * time.Minute
}

type NewOption struct {
	Text      string `json:"text" validate:"required"`
	IsCorrect bool   `json:"is_correct"`
}

type NewQuestion struct {
	Text       string      `json:"text" validate:"required"`
	Type       string      `json:"type" validate:"omitempty,oneof=MCQ SUBJECTIVE"`
	Difficulty string      `json:"difficulty" validate:"omitempty,oneof=EASY MEDIUM HARD"`
	Marks      int         `json:"marks" validate:"required,gt=0"`
	Subject    string      `json:"subject" validate:"required"`
	Topic      string      `json:"topic"`
	Options    []NewOption `json:"options" validate:"dive"`
}

func (nq *NewQuestion) Validate() error {
	nq.Text = core.CleanString(nq.Text)
	if nq.Type == "" {
		nq.Type = TypeMCQ
	}
	if nq.Difficulty == "" {
		nq.Difficulty = DifficultyMedium
	}
	return core.Validate.Struct(nq)
}

type NewQuiz struct {
	Title            string     `json:"title" validate:"required"`
	Description      string     `json:"description"`
	DurationMinutes  int        `json:"duration_minutes" validate:"omitempty,gt=0"`
	TotalMarks       int        `json:"total_marks" validate:"required,gt=0"`
	PassMarks        *int       `json:"pass_marks" validate:"omitempty,gte=0"`
	ShuffleQuestions bool       `json:"shuffle_questions"`
	StartTime        *time.Time `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
	QuestionIDs      []string   `json:"question_ids"`
}

func (nq *NewQuiz) Validate() error {
	nq.Title = core.CleanString(nq.Title)
	nq.Description = core.CleanString(nq.Description)
	if nq.DurationMinutes == 0 {
		nq.DurationMinutes = 60
	}
	return core.Validate.Struct(nq)
}

type UpdateQuiz struct {
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	DurationMinutes  int        `json:"duration_minutes" validate:"omitempty,gt=0"`
	TotalMarks       int        `json:"total_marks" validate:"omitempty,gt=0"`
	PassMarks        *int       `json:"pass_marks" validate:"omitempty,gte=0"`
	ShuffleQuestions *bool      `json:"shuffle_questions"`
	StartTime        *time.Time `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
	QuestionIDs      []string   `json:"question_ids"`
}

func (uq *UpdateQuiz) Validate() error {
	uq.Title = core.CleanString(uq.Title)
	uq.Description = core.CleanString(uq.Description)
	return core.Validate.Struct(uq)
}

// QueryFilter applies an AND operation on available fields.
type QueryFilter struct {
	Search    string     `json:"search" query:"search"`
	Status    string     `json:"status" query:"status"`
	CreatedBy string     `json:"created_by" query:"created_by"`
	ClassIDs  []string   `json:"class_ids" query:"class_ids"`
	ActiveAt  *time.Time `json:"active_at" query:"active_at"` // within [StartTime, EndTime]
}

func (f *QueryFilter) Clean() {
	f.Search = core.CleanString(f.Search, true /* lower */)
	f.Status = core.CleanString(f.Status)
}
