package exam

import (
	"strings"
	"time"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/quiz"
)

// Attempt statuses. SUBMITTED and EXPIRED are terminal.
const (
	StatusStarted   = "STARTED"
	StatusSubmitted = "SUBMITTED"
	StatusExpired   = "EXPIRED"
)

// Response is a student's answer to one question within an attempt.
// The Type tag decides which answer field is meaningful; use the constructors
// so an invalid shape (eg. a SUBJECTIVE response with a selected option) cannot be built.
type Response struct {
	QuestionID       string `json:"question_id"`
	Type             string `json:"type"`
	SelectedOptionID string `json:"selected_option_id,omitempty"` // MCQ only
	TextAnswer       string `json:"text_answer,omitempty"`        // SUBJECTIVE only
	Graded           bool   `json:"graded"`
	AwardedMarks     int    `json:"awarded_marks"`
}

func NewMCQResponse(questionID, selectedOptionID string) Response {
	return Response{
		QuestionID:       questionID,
		Type:             quiz.TypeMCQ,
		SelectedOptionID: selectedOptionID,
	}
}

func NewTextResponse(questionID, answer string) Response {
	return Response{
		QuestionID: questionID,
		Type:       quiz.TypeSubjective,
		TextAnswer: answer,
	}
}

// Attempt is one student's timed instance of taking a quiz.
// Attempts are permanent audit records; they are never deleted.
type Attempt struct {
	ID        string     `json:"id"`
	QuizID    string     `json:"quiz_id"`
	StudentID string     `json:"student_id"`
	Status    string     `json:"status"`
	Score     int        `json:"score"`
	StartTime time.Time  `json:"start_time"`         // UTC
	EndTime   *time.Time `json:"end_time,omitempty"` // set at submission or expiry; UTC
	Responses []Response `json:"responses"`
	Version   int        `json:"-"`          // optimistic concurrency token
	CreatedAt time.Time  `json:"created_at"` // UTC
	UpdatedAt time.Time  `json:"updated_at"` // UTC
}

func (a Attempt) IsStarted() bool   { return a.Status == StatusStarted }
func (a Attempt) IsSubmitted() bool { return a.Status == StatusSubmitted }
func (a Attempt) IsExpired() bool   { return a.Status == StatusExpired }

// ResponseIndex returns the index of the response for the given question, or -1.
func (a Attempt) ResponseIndex(questionID string) int {
	for i, resp := range a.Responses {
		if resp.QuestionID == questionID {
			return i
		}
	}
	return -1
}

// AllGraded reports whether every response on the attempt has been graded.
func (a Attempt) AllGraded() bool {
	for _, resp := range a.Responses {
		if !resp.Graded {
			return false
		}
	}
	return true
}

// PendingGrading reports whether any response still awaits human review.
func (a Attempt) PendingGrading() bool { return !a.AllGraded() }

// Deadline is the instant the attempt must be submitted by:
// the earlier of startTime+duration and the quiz's own end time.
func (a Attempt) Deadline(qz quiz.Quiz) time.Time {
	deadline := a.StartTime.Add(qz.Duration())
	if qz.EndTime != nil && qz.EndTime.Before(deadline) {
		deadline = *qz.EndTime
	}
	return deadline
}

// Inputs

type ResponseInput struct {
	QuestionID       string `json:"question_id" validate:"required"`
	SelectedOptionID string `json:"selected_option_id" validate:"required_without=TextAnswer"`
	TextAnswer       string `json:"text_answer"`
}

type SubmitAttempt struct {
	Responses []ResponseInput `json:"responses" validate:"required,dive"`
}

func (sa *SubmitAttempt) Validate() error {
	return core.Validate.Struct(sa)
}

type GradeInput struct {
	QuestionID   string `json:"question_id" validate:"required"`
	AwardedMarks int    `json:"awarded_marks" validate:"gte=0"`
}

type GradeAttempt struct {
	Grades []GradeInput `json:"grades" validate:"required,min=1,dive"`
}

func (ga *GradeAttempt) Validate() error {
	return core.Validate.Struct(ga)
}

// Querying

// QueryFilter applies an AND operation on available fields.
// QuizIDs is a visibility scope set by the engine; callers only supply QuizID/StudentID/Status.
type QueryFilter struct {
	QuizID    string   `json:"quiz_id" query:"quiz_id"`
	QuizIDs   []string `json:"-"`
	StudentID string   `json:"student_id" query:"student_id"`
	Status    string   `json:"status" query:"status"`

	Ordering []core.DBOrdering `json:"-"`
	Offset   int               `json:"-"`
	Limit    int               `json:"-"` // <= 0: no limit
}

func (f *QueryFilter) Clean() {
	f.Status = strings.ToUpper(core.CleanString(f.Status))
}

// QueryOptions controls pagination and sorting of attempt queries.
type QueryOptions struct {
	Page  int    `json:"page" query:"page"`
	Limit int    `json:"limit" query:"limit"`
	Sort  string `json:"sort" query:"sort"` // "field:asc|desc"
}

// sortFields maps exposed sort names to stored columns.
var sortFields = map[string]string{
	"submitted_at": "end_time",
	"started_at":   "start_time",
	"score":        "score",
	"status":       "status",
}

func (opts *QueryOptions) Clean() {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
}

// Ordering parses the Sort string; unknown fields fall back to latest-submitted-first.
func (opts QueryOptions) Ordering() core.DBOrdering {
	ord := core.DBOrdering{Field: "end_time", Ascending: false}
	if opts.Sort == "" {
		return ord
	}
	parts := strings.SplitN(opts.Sort, ":", 2)
	field, ok := sortFields[core.CleanString(parts[0], true /* lower */)]
	if !ok {
		return ord
	}
	ord.Field = field
	if len(parts) > 1 {
		ord.Ascending = strings.EqualFold(core.CleanString(parts[1]), "asc")
	}
	return ord
}

// Results

type StartedAttempt struct {
	Attempt   Attempt                  `json:"attempt"`
	Questions []quiz.SanitizedQuestion `json:"questions"`
}

type SubmitSummary struct {
	Message        string `json:"message"`
	Score          int    `json:"score"`
	TotalMarks     int    `json:"total_marks"`
	PendingGrading bool   `json:"pending_grading"`
}

type GradeSummary struct {
	Score      int  `json:"score"`
	TotalMarks int  `json:"total_marks"`
	AllGraded  bool `json:"all_graded"`
}

type AttemptPage struct {
	Results      []Attempt `json:"results"`
	Page         int       `json:"page"`
	Limit        int       `json:"limit"`
	TotalPages   int       `json:"total_pages"`
	TotalResults int       `json:"total_results"`
}

type StudentAttemptResult struct {
	ID         string     `json:"id"`
	QuizTitle  string     `json:"quiz_title"`
	Score      int        `json:"score"`
	TotalMarks int        `json:"total_marks"`
	Passed     *bool      `json:"passed"` // nil when the quiz has no pass marks
	Date       *time.Time `json:"date"`
}

type StudentStats struct {
	TotalAttempts   int                    `json:"total_attempts"`
	AverageScorePct float64                `json:"average_score_pct"`
	Passed          int                    `json:"passed"`
	Failed          int                    `json:"failed"`
	Attempts        []StudentAttemptResult `json:"attempts"`
}

type QuizResultEntry struct {
	Attempt Attempt     `json:"attempt"`
	Student StudentInfo `json:"student"`
}

type StudentInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type QuizResults struct {
	QuizTitle  string            `json:"quiz_title"`
	TotalMarks int               `json:"total_marks"`
	PassMarks  *int              `json:"pass_marks,omitempty"`
	Stats      QuizResultsStats  `json:"stats"`
	Results    []QuizResultEntry `json:"results"`
}

type QuizResultsStats struct {
	TotalAttempts int     `json:"total_attempts"`
	AverageScore  float64 `json:"average_score"`
	HighestScore  int     `json:"highest_score"`
	PassedCount   int     `json:"passed_count"`
	PassRate      float64 `json:"pass_rate"`
}
