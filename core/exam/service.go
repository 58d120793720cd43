package exam

import (
	"context"
	"math"
	"math/rand"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/class"
	"github.com/trezcool/mtihani/core/quiz"
	"github.com/trezcool/mtihani/core/user"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrAttemptNotFound = errors.New("Attempt not found")
	ErrStaleAttempt    = errors.New("attempt was modified concurrently")
	ErrNotYourAttempt  = core.NewForbiddenError("Not your attempt")
	ErrNotYourQuiz     = core.NewForbiddenError("You do not own this quiz")

	errQuizNotActive    = errors.New("Quiz is not active")
	errQuizNotStarted   = errors.New("Quiz has not started yet")
	errQuizExpired      = errors.New("Quiz has expired")
	errAlreadySubmitted = errors.New("Already submitted")
	errAlreadyDone      = errors.New("You have already submitted this quiz")
	errAttemptExpired   = errors.New("Attempt has expired")
	errAttemptNotGraded = errors.New("Only submitted attempts can be graded")
	errResponseNotFound = errors.New("No response for this question on this attempt")
	errMarksOutOfBounds = errors.New("Awarded marks must be between 0 and the question's marks")
)

// maxGradeRetries bounds the optimistic-concurrency retry loop on grading.
const maxGradeRetries = 5

type (
	// Repository is the attempt store. UpdateAttempt must apply the write atomically
	// against the stored version (compare-and-swap) and return ErrStaleAttempt when the
	// stored attempt has moved on; this is what serializes concurrent submissions,
	// grading calls and the expiry sweep.
	Repository interface {
		CreateAttempt(ctx context.Context, att Attempt) (Attempt, error)
		GetAttemptByID(ctx context.Context, id string) (Attempt, error)
		// GetActiveAttempt returns the STARTED or SUBMITTED attempt for (quiz, student), if any.
		GetActiveAttempt(ctx context.Context, quizID, studentID string) (Attempt, error)
		// FilterAttempts applies AND operation on available QueryFilter fields and also
		// returns the total match count before Offset/Limit windowing.
		FilterAttempts(ctx context.Context, filter QueryFilter) ([]Attempt, int, error)
		GetStartedAttempts(ctx context.Context) ([]Attempt, error)
		UpdateAttempt(ctx context.Context, att Attempt) (Attempt, error)
	}

	Service interface {
		// AvailableQuizzes lists the published quizzes the student may take right now.
		AvailableQuizzes(ctx context.Context, studentID string) ([]quiz.Quiz, error)
		Start(ctx context.Context, quizID, studentID string) (StartedAttempt, error)
		Submit(ctx context.Context, attemptID, studentID string, responses []ResponseInput) (SubmitSummary, error)
		// ExpireOverdue is the lazy expiry sweep; it runs at the start of every
		// read/write path that touches attempt state.
		ExpireOverdue(ctx context.Context) error
		Grade(ctx context.Context, attemptID string, grades []GradeInput, actor user.User) (GradeSummary, error)
		Query(ctx context.Context, filter QueryFilter, opts QueryOptions, actor user.User) (AttemptPage, error)
		GetByID(ctx context.Context, attemptID string, actor user.User) (Attempt, error)
		StudentStats(ctx context.Context, studentID string) (StudentStats, error)
		QuizResults(ctx context.Context, quizID string, actor user.User) (QuizResults, error)
	}

	service struct {
		repo      Repository
		quizRepo  quiz.Repository
		classRepo class.Repository
		usrRepo   user.Repository
		mailSvc   core.EmailService
	}
)

var _ Service = (*service)(nil)

func init() {
	rand.Seed(time.Now().UnixNano())
}

func NewService(
	repo Repository,
	quizRepo quiz.Repository,
	classRepo class.Repository,
	usrRepo user.Repository,
	mailSvc core.EmailService,
) Service {
	return &service{
		repo:      repo,
		quizRepo:  quizRepo,
		classRepo: classRepo,
		usrRepo:   usrRepo,
		mailSvc:   mailSvc,
	}
}

func (svc *service) AvailableQuizzes(ctx context.Context, studentID string) ([]quiz.Quiz, error) {
	if err := svc.ExpireOverdue(ctx); err != nil {
		return nil, err
	}

	classIDs, err := svc.classRepo.GetStudentClassIDs(ctx, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "resolving student classes")
	}
	if len(classIDs) == 0 {
		return []quiz.Quiz{}, nil
	}

	now := NowFunc().UTC()
	quizzes, err := svc.quizRepo.FilterQuizzes(ctx, quiz.QueryFilter{
		Status:   quiz.StatusPublished,
		ClassIDs: classIDs,
		ActiveAt: &now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "filtering quizzes")
	}
	return quizzes, nil
}

func (svc *service) Start(ctx context.Context, quizID, studentID string) (StartedAttempt, error) {
	if err := svc.ExpireOverdue(ctx); err != nil {
		return StartedAttempt{}, err
	}

	qz, err := svc.quizRepo.GetQuizByID(ctx, quizID)
	if err != nil {
		return StartedAttempt{}, err
	}

	now := NowFunc().UTC()
	if !qz.IsPublished() {
		return StartedAttempt{}, core.NewValidationError(errQuizNotActive)
	}
	if qz.StartTime != nil && now.Before(*qz.StartTime) {
		return StartedAttempt{}, core.NewValidationError(errQuizNotStarted)
	}
	if qz.EndTime != nil && now.After(*qz.EndTime) {
		return StartedAttempt{}, core.NewValidationError(errQuizExpired)
	}

	att, err := svc.repo.GetActiveAttempt(ctx, qz.ID, studentID)
	switch {
	case err == nil:
		if att.IsSubmitted() {
			return StartedAttempt{}, core.NewValidationError(errAlreadyDone)
		}
		// an open attempt is resumed; a second one is never created
	case errors.Cause(err) == ErrAttemptNotFound:
		att = Attempt{
			QuizID:    qz.ID,
			StudentID: studentID,
			Status:    StatusStarted,
			StartTime: now,
			Responses: []Response{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if att, err = svc.repo.CreateAttempt(ctx, att); err != nil {
			return StartedAttempt{}, errors.Wrap(err, "creating attempt")
		}
	default:
		return StartedAttempt{}, errors.Wrap(err, "looking up active attempt")
	}

	qns, err := svc.quizRepo.GetQuestionsByID(ctx, qz.QuestionIDs...)
	if err != nil {
		return StartedAttempt{}, errors.Wrap(err, "resolving quiz questions")
	}
	sanitized := make([]quiz.SanitizedQuestion, 0, len(qns))
	for _, qn := range qns {
		sanitized = append(sanitized, qn.Sanitize())
	}
	if qz.ShuffleQuestions {
		rand.Shuffle(len(sanitized), func(i, j int) {
			sanitized[i], sanitized[j] = sanitized[j], sanitized[i]
		})
	}

	return StartedAttempt{Attempt: att, Questions: sanitized}, nil
}

func (svc *service) Submit(ctx context.Context, attemptID, studentID string, responses []ResponseInput) (SubmitSummary, error) {
	if err := svc.ExpireOverdue(ctx); err != nil {
		return SubmitSummary{}, err
	}

	att, err := svc.repo.GetAttemptByID(ctx, attemptID)
	if err != nil {
		return SubmitSummary{}, err
	}
	if att.StudentID != studentID {
		return SubmitSummary{}, ErrNotYourAttempt
	}
	if att.IsSubmitted() {
		return SubmitSummary{}, core.NewValidationError(errAlreadySubmitted)
	}
	if att.IsExpired() {
		return SubmitSummary{}, core.NewValidationError(errAttemptExpired)
	}

	qz, err := svc.quizRepo.GetQuizByID(ctx, att.QuizID)
	if err != nil {
		return SubmitSummary{}, errors.Wrap(err, "resolving attempt quiz")
	}

	onQuiz := make(map[string]struct{}, len(qz.QuestionIDs))
	for _, id := range qz.QuestionIDs {
		onQuiz[id] = struct{}{}
	}
	qnIDs := make([]string, 0, len(responses))
	for _, resp := range responses {
		if _, ok := onQuiz[resp.QuestionID]; ok {
			qnIDs = append(qnIDs, resp.QuestionID)
		}
	}
	qns, err := svc.quizRepo.GetQuestionsByID(ctx, qnIDs...)
	if err != nil {
		return SubmitSummary{}, errors.Wrap(err, "resolving questions")
	}
	qnByID := make(map[string]quiz.Question, len(qns))
	for _, qn := range qns {
		qnByID[qn.ID] = qn
	}

	var score int
	stored := make([]Response, 0, len(responses))
	for _, in := range responses {
		qn, ok := qnByID[in.QuestionID]
		if !ok {
			continue // a response for a question outside the quiz is dropped, not an error
		}
		switch qn.Type {
		case quiz.TypeMCQ:
			resp := NewMCQResponse(qn.ID, in.SelectedOptionID)
			resp.Graded = true // objective items need no human review
			if opt, found := qn.Option(in.SelectedOptionID); found && opt.IsCorrect {
				resp.AwardedMarks = qn.Marks
				score += qn.Marks
			}
			stored = append(stored, resp)
		case quiz.TypeSubjective:
			stored = append(stored, NewTextResponse(qn.ID, in.TextAnswer)) // pending human review
		}
	}

	now := NowFunc().UTC()
	att.Responses = stored
	att.Score = score
	att.Status = StatusSubmitted
	att.EndTime = &now
	att.UpdatedAt = now

	att, err = svc.repo.UpdateAttempt(ctx, att)
	if err != nil {
		if errors.Cause(err) == ErrStaleAttempt {
			// lost the race against a concurrent submission or the expiry sweep
			if cur, curErr := svc.repo.GetAttemptByID(ctx, attemptID); curErr == nil {
				if cur.IsSubmitted() {
					return SubmitSummary{}, core.NewValidationError(errAlreadySubmitted)
				}
				if cur.IsExpired() {
					return SubmitSummary{}, core.NewValidationError(errAttemptExpired)
				}
			}
		}
		return SubmitSummary{}, errors.Wrap(err, "submitting attempt")
	}

	summary := SubmitSummary{
		Message:        "Quiz submitted successfully",
		Score:          att.Score,
		TotalMarks:     qz.TotalMarks,
		PendingGrading: att.PendingGrading(),
	}
	if summary.PendingGrading {
		svc.notifyGradePending(ctx, qz, att)
	}
	return summary, nil
}

func (svc *service) ExpireOverdue(ctx context.Context) error {
	atts, err := svc.repo.GetStartedAttempts(ctx)
	if err != nil {
		return errors.Wrap(err, "querying started attempts")
	}
	if len(atts) == 0 {
		return nil
	}

	now := NowFunc().UTC()
	quizzes := make(map[string]quiz.Quiz)
	for _, att := range atts {
		qz, ok := quizzes[att.QuizID]
		if !ok {
			if qz, err = svc.quizRepo.GetQuizByID(ctx, att.QuizID); err != nil {
				if errors.Cause(err) == quiz.ErrNotFound {
					continue
				}
				return errors.Wrap(err, "resolving attempt quiz")
			}
			quizzes[att.QuizID] = qz
		}

		if !now.After(att.Deadline(qz)) {
			continue
		}
		end := now
		att.Status = StatusExpired
		att.EndTime = &end
		att.UpdatedAt = now
		if _, err = svc.repo.UpdateAttempt(ctx, att); err != nil {
			if errors.Cause(err) == ErrStaleAttempt {
				continue // someone else moved it on; nothing left to expire
			}
			return errors.Wrap(err, "expiring attempt")
		}
	}
	return nil
}

func (svc *service) Grade(ctx context.Context, attemptID string, grades []GradeInput, actor user.User) (GradeSummary, error) {
	for try := 0; try < maxGradeRetries; try++ {
		att, err := svc.repo.GetAttemptByID(ctx, attemptID)
		if err != nil {
			return GradeSummary{}, err
		}
		if !att.IsSubmitted() {
			return GradeSummary{}, core.NewValidationError(errAttemptNotGraded)
		}

		qz, err := svc.quizRepo.GetQuizByID(ctx, att.QuizID)
		if err != nil {
			return GradeSummary{}, errors.Wrap(err, "resolving attempt quiz")
		}
		if !actor.IsAdmin() && qz.CreatedBy != actor.ID {
			return GradeSummary{}, ErrNotYourQuiz
		}

		// grading is incremental and re-entrant: a new award replaces the previous
		// one and only the delta moves the score
		var delta int
		for _, g := range grades {
			idx := att.ResponseIndex(g.QuestionID)
			if idx < 0 {
				return GradeSummary{}, core.NewValidationError(errResponseNotFound)
			}
			qn, err := svc.quizRepo.GetQuestionByID(ctx, g.QuestionID)
			if err != nil {
				return GradeSummary{}, err
			}
			if g.AwardedMarks < 0 || g.AwardedMarks > qn.Marks {
				return GradeSummary{}, core.NewValidationError(errMarksOutOfBounds, core.FieldError{
					Field: "awarded_marks",
					Error: errMarksOutOfBounds.Error(),
				})
			}
			resp := &att.Responses[idx]
			delta += g.AwardedMarks - resp.AwardedMarks
			resp.AwardedMarks = g.AwardedMarks
			resp.Graded = true
		}

		att.Score += delta
		att.UpdatedAt = NowFunc().UTC()
		if att, err = svc.repo.UpdateAttempt(ctx, att); err != nil {
			if errors.Cause(err) == ErrStaleAttempt {
				continue // re-read and re-apply on top of the concurrent grade
			}
			return GradeSummary{}, errors.Wrap(err, "grading attempt")
		}
		return GradeSummary{
			Score:      att.Score,
			TotalMarks: qz.TotalMarks,
			AllGraded:  att.AllGraded(),
		}, nil
	}
	return GradeSummary{}, errors.Wrap(ErrStaleAttempt, "grading attempt")
}

func (svc *service) Query(ctx context.Context, filter QueryFilter, opts QueryOptions, actor user.User) (AttemptPage, error) {
	if err := svc.ExpireOverdue(ctx); err != nil {
		return AttemptPage{}, err
	}
	filter.Clean()
	opts.Clean()

	// role-based visibility first; caller-supplied filters may narrow it, never widen it
	switch {
	case actor.IsAdmin():
	case actor.IsLecturer():
		ownQuizzes, err := svc.quizRepo.FilterQuizzes(ctx, quiz.QueryFilter{CreatedBy: actor.ID})
		if err != nil {
			return AttemptPage{}, errors.Wrap(err, "resolving lecturer quizzes")
		}
		ownIDs := make([]string, 0, len(ownQuizzes))
		for _, qz := range ownQuizzes {
			ownIDs = append(ownIDs, qz.ID)
		}
		if filter.QuizID != "" {
			var owns bool
			for _, id := range ownIDs {
				if id == filter.QuizID {
					owns = true
					break
				}
			}
			if !owns {
				return emptyPage(opts), nil
			}
		} else {
			if len(ownIDs) == 0 {
				return emptyPage(opts), nil
			}
			filter.QuizIDs = ownIDs
		}
	case actor.IsStudent():
		filter.StudentID = actor.ID // a student-supplied student_id filter is ignored
	default:
		return AttemptPage{}, core.NewForbiddenError("permission denied")
	}

	filter.Ordering = []core.DBOrdering{opts.Ordering()}
	filter.Offset = (opts.Page - 1) * opts.Limit
	filter.Limit = opts.Limit

	atts, total, err := svc.repo.FilterAttempts(ctx, filter)
	if err != nil {
		return AttemptPage{}, errors.Wrap(err, "filtering attempts")
	}
	if atts == nil {
		atts = []Attempt{}
	}
	return AttemptPage{
		Results:      atts,
		Page:         opts.Page,
		Limit:        opts.Limit,
		TotalPages:   int(math.Ceil(float64(total) / float64(opts.Limit))),
		TotalResults: total,
	}, nil
}

func (svc *service) GetByID(ctx context.Context, attemptID string, actor user.User) (Attempt, error) {
	att, err := svc.repo.GetAttemptByID(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}

	switch {
	case actor.IsAdmin():
	case actor.IsLecturer():
		qz, err := svc.quizRepo.GetQuizByID(ctx, att.QuizID)
		if err != nil {
			return Attempt{}, errors.Wrap(err, "resolving attempt quiz")
		}
		if qz.CreatedBy != actor.ID {
			return Attempt{}, ErrNotYourQuiz
		}
	default:
		if att.StudentID != actor.ID {
			return Attempt{}, ErrNotYourAttempt
		}
	}
	return att, nil
}

func (svc *service) StudentStats(ctx context.Context, studentID string) (StudentStats, error) {
	atts, _, err := svc.repo.FilterAttempts(ctx, QueryFilter{
		StudentID: studentID,
		Status:    StatusSubmitted,
		Ordering:  []core.DBOrdering{{Field: "end_time", Ascending: false}},
	})
	if err != nil {
		return StudentStats{}, errors.Wrap(err, "filtering attempts")
	}

	stats := StudentStats{Attempts: make([]StudentAttemptResult, 0, len(atts))}
	quizzes := make(map[string]quiz.Quiz)
	var pctSum float64
	for _, att := range atts {
		qz, ok := quizzes[att.QuizID]
		if !ok {
			if qz, err = svc.quizRepo.GetQuizByID(ctx, att.QuizID); err != nil {
				if errors.Cause(err) == quiz.ErrNotFound {
					continue
				}
				return StudentStats{}, errors.Wrap(err, "resolving attempt quiz")
			}
			quizzes[att.QuizID] = qz
		}

		res := StudentAttemptResult{
			ID:         att.ID,
			QuizTitle:  qz.Title,
			Score:      att.Score,
			TotalMarks: qz.TotalMarks,
			Date:       att.EndTime,
		}
		if qz.PassMarks != nil {
			// attempts on quizzes without pass marks count toward neither
			passed := att.Score >= *qz.PassMarks
			res.Passed = &passed
			if passed {
				stats.Passed++
			} else {
				stats.Failed++
			}
		}
		if qz.TotalMarks > 0 {
			pctSum += float64(att.Score) / float64(qz.TotalMarks) * 100
		}
		stats.Attempts = append(stats.Attempts, res)
		stats.TotalAttempts++
	}
	if stats.TotalAttempts > 0 {
		stats.AverageScorePct = round2(pctSum / float64(stats.TotalAttempts))
	}
	return stats, nil
}

func (svc *service) QuizResults(ctx context.Context, quizID string, actor user.User) (QuizResults, error) {
	qz, err := svc.quizRepo.GetQuizByID(ctx, quizID)
	if err != nil {
		return QuizResults{}, err
	}
	if !actor.IsAdmin() && qz.CreatedBy != actor.ID {
		return QuizResults{}, ErrNotYourQuiz
	}

	atts, total, err := svc.repo.FilterAttempts(ctx, QueryFilter{
		QuizID:   qz.ID,
		Status:   StatusSubmitted,
		Ordering: []core.DBOrdering{{Field: "score", Ascending: false}},
	})
	if err != nil {
		return QuizResults{}, errors.Wrap(err, "filtering attempts")
	}

	studentIDs := make([]string, 0, len(atts))
	for _, att := range atts {
		studentIDs = append(studentIDs, att.StudentID)
	}
	students := make(map[string]user.User)
	if len(studentIDs) > 0 {
		usrs, err := svc.usrRepo.GetUsersByID(ctx, studentIDs...)
		if err != nil {
			return QuizResults{}, errors.Wrap(err, "resolving students")
		}
		for _, usr := range usrs {
			students[usr.ID] = usr
		}
	}

	results := QuizResults{
		QuizTitle:  qz.Title,
		TotalMarks: qz.TotalMarks,
		PassMarks:  qz.PassMarks,
		Results:    make([]QuizResultEntry, 0, len(atts)),
	}
	var scoreSum int
	for _, att := range atts {
		usr := students[att.StudentID]
		results.Results = append(results.Results, QuizResultEntry{
			Attempt: att,
			Student: StudentInfo{ID: usr.ID, Name: usr.Name, Email: usr.Email},
		})
		scoreSum += att.Score
		if att.Score > results.Stats.HighestScore {
			results.Stats.HighestScore = att.Score
		}
		if qz.PassMarks != nil && att.Score >= *qz.PassMarks {
			results.Stats.PassedCount++
		}
	}
	results.Stats.TotalAttempts = total
	if total > 0 {
		results.Stats.AverageScore = round2(float64(scoreSum) / float64(total))
		results.Stats.PassRate = round2(float64(results.Stats.PassedCount) / float64(total) * 100)
	}
	return results, nil
}

// notifyGradePending emails the quiz owner that an attempt awaits manual grading.
// Notification failures are not fatal to submission.
func (svc *service) notifyGradePending(ctx context.Context, qz quiz.Quiz, att Attempt) {
	owner, err := svc.usrRepo.GetUserByID(ctx, qz.CreatedBy)
	if err != nil || owner.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: owner.Name, Address: owner.Email}},
		Subject: "Attempt pending grading: " + qz.Title,
		BodyStr: "A new attempt on \"" + qz.Title + "\" has subjective answers awaiting manual grading.",
	})
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func emptyPage(opts QueryOptions) AttemptPage {
	return AttemptPage{Results: []Attempt{}, Page: opts.Page, Limit: opts.Limit}
}
