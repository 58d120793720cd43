package quiz

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/class"
	"github.com/trezcool/mtihani/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("Quiz not found")
	ErrQuestionNotFound = errors.New("Question not found")

	errNoTimeWindow = errors.New("Quiz must have start and end times before publishing")
	errNoQuestions  = errors.New("Quiz must have questions before publishing")
)

type (
	Repository interface {
		CreateQuestion(ctx context.Context, qn Question) (Question, error)
		GetQuestionByID(ctx context.Context, id string) (Question, error)
		// GetQuestionsByID returns the questions found for the given IDs; unknown IDs are skipped.
		GetQuestionsByID(ctx context.Context, ids ...string) ([]Question, error)
		QueryAllQuestions(ctx context.Context) ([]Question, error)
		UpdateQuestion(ctx context.Context, qn Question) (Question, error)
		DeleteQuestionsByID(ctx context.Context, ids ...string) error

		CreateQuiz(ctx context.Context, qz Quiz) (Quiz, error)
		GetQuizByID(ctx context.Context, id string) (Quiz, error)
		// FilterQuizzes applies AND operation on available QueryFilter fields.
		FilterQuizzes(ctx context.Context, filter QueryFilter) ([]Quiz, error)
		UpdateQuiz(ctx context.Context, qz Quiz) (Quiz, error)
		DeleteQuizzesByID(ctx context.Context, ids ...string) error
	}

	Service interface {
		CreateQuestion(ctx context.Context, nq NewQuestion, createdBy string) (Question, error)
		GetQuestion(ctx context.Context, id string) (Question, error)
		QueryAllQuestions(ctx context.Context) ([]Question, error)
		DeleteQuestions(ctx context.Context, ids ...string) error

		Create(ctx context.Context, nq NewQuiz, createdBy string) (Quiz, error)
		GetByID(ctx context.Context, id string) (Quiz, error)
		// GetWithQuestions resolves the quiz and its full (unsanitized) question set.
		GetWithQuestions(ctx context.Context, id string) (Quiz, []Question, error)
		Filter(ctx context.Context, filter QueryFilter) ([]Quiz, error)
		Update(ctx context.Context, id string, uq UpdateQuiz) (Quiz, error)
		// Publish transitions the quiz to PUBLISHED and assigns it to the given classes.
		// A quiz may only be published once it has a complete time window and at least one question.
		Publish(ctx context.Context, id string, classIDs []string) (Quiz, error)
		Archive(ctx context.Context, id string) (Quiz, error)
		Delete(ctx context.Context, ids ...string) error
	}

	service struct {
		repo      Repository
		classRepo class.Repository
		usrRepo   user.Repository
		mailSvc   core.EmailService
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, classRepo class.Repository, usrRepo user.Repository, mailSvc core.EmailService) Service {
	return &service{
		repo:      repo,
		classRepo: classRepo,
		usrRepo:   usrRepo,
		mailSvc:   mailSvc,
	}
}

func (svc *service) CreateQuestion(ctx context.Context, nq NewQuestion, createdBy string) (Question, error) {
	now := time.Now().UTC()
	qn := Question{
		Text:       nq.Text,
		Type:       nq.Type,
		Difficulty: nq.Difficulty,
		Marks:      nq.Marks,
		Subject:    nq.Subject,
		Topic:      nq.Topic,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if qn.IsMCQ() {
		qn.Options = make([]Option, 0, len(nq.Options))
		for _, opt := range nq.Options {
			qn.Options = append(qn.Options, Option{Text: opt.Text, IsCorrect: opt.IsCorrect})
		}
	}
	return svc.repo.CreateQuestion(ctx, qn)
}

func (svc *service) GetQuestion(ctx context.Context, id string) (Question, error) {
	return svc.repo.GetQuestionByID(ctx, id)
}

func (svc *service) QueryAllQuestions(ctx context.Context) ([]Question, error) {
	return svc.repo.QueryAllQuestions(ctx)
}

func (svc *service) DeleteQuestions(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteQuestionsByID(ctx, ids...)
}

func (svc *service) Create(ctx context.Context, nq NewQuiz, createdBy string) (Quiz, error) {
	now := time.Now().UTC()
	qz := Quiz{
		Title:            nq.Title,
		Description:      nq.Description,
		CreatedBy:        createdBy,
		DurationMinutes:  nq.DurationMinutes,
		TotalMarks:       nq.TotalMarks,
		PassMarks:        nq.PassMarks,
		ShuffleQuestions: nq.ShuffleQuestions,
		Status:           StatusDraft,
		StartTime:        nq.StartTime,
		EndTime:          nq.EndTime,
		QuestionIDs:      nq.QuestionIDs,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return svc.repo.CreateQuiz(ctx, qz)
}

func (svc *service) GetByID(ctx context.Context, id string) (Quiz, error) {
	return svc.repo.GetQuizByID(ctx, id)
}

func (svc *service) GetWithQuestions(ctx context.Context, id string) (Quiz, []Question, error) {
	qz, err := svc.repo.GetQuizByID(ctx, id)
	if err != nil {
		return Quiz{}, nil, err
	}
	qns, err := svc.repo.GetQuestionsByID(ctx, qz.QuestionIDs...)
	if err != nil {
		return Quiz{}, nil, errors.Wrap(err, "resolving quiz questions")
	}
	return qz, qns, nil
}

func (svc *service) Filter(ctx context.Context, filter QueryFilter) ([]Quiz, error) {
	return svc.repo.FilterQuizzes(ctx, filter)
}

func (svc *service) Update(ctx context.Context, id string, uq UpdateQuiz) (Quiz, error) {
	qz, err := svc.repo.GetQuizByID(ctx, id)
	if err != nil {
		return Quiz{}, err
	}

	if uq.Title != "" {
		qz.Title = uq.Title
	}
	if uq.Description != "" {
		qz.Description = uq.Description
	}
	if uq.DurationMinutes > 0 {
		qz.DurationMinutes = uq.DurationMinutes
	}
	if uq.TotalMarks > 0 {
		qz.TotalMarks = uq.TotalMarks
	}
	if uq.PassMarks != nil {
		qz.PassMarks = uq.PassMarks
	}
	if uq.ShuffleQuestions != nil {
		qz.ShuffleQuestions = *uq.ShuffleQuestions
	}
	if uq.StartTime != nil {
		qz.StartTime = uq.StartTime
	}
	if uq.EndTime != nil {
		qz.EndTime = uq.EndTime
	}
	if uq.QuestionIDs != nil {
		qz.QuestionIDs = uq.QuestionIDs
	}
	qz.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateQuiz(ctx, qz)
}

func (svc *service) Publish(ctx context.Context, id string, classIDs []string) (Quiz, error) {
	qz, err := svc.repo.GetQuizByID(ctx, id)
	if err != nil {
		return Quiz{}, err
	}

	if qz.StartTime == nil || qz.EndTime == nil {
		return Quiz{}, core.NewValidationError(errNoTimeWindow)
	}
	if len(qz.QuestionIDs) == 0 {
		return Quiz{}, core.NewValidationError(errNoQuestions)
	}

	qz.Status = StatusPublished
	for _, clsID := range classIDs {
		var assigned bool
		for _, id := range qz.AssignedClassIDs {
			if id == clsID {
				assigned = true
				break
			}
		}
		if !assigned {
			qz.AssignedClassIDs = append(qz.AssignedClassIDs, clsID)
		}
	}
	qz.UpdatedAt = time.Now().UTC()

	qz, err = svc.repo.UpdateQuiz(ctx, qz)
	if err != nil {
		return Quiz{}, err
	}
	svc.notifyStudents(ctx, qz)
	return qz, nil
}

func (svc *service) Archive(ctx context.Context, id string) (Quiz, error) {
	qz, err := svc.repo.GetQuizByID(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	qz.Status = StatusArchived
	qz.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateQuiz(ctx, qz)
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteQuizzesByID(ctx, ids...)
}

// notifyStudents emails the students of the quiz's assigned classes that a new quiz is open.
// Notification failures are not fatal to publishing.
func (svc *service) notifyStudents(ctx context.Context, qz Quiz) {
	studentIDs := make([]string, 0)
	seen := make(map[string]struct{})
	for _, clsID := range qz.AssignedClassIDs {
		cls, err := svc.classRepo.GetClassByID(ctx, clsID)
		if err != nil {
			continue
		}
		for _, sID := range cls.StudentIDs {
			if _, ok := seen[sID]; !ok {
				seen[sID] = struct{}{}
				studentIDs = append(studentIDs, sID)
			}
		}
	}
	if len(studentIDs) == 0 {
		return
	}

	students, err := svc.usrRepo.GetUsersByID(ctx, studentIDs...)
	if err != nil {
		return
	}
	to := make([]mail.Address, 0, len(students))
	for _, s := range students {
		if s.Email != "" {
			to = append(to, mail.Address{Name: s.Name, Address: s.Email})
		}
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           to,
		Subject:      "New quiz: " + qz.Title,
		TemplateName: "quiz-published",
		TemplateData: struct {
			Title     string
			StartTime *time.Time
			EndTime   *time.Time
			Duration  int
		}{qz.Title, qz.StartTime, qz.EndTime, qz.DurationMinutes},
	})
}
