package exam_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/class"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/quiz"
	"github.com/trezcool/mtihani/core/user"
	dummydb "github.com/trezcool/mtihani/storage/database/dummy"
)

type mailerMock struct {
	sent []*core.EmailMessage
}

var _ core.EmailService = (*mailerMock)(nil)

func (m *mailerMock) SendMessages(messages ...*core.EmailMessage) {
	m.sent = append(m.sent, messages...)
}

type fixture struct {
	ctx      context.Context
	svc      exam.Service
	repo     exam.Repository
	quizRepo quiz.Repository
	usrRepo  user.Repository
	mailer   *mailerMock

	lecturer user.User
	other    user.User // lecturer with no quizzes
	admin    user.User
	student  user.User
	student2 user.User
	outsider user.User // student in no class

	mcq  quiz.Question // 6 marks
	subj quiz.Question // 4 marks
	quiz quiz.Quiz     // published; total 10, pass 5
}

var base = time.Date(2021, 3, 15, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	exam.NowFunc = func() time.Time { return base }
	t.Cleanup(func() { exam.NowFunc = time.Now })

	db, err := dummydb.Open()
	require.NoError(t, err)

	f := &fixture{
		ctx:      context.Background(),
		repo:     dummydb.NewAttemptRepository(db),
		quizRepo: dummydb.NewQuizRepository(db),
		usrRepo:  dummydb.NewUserRepository(db),
		mailer:   &mailerMock{},
	}
	classRepo := dummydb.NewClassRepository(db)
	f.svc = exam.NewService(f.repo, f.quizRepo, classRepo, f.usrRepo, f.mailer)

	f.lecturer = f.createUser(t, "Lec Turer", "lec", "lec@test.test", user.RoleLecturer)
	f.other = f.createUser(t, "Other Lec", "other", "other@test.test", user.RoleLecturer)
	f.admin = f.createUser(t, "Ad Min", "admin", "admin@test.test", user.RoleAdmin)
	f.student = f.createUser(t, "Stu Dent", "stu", "stu@test.test", user.RoleStudent)
	f.student2 = f.createUser(t, "Stu Dent II", "stu2", "stu2@test.test", user.RoleStudent)
	f.outsider = f.createUser(t, "Out Sider", "out", "out@test.test", user.RoleStudent)

	cls, err := classRepo.CreateClass(f.ctx, class.Class{
		Name:        "CS101",
		LecturerIDs: []string{f.lecturer.ID},
		StudentIDs:  []string{f.student.ID, f.student2.ID},
	})
	require.NoError(t, err)

	f.mcq = f.createQuestion(t, quiz.Question{
		Text:  "2 + 2 = ?",
		Type:  quiz.TypeMCQ,
		Marks: 6,
		Options: []quiz.Option{
			{Text: "4", IsCorrect: true},
			{Text: "5"},
		},
	})
	f.subj = f.createQuestion(t, quiz.Question{
		Text:  "Explain TCP slow start.",
		Type:  quiz.TypeSubjective,
		Marks: 4,
	})

	start, end := base.Add(-time.Hour), base.Add(2*time.Hour)
	passMarks := 5
	f.quiz, err = f.quizRepo.CreateQuiz(f.ctx, quiz.Quiz{
		Title:            "Midterm",
		CreatedBy:        f.lecturer.ID,
		DurationMinutes:  30,
		TotalMarks:       10,
		PassMarks:        &passMarks,
		Status:           quiz.StatusPublished,
		StartTime:        &start,
		EndTime:          &end,
		QuestionIDs:      []string{f.mcq.ID, f.subj.ID},
		AssignedClassIDs: []string{cls.ID},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) createUser(t *testing.T, name, uname, email, role string) user.User {
	t.Helper()
	usr, err := f.usrRepo.CreateUser(f.ctx, user.User{
		Name:     name,
		Username: uname,
		Email:    email,
		IsActive: true,
		Roles:    []string{role},
	})
	require.NoError(t, err)
	return usr
}

func (f *fixture) createQuestion(t *testing.T, qn quiz.Question) quiz.Question {
	t.Helper()
	qn.CreatedBy = f.lecturer.ID
	qn, err := f.quizRepo.CreateQuestion(f.ctx, qn)
	require.NoError(t, err)
	return qn
}

func (f *fixture) correctOptionID(t *testing.T) string {
	t.Helper()
	for _, opt := range f.mcq.Options {
		if opt.IsCorrect {
			return opt.ID
		}
	}
	t.Fatal("no correct option on fixture MCQ")
	return ""
}

func (f *fixture) wrongOptionID(t *testing.T) string {
	t.Helper()
	for _, opt := range f.mcq.Options {
		if !opt.IsCorrect {
			return opt.ID
		}
	}
	t.Fatal("no wrong option on fixture MCQ")
	return ""
}

func (f *fixture) submit(t *testing.T, studentID string, responses []exam.ResponseInput) exam.SubmitSummary {
	t.Helper()
	started, err := f.svc.Start(f.ctx, f.quiz.ID, studentID)
	require.NoError(t, err)
	summary, err := f.svc.Submit(f.ctx, started.Attempt.ID, studentID, responses)
	require.NoError(t, err)
	return summary
}

func TestService_Start(t *testing.T) {
	t.Run("quiz not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Start(f.ctx, "nope", f.student.ID)
		assert.Equal(t, quiz.ErrNotFound, err)
	})

	t.Run("draft quiz is not active", func(t *testing.T) {
		f := newFixture(t)
		f.quiz.Status = quiz.StatusDraft
		_, err := f.quizRepo.UpdateQuiz(f.ctx, f.quiz)
		require.NoError(t, err)

		_, err = f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		assert.EqualError(t, err, "Quiz is not active")
	})

	t.Run("window not open yet", func(t *testing.T) {
		f := newFixture(t)
		start := base.Add(time.Hour)
		f.quiz.StartTime = &start
		_, err := f.quizRepo.UpdateQuiz(f.ctx, f.quiz)
		require.NoError(t, err)

		_, err = f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		assert.EqualError(t, err, "Quiz has not started yet")
	})

	t.Run("window closed", func(t *testing.T) {
		f := newFixture(t)
		end := base.Add(-time.Minute)
		f.quiz.EndTime = &end
		_, err := f.quizRepo.UpdateQuiz(f.ctx, f.quiz)
		require.NoError(t, err)

		_, err = f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		assert.EqualError(t, err, "Quiz has expired")
	})

	t.Run("questions are sanitized", func(t *testing.T) {
		f := newFixture(t)
		started, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		require.NoError(t, err)

		assert.Equal(t, exam.StatusStarted, started.Attempt.Status)
		assert.Equal(t, base, started.Attempt.StartTime)
		require.Len(t, started.Questions, 2)
		for _, qn := range started.Questions {
			switch qn.Type {
			case quiz.TypeMCQ:
				assert.Len(t, qn.Options, 2)
			case quiz.TypeSubjective:
				assert.Empty(t, qn.Options)
			}
		}
	})

	t.Run("open attempt is resumed", func(t *testing.T) {
		f := newFixture(t)
		first, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		require.NoError(t, err)
		second, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Attempt.ID, second.Attempt.ID)
	})

	t.Run("submitted attempt cannot be retaken", func(t *testing.T) {
		f := newFixture(t)
		f.submit(t, f.student.ID, nil)

		_, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		assert.EqualError(t, err, "You have already submitted this quiz")
	})
}

func TestService_Submit(t *testing.T) {
	t.Run("mcq auto-graded, subjective pending", func(t *testing.T) {
		f := newFixture(t)
		started, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		require.NoError(t, err)

		summary, err := f.svc.Submit(f.ctx, started.Attempt.ID, f.student.ID, []exam.ResponseInput{
			{QuestionID: f.mcq.ID, SelectedOptionID: f.correctOptionID(t)},
			{QuestionID: f.subj.ID, TextAnswer: "congestion window doubles each RTT"},
		})
		require.NoError(t, err)

		assert.Equal(t, "Quiz submitted successfully", summary.Message)
		assert.Equal(t, 6, summary.Score)
		assert.Equal(t, 10, summary.TotalMarks)
		assert.True(t, summary.PendingGrading)

		att, err := f.repo.GetAttemptByID(f.ctx, started.Attempt.ID)
		require.NoError(t, err)
		assert.Equal(t, exam.StatusSubmitted, att.Status)
		require.NotNil(t, att.EndTime)
		idx := att.ResponseIndex(f.mcq.ID)
		require.GreaterOrEqual(t, idx, 0)
		assert.True(t, att.Responses[idx].Graded)
		assert.Equal(t, 6, att.Responses[idx].AwardedMarks)

		// the quiz owner is told an attempt awaits grading
		require.Len(t, f.mailer.sent, 1)
		assert.Equal(t, f.lecturer.Email, f.mailer.sent[0].To[0].Address)
	})

	t.Run("wrong mcq answer scores zero", func(t *testing.T) {
		f := newFixture(t)
		summary := f.submit(t, f.student.ID, []exam.ResponseInput{
			{QuestionID: f.mcq.ID, SelectedOptionID: f.wrongOptionID(t)},
		})
		assert.Equal(t, 0, summary.Score)
	})

	t.Run("responses outside the quiz are dropped", func(t *testing.T) {
		f := newFixture(t)
		stray := f.createQuestion(t, quiz.Question{
			Text:  "stray",
			Type:  quiz.TypeMCQ,
			Marks: 100,
			Options: []quiz.Option{
				{Text: "yes", IsCorrect: true},
				{Text: "no"},
			},
		})

		started, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		require.NoError(t, err)
		summary, err := f.svc.Submit(f.ctx, started.Attempt.ID, f.student.ID, []exam.ResponseInput{
			{QuestionID: stray.ID, SelectedOptionID: stray.Options[0].ID},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Score)

		att, err := f.repo.GetAttemptByID(f.ctx, started.Attempt.ID)
		require.NoError(t, err)
		assert.Empty(t, att.Responses)
	})

	t.Run("not your attempt", func(t *testing.T) {
		f := newFixture(t)
		started, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		require.NoError(t, err)

		_, err = f.svc.Submit(f.ctx, started.Attempt.ID, f.student2.ID, nil)
		assert.True(t, core.IsForbidden(err))
		assert.EqualError(t, err, "Not your attempt")
	})

	t.Run("double submission", func(t *testing.T) {
		f := newFixture(t)
		started, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		require.NoError(t, err)
		_, err = f.svc.Submit(f.ctx, started.Attempt.ID, f.student.ID, nil)
		require.NoError(t, err)

		_, err = f.svc.Submit(f.ctx, started.Attempt.ID, f.student.ID, nil)
		assert.EqualError(t, err, "Already submitted")
	})

	t.Run("overdue attempt is expired before submission", func(t *testing.T) {
		f := newFixture(t)
		started, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		require.NoError(t, err)

		// past startTime+duration but still within the quiz window
		exam.NowFunc = func() time.Time { return base.Add(31 * time.Minute) }
		_, err = f.svc.Submit(f.ctx, started.Attempt.ID, f.student.ID, nil)
		assert.EqualError(t, err, "Attempt has expired")

		att, err := f.repo.GetAttemptByID(f.ctx, started.Attempt.ID)
		require.NoError(t, err)
		assert.Equal(t, exam.StatusExpired, att.Status)
		require.NotNil(t, att.EndTime)
	})
}

func TestService_Grade(t *testing.T) {
	setup := func(t *testing.T) (*fixture, exam.Attempt) {
		f := newFixture(t)
		started, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		require.NoError(t, err)
		_, err = f.svc.Submit(f.ctx, started.Attempt.ID, f.student.ID, []exam.ResponseInput{
			{QuestionID: f.mcq.ID, SelectedOptionID: f.correctOptionID(t)},
			{QuestionID: f.subj.ID, TextAnswer: "an answer"},
		})
		require.NoError(t, err)
		att, err := f.repo.GetAttemptByID(f.ctx, started.Attempt.ID)
		require.NoError(t, err)
		return f, att
	}

	t.Run("adds awarded marks to the score", func(t *testing.T) {
		f, att := setup(t)
		summary, err := f.svc.Grade(f.ctx, att.ID, []exam.GradeInput{
			{QuestionID: f.subj.ID, AwardedMarks: 4},
		}, f.lecturer)
		require.NoError(t, err)
		assert.Equal(t, 10, summary.Score)
		assert.Equal(t, 10, summary.TotalMarks)
		assert.True(t, summary.AllGraded)
	})

	t.Run("regrading replaces, not accumulates", func(t *testing.T) {
		f, att := setup(t)
		_, err := f.svc.Grade(f.ctx, att.ID, []exam.GradeInput{{QuestionID: f.subj.ID, AwardedMarks: 4}}, f.lecturer)
		require.NoError(t, err)
		summary, err := f.svc.Grade(f.ctx, att.ID, []exam.GradeInput{{QuestionID: f.subj.ID, AwardedMarks: 2}}, f.lecturer)
		require.NoError(t, err)
		assert.Equal(t, 8, summary.Score)
	})

	t.Run("marks must stay within the question's bounds", func(t *testing.T) {
		f, att := setup(t)
		_, err := f.svc.Grade(f.ctx, att.ID, []exam.GradeInput{{QuestionID: f.subj.ID, AwardedMarks: 5}}, f.lecturer)
		assert.IsType(t, &core.ValidationError{}, err)
	})

	t.Run("only the quiz owner or an admin may grade", func(t *testing.T) {
		f, att := setup(t)
		_, err := f.svc.Grade(f.ctx, att.ID, []exam.GradeInput{{QuestionID: f.subj.ID, AwardedMarks: 1}}, f.other)
		assert.True(t, core.IsForbidden(err))

		_, err = f.svc.Grade(f.ctx, att.ID, []exam.GradeInput{{QuestionID: f.subj.ID, AwardedMarks: 1}}, f.admin)
		assert.NoError(t, err)
	})

	t.Run("only submitted attempts can be graded", func(t *testing.T) {
		f := newFixture(t)
		started, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		require.NoError(t, err)

		_, err = f.svc.Grade(f.ctx, started.Attempt.ID, []exam.GradeInput{{QuestionID: f.subj.ID, AwardedMarks: 1}}, f.lecturer)
		assert.EqualError(t, err, "Only submitted attempts can be graded")
	})

	t.Run("grade for a question with no response", func(t *testing.T) {
		f := newFixture(t)
		started, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
		require.NoError(t, err)
		_, err = f.svc.Submit(f.ctx, started.Attempt.ID, f.student.ID, nil)
		require.NoError(t, err)

		_, err = f.svc.Grade(f.ctx, started.Attempt.ID, []exam.GradeInput{{QuestionID: f.subj.ID, AwardedMarks: 1}}, f.lecturer)
		assert.IsType(t, &core.ValidationError{}, err)
	})
}

func TestService_ExpireOverdue(t *testing.T) {
	f := newFixture(t)
	started, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
	require.NoError(t, err)

	// still in time
	exam.NowFunc = func() time.Time { return base.Add(29 * time.Minute) }
	require.NoError(t, f.svc.ExpireOverdue(f.ctx))
	att, err := f.repo.GetAttemptByID(f.ctx, started.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusStarted, att.Status)

	// past the deadline
	exam.NowFunc = func() time.Time { return base.Add(31 * time.Minute) }
	require.NoError(t, f.svc.ExpireOverdue(f.ctx))
	att, err = f.repo.GetAttemptByID(f.ctx, started.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusExpired, att.Status)
	require.NotNil(t, att.EndTime)
	assert.Equal(t, base.Add(31*time.Minute), *att.EndTime)
}

func TestService_Query(t *testing.T) {
	setup := func(t *testing.T) *fixture {
		f := newFixture(t)
		f.submit(t, f.student.ID, []exam.ResponseInput{
			{QuestionID: f.mcq.ID, SelectedOptionID: f.correctOptionID(t)},
		})
		f.submit(t, f.student2.ID, []exam.ResponseInput{
			{QuestionID: f.mcq.ID, SelectedOptionID: f.wrongOptionID(t)},
		})
		return f
	}

	t.Run("a student only sees their own attempts", func(t *testing.T) {
		f := setup(t)
		// trying to peek at another student's attempts
		page, err := f.svc.Query(f.ctx, exam.QueryFilter{StudentID: f.student2.ID}, exam.QueryOptions{}, f.student)
		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		assert.Equal(t, f.student.ID, page.Results[0].StudentID)
	})

	t.Run("a lecturer sees attempts on their own quizzes only", func(t *testing.T) {
		f := setup(t)
		page, err := f.svc.Query(f.ctx, exam.QueryFilter{}, exam.QueryOptions{}, f.lecturer)
		require.NoError(t, err)
		assert.Len(t, page.Results, 2)

		page, err = f.svc.Query(f.ctx, exam.QueryFilter{}, exam.QueryOptions{}, f.other)
		require.NoError(t, err)
		assert.Empty(t, page.Results)

		// a quiz they do not own
		page, err = f.svc.Query(f.ctx, exam.QueryFilter{QuizID: f.quiz.ID}, exam.QueryOptions{}, f.other)
		require.NoError(t, err)
		assert.Empty(t, page.Results)
	})

	t.Run("an admin sees everything", func(t *testing.T) {
		f := setup(t)
		page, err := f.svc.Query(f.ctx, exam.QueryFilter{}, exam.QueryOptions{}, f.admin)
		require.NoError(t, err)
		assert.Len(t, page.Results, 2)
		assert.Equal(t, 2, page.TotalResults)
	})

	t.Run("pagination", func(t *testing.T) {
		f := setup(t)
		page, err := f.svc.Query(f.ctx, exam.QueryFilter{}, exam.QueryOptions{Page: 2, Limit: 1}, f.admin)
		require.NoError(t, err)
		assert.Len(t, page.Results, 1)
		assert.Equal(t, 2, page.Page)
		assert.Equal(t, 1, page.Limit)
		assert.Equal(t, 2, page.TotalPages)
		assert.Equal(t, 2, page.TotalResults)
	})

	t.Run("sorting by score", func(t *testing.T) {
		f := setup(t)
		page, err := f.svc.Query(f.ctx, exam.QueryFilter{}, exam.QueryOptions{Sort: "score:desc"}, f.admin)
		require.NoError(t, err)
		require.Len(t, page.Results, 2)
		assert.GreaterOrEqual(t, page.Results[0].Score, page.Results[1].Score)
	})
}

func TestService_GetByID(t *testing.T) {
	f := newFixture(t)
	started, err := f.svc.Start(f.ctx, f.quiz.ID, f.student.ID)
	require.NoError(t, err)

	_, err = f.svc.GetByID(f.ctx, started.Attempt.ID, f.student)
	assert.NoError(t, err)

	_, err = f.svc.GetByID(f.ctx, started.Attempt.ID, f.student2)
	assert.True(t, core.IsForbidden(err))

	_, err = f.svc.GetByID(f.ctx, started.Attempt.ID, f.lecturer)
	assert.NoError(t, err)

	_, err = f.svc.GetByID(f.ctx, started.Attempt.ID, f.other)
	assert.True(t, core.IsForbidden(err))

	_, err = f.svc.GetByID(f.ctx, "nope", f.admin)
	assert.Equal(t, exam.ErrAttemptNotFound, err)
}

func TestService_StudentStats(t *testing.T) {
	f := newFixture(t)
	f.submit(t, f.student.ID, []exam.ResponseInput{
		{QuestionID: f.mcq.ID, SelectedOptionID: f.correctOptionID(t)},
	})

	stats, err := f.svc.StudentStats(f.ctx, f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAttempts)
	assert.Equal(t, 60.0, stats.AverageScorePct) // 6/10
	assert.Equal(t, 1, stats.Passed)             // 6 >= passMarks 5
	assert.Equal(t, 0, stats.Failed)
	require.Len(t, stats.Attempts, 1)
	assert.Equal(t, "Midterm", stats.Attempts[0].QuizTitle)
	require.NotNil(t, stats.Attempts[0].Passed)
	assert.True(t, *stats.Attempts[0].Passed)
}

func TestService_QuizResults(t *testing.T) {
	f := newFixture(t)
	f.submit(t, f.student.ID, []exam.ResponseInput{
		{QuestionID: f.mcq.ID, SelectedOptionID: f.correctOptionID(t)},
	})
	f.submit(t, f.student2.ID, []exam.ResponseInput{
		{QuestionID: f.mcq.ID, SelectedOptionID: f.wrongOptionID(t)},
	})

	t.Run("owner gets ranked results and stats", func(t *testing.T) {
		res, err := f.svc.QuizResults(f.ctx, f.quiz.ID, f.lecturer)
		require.NoError(t, err)

		assert.Equal(t, "Midterm", res.QuizTitle)
		require.Len(t, res.Results, 2)
		assert.Equal(t, 6, res.Results[0].Attempt.Score) // best first
		assert.Equal(t, f.student.ID, res.Results[0].Student.ID)
		assert.Equal(t, f.student.Email, res.Results[0].Student.Email)

		assert.Equal(t, 2, res.Stats.TotalAttempts)
		assert.Equal(t, 3.0, res.Stats.AverageScore)
		assert.Equal(t, 6, res.Stats.HighestScore)
		assert.Equal(t, 1, res.Stats.PassedCount)
		assert.Equal(t, 50.0, res.Stats.PassRate)
	})

	t.Run("non-owner is refused", func(t *testing.T) {
		_, err := f.svc.QuizResults(f.ctx, f.quiz.ID, f.other)
		assert.True(t, core.IsForbidden(err))
	})
}
