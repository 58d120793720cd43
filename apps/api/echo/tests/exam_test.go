package tests

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/trezcool/mtihani/core/class"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/quiz"
	"github.com/trezcool/mtihani/core/user"
)

type examFixture struct {
	lecturer user.User
	student  user.User
	student2 user.User
	quiz     quiz.Quiz
	mcq      quiz.Question
	subj     quiz.Question
}

func setupExam(t *testing.T) examFixture {
	t.Helper()
	ctx := context.Background()

	lecturer := createUser(t, "Prof", "prof", "prof@test.cd", "LePass", user.LecturerRoles, true)
	student := createUser(t, "Hero", "hero", "hero@test.cd", "LePass", user.StudentRoles, true)
	student2 := createUser(t, "Mate", "mate", "mate@test.cd", "LePass", user.StudentRoles, true)

	cls, err := classRepo.CreateClass(ctx, class.Class{
		Name:        "CS101",
		LecturerIDs: []string{lecturer.ID},
		StudentIDs:  []string{student.ID, student2.ID},
	})
	if err != nil {
		t.Fatalf("CreateClass(): %v", err)
	}

	mcq, err := quizRepo.CreateQuestion(ctx, quiz.Question{
		Text:       "2 + 2 = ?",
		Type:       quiz.TypeMCQ,
		Difficulty: quiz.DifficultyEasy,
		Marks:      6,
		Subject:    "Math",
		Options: []quiz.Option{
			{Text: "3"},
			{Text: "4", IsCorrect: true},
			{Text: "5"},
		},
		CreatedBy: lecturer.ID,
	})
	if err != nil {
		t.Fatalf("CreateQuestion(): %v", err)
	}
	subj, err := quizRepo.CreateQuestion(ctx, quiz.Question{
		Text:       "Explain recursion.",
		Type:       quiz.TypeSubjective,
		Difficulty: quiz.DifficultyMedium,
		Marks:      4,
		Subject:    "CS",
		CreatedBy:  lecturer.ID,
	})
	if err != nil {
		t.Fatalf("CreateQuestion(): %v", err)
	}

	now := time.Now().UTC()
	start := now.Add(-1 * time.Hour)
	end := now.Add(2 * time.Hour)
	passMarks := 5
	qz, err := quizRepo.CreateQuiz(ctx, quiz.Quiz{
		Title:            "Midterm",
		CreatedBy:        lecturer.ID,
		DurationMinutes:  30,
		TotalMarks:       10,
		PassMarks:        &passMarks,
		Status:           quiz.StatusPublished,
		StartTime:        &start,
		EndTime:          &end,
		QuestionIDs:      []string{mcq.ID, subj.ID},
		AssignedClassIDs: []string{cls.ID},
	})
	if err != nil {
		t.Fatalf("CreateQuiz(): %v", err)
	}

	return examFixture{
		lecturer: lecturer,
		student:  student,
		student2: student2,
		quiz:     qz,
		mcq:      mcq,
		subj:     subj,
	}
}

func correctOptionID(t *testing.T, qn quiz.Question) string {
	t.Helper()
	for _, opt := range qn.Options {
		if opt.IsCorrect {
			return opt.ID
		}
	}
	t.Fatal("question has no correct option")
	return ""
}

func Test_examApi_availableQuizzes(t *testing.T) {
	fix := setupExam(t)
	studentToken := getToken(t, fix.student)

	t.Run("Auth required", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/quizzes/available")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})

	t.Run("Student required", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/quizzes/available", getToken(t, fix.lecturer))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)
	})

	t.Run("Lists open quizzes for the student's classes", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/quizzes/available", studentToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var quizzes []quiz.Quiz
		decodeBody(t, rec, &quizzes)
		if len(quizzes) != 1 || quizzes[0].ID != fix.quiz.ID {
			t.Errorf("expected [%s]; got %+v", fix.quiz.ID, quizzes)
		}
	})
}

func Test_examApi_flow(t *testing.T) {
	fix := setupExam(t)
	studentToken := getToken(t, fix.student)
	student2Token := getToken(t, fix.student2)
	lecturerToken := getToken(t, fix.lecturer)

	var attemptID string

	t.Run("Start", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/quizzes/"+fix.quiz.ID+"/start", studentToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var started exam.StartedAttempt
		decodeBody(t, rec, &started)
		if started.Attempt.Status != exam.StatusStarted {
			t.Errorf("status = %s; want %s", started.Attempt.Status, exam.StatusStarted)
		}
		if len(started.Questions) != 2 {
			t.Fatalf("expected 2 questions; got %d", len(started.Questions))
		}
		for _, qn := range started.Questions {
			for _, opt := range qn.Options {
				if opt.ID == "" || opt.Text == "" {
					t.Errorf("sanitized option incomplete: %+v", opt)
				}
			}
		}
		attemptID = started.Attempt.ID
	})

	t.Run("Start again resumes the open attempt", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/quizzes/"+fix.quiz.ID+"/start", studentToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var started exam.StartedAttempt
		decodeBody(t, rec, &started)
		if started.Attempt.ID != attemptID {
			t.Errorf("attempt ID = %s; want %s", started.Attempt.ID, attemptID)
		}
	})

	t.Run("Unknown quiz", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/quizzes/lol/start", studentToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "Quiz not found"})}, rec)
	})

	submitBody := marchallObj(t, exam.SubmitAttempt{
		Responses: []exam.ResponseInput{
			{QuestionID: fix.mcq.ID, SelectedOptionID: correctOptionID(t, fix.mcq)},
			{QuestionID: fix.subj.ID, TextAnswer: "A function that calls itself."},
		},
	})

	t.Run("Submit by another student", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/attempts/"+attemptID+"/submit", student2Token, submitBody)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "Not your attempt"})}, rec)
	})

	t.Run("Submit", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/attempts/"+attemptID+"/submit", studentToken, submitBody)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var summary exam.SubmitSummary
		decodeBody(t, rec, &summary)
		if summary.Score != 6 {
			t.Errorf("score = %d; want 6", summary.Score)
		}
		if !summary.PendingGrading {
			t.Error("expected pending grading")
		}
	})

	t.Run("Submit again", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/attempts/"+attemptID+"/submit", studentToken, submitBody)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "Already submitted"})}, rec)
	})

	gradeBody := marchallObj(t, exam.GradeAttempt{
		Grades: []exam.GradeInput{{QuestionID: fix.subj.ID, AwardedMarks: 4}},
	})

	t.Run("Grade requires staff", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/attempts/"+attemptID+"/grade", studentToken, gradeBody)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)
	})

	t.Run("Grade", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/attempts/"+attemptID+"/grade", lecturerToken, gradeBody)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var summary exam.GradeSummary
		decodeBody(t, rec, &summary)
		if summary.Score != 10 {
			t.Errorf("score = %d; want 10", summary.Score)
		}
		if !summary.AllGraded {
			t.Error("expected all graded")
		}
	})

	t.Run("Attempt list is scoped to the student", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/attempts", student2Token)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var page exam.AttemptPage
		decodeBody(t, rec, &page)
		if page.TotalResults != 0 {
			t.Errorf("totalResults = %d; want 0", page.TotalResults)
		}

		req, rec = newAuthRequest(http.MethodGet, "/v1/attempts", studentToken)
		app.ServeHTTP(rec, req)
		decodeBody(t, rec, &page)
		if page.TotalResults != 1 {
			t.Errorf("totalResults = %d; want 1", page.TotalResults)
		}
	})

	t.Run("Attempt detail is guarded", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/attempts/"+attemptID, student2Token)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "Not your attempt"})}, rec)

		req, rec = newAuthRequest(http.MethodGet, "/v1/attempts/"+attemptID, lecturerToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("owner lecturer should see the attempt; code = %v", rec.Code)
		}
	})

	t.Run("Quiz results", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/quizzes/"+fix.quiz.ID+"/results", studentToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)

		req, rec = newAuthRequest(http.MethodGet, "/v1/quizzes/"+fix.quiz.ID+"/results", lecturerToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var results exam.QuizResults
		decodeBody(t, rec, &results)
		if results.Stats.TotalAttempts != 1 {
			t.Errorf("totalAttempts = %d; want 1", results.Stats.TotalAttempts)
		}
		if results.Stats.HighestScore != 10 {
			t.Errorf("highestScore = %d; want 10", results.Stats.HighestScore)
		}
	})

	t.Run("Student stats", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/students/"+fix.student2.ID+"/stats", studentToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)

		req, rec = newAuthRequest(http.MethodGet, "/v1/students/"+fix.student.ID+"/stats", studentToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var stats exam.StudentStats
		decodeBody(t, rec, &stats)
		if stats.TotalAttempts != 1 {
			t.Errorf("totalAttempts = %d; want 1", stats.TotalAttempts)
		}
		if stats.Passed != 1 {
			t.Errorf("passed = %d; want 1", stats.Passed)
		}
	})
}
