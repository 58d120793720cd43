package dummydb

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/mtihani/core/quiz"
)

type quizRepository struct {
	questions *questionTable
	quizzes   *quizTable
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *DB) quiz.Repository {
	return &quizRepository{questions: db.question, quizzes: db.quiz}
}

func (repo *quizRepository) CreateQuestion(ctx context.Context, qn quiz.Question) (quiz.Question, error) {
	repo.questions.Lock()
	defer repo.questions.Unlock()

	qn.ID = uuid.New().String()
	for i := range qn.Options {
		qn.Options[i].ID = uuid.New().String()
	}
	repo.questions.table[qn.ID] = &qn
	return qn, nil
}

func (repo *quizRepository) GetQuestionByID(ctx context.Context, id string) (quiz.Question, error) {
	repo.questions.RLock()
	defer repo.questions.RUnlock()

	if qn, ok := repo.questions.table[id]; ok {
		return *qn, nil
	}
	return quiz.Question{}, quiz.ErrQuestionNotFound
}

func (repo *quizRepository) GetQuestionsByID(ctx context.Context, ids ...string) ([]quiz.Question, error) {
	repo.questions.RLock()
	defer repo.questions.RUnlock()

	qns := make([]quiz.Question, 0, len(ids))
	for _, id := range ids {
		if qn, ok := repo.questions.table[id]; ok {
			qns = append(qns, *qn)
		}
	}
	return qns, nil
}

func (repo *quizRepository) QueryAllQuestions(ctx context.Context) ([]quiz.Question, error) {
	repo.questions.RLock()
	defer repo.questions.RUnlock()

	qns := make([]quiz.Question, 0, len(repo.questions.table))
	for _, qn := range repo.questions.table {
		qns = append(qns, *qn)
	}
	return qns, nil
}

func (repo *quizRepository) UpdateQuestion(ctx context.Context, qn quiz.Question) (quiz.Question, error) {
	repo.questions.Lock()
	defer repo.questions.Unlock()

	if _, ok := repo.questions.table[qn.ID]; !ok {
		return quiz.Question{}, quiz.ErrQuestionNotFound
	}
	for i := range qn.Options {
		if qn.Options[i].ID == "" {
			qn.Options[i].ID = uuid.New().String()
		}
	}
	repo.questions.table[qn.ID] = &qn
	return qn, nil
}

func (repo *quizRepository) DeleteQuestionsByID(ctx context.Context, ids ...string) error {
	repo.questions.Lock()
	defer repo.questions.Unlock()
	for _, id := range ids {
		delete(repo.questions.table, id)
	}
	return nil
}

func (repo *quizRepository) CreateQuiz(ctx context.Context, qz quiz.Quiz) (quiz.Quiz, error) {
	repo.quizzes.Lock()
	defer repo.quizzes.Unlock()

	qz.ID = uuid.New().String()
	repo.quizzes.table[qz.ID] = &qz
	return qz, nil
}

func (repo *quizRepository) GetQuizByID(ctx context.Context, id string) (quiz.Quiz, error) {
	repo.quizzes.RLock()
	defer repo.quizzes.RUnlock()

	if qz, ok := repo.quizzes.table[id]; ok {
		return *qz, nil
	}
	return quiz.Quiz{}, quiz.ErrNotFound
}

func (repo *quizRepository) FilterQuizzes(ctx context.Context, filter quiz.QueryFilter) ([]quiz.Quiz, error) {
	repo.quizzes.RLock()
	defer repo.quizzes.RUnlock()

	quizzes := make([]quiz.Quiz, 0, len(repo.quizzes.table))
	for _, qz := range repo.quizzes.table {
		quizzes = append(quizzes, *qz)
	}

	if filter.Search != "" {
		var filtered []quiz.Quiz
		for _, qz := range quizzes {
			if strings.Contains(strings.ToLower(qz.Title), filter.Search) ||
				strings.Contains(strings.ToLower(qz.Description), filter.Search) {
				filtered = append(filtered, qz)
			}
		}
		quizzes = filtered
	}
	if quizzes != nil && filter.Status != "" {
		var filtered []quiz.Quiz
		for _, qz := range quizzes {
			if qz.Status == filter.Status {
				filtered = append(filtered, qz)
			}
		}
		quizzes = filtered
	}
	if quizzes != nil && filter.CreatedBy != "" {
		var filtered []quiz.Quiz
		for _, qz := range quizzes {
			if qz.CreatedBy == filter.CreatedBy {
				filtered = append(filtered, qz)
			}
		}
		quizzes = filtered
	}
	// quizzes assigned to any of the given classes
	if quizzes != nil && len(filter.ClassIDs) > 0 {
		var filtered []quiz.Quiz
		for _, qz := range quizzes {
			if anyOverlap(qz.AssignedClassIDs, filter.ClassIDs) {
				filtered = append(filtered, qz)
			}
		}
		quizzes = filtered
	}
	if quizzes != nil && filter.ActiveAt != nil {
		var filtered []quiz.Quiz
		for _, qz := range quizzes {
			if qz.WindowContains(*filter.ActiveAt) {
				filtered = append(filtered, qz)
			}
		}
		quizzes = filtered
	}

	if quizzes == nil {
		quizzes = []quiz.Quiz{}
	}
	return quizzes, nil
}

func (repo *quizRepository) UpdateQuiz(ctx context.Context, qz quiz.Quiz) (quiz.Quiz, error) {
	repo.quizzes.Lock()
	defer repo.quizzes.Unlock()

	if _, ok := repo.quizzes.table[qz.ID]; !ok {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	repo.quizzes.table[qz.ID] = &qz
	return qz, nil
}

func (repo *quizRepository) DeleteQuizzesByID(ctx context.Context, ids ...string) error {
	repo.quizzes.Lock()
	defer repo.quizzes.Unlock()
	for _, id := range ids {
		delete(repo.quizzes.table, id)
	}
	return nil
}

func anyOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
