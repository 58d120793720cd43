package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/mtihani/core/exam"
)

type attemptRepository struct {
	db *attemptTable
}

var _ exam.Repository = (*attemptRepository)(nil) // interface compliance check

func NewAttemptRepository(db *DB) exam.Repository {
	return &attemptRepository{db: db.attempt}
}

func (repo *attemptRepository) query() []exam.Attempt {
	atts := make([]exam.Attempt, 0, len(repo.db.table))
	for _, att := range repo.db.table {
		atts = append(atts, *att)
	}
	return atts
}

func (repo *attemptRepository) CreateAttempt(ctx context.Context, att exam.Attempt) (exam.Attempt, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	att.ID = uuid.New().String()
	att.Version = 1
	repo.db.table[att.ID] = &att
	return att, nil
}

func (repo *attemptRepository) GetAttemptByID(ctx context.Context, id string) (exam.Attempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if att, ok := repo.db.table[id]; ok {
		return *att, nil
	}
	return exam.Attempt{}, exam.ErrAttemptNotFound
}

func (repo *attemptRepository) GetActiveAttempt(ctx context.Context, quizID, studentID string) (exam.Attempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, att := range repo.query() {
		if att.QuizID == quizID && att.StudentID == studentID && !att.IsExpired() {
			return att, nil
		}
	}
	return exam.Attempt{}, exam.ErrAttemptNotFound
}

func (repo *attemptRepository) FilterAttempts(ctx context.Context, filter exam.QueryFilter) ([]exam.Attempt, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	atts := repo.query()

	if filter.QuizID != "" {
		var filtered []exam.Attempt
		for _, att := range atts {
			if att.QuizID == filter.QuizID {
				filtered = append(filtered, att)
			}
		}
		atts = filtered
	}
	if atts != nil && len(filter.QuizIDs) > 0 {
		var filtered []exam.Attempt
		for _, att := range atts {
			for _, id := range filter.QuizIDs {
				if att.QuizID == id {
					filtered = append(filtered, att)
					break
				}
			}
		}
		atts = filtered
	}
	if atts != nil && filter.StudentID != "" {
		var filtered []exam.Attempt
		for _, att := range atts {
			if att.StudentID == filter.StudentID {
				filtered = append(filtered, att)
			}
		}
		atts = filtered
	}
	if atts != nil && filter.Status != "" {
		var filtered []exam.Attempt
		for _, att := range atts {
			if att.Status == filter.Status {
				filtered = append(filtered, att)
			}
		}
		atts = filtered
	}

	if atts == nil {
		atts = []exam.Attempt{}
	}
	for _, ord := range filter.Ordering {
		sortAttempts(atts, ord.Field, ord.Ascending)
	}

	total := len(atts)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			atts = []exam.Attempt{}
		} else {
			atts = atts[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(atts) > filter.Limit {
		atts = atts[:filter.Limit]
	}
	return atts, total, nil
}

func (repo *attemptRepository) GetStartedAttempts(ctx context.Context) ([]exam.Attempt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	atts := make([]exam.Attempt, 0)
	for _, att := range repo.query() {
		if att.IsStarted() {
			atts = append(atts, att)
		}
	}
	return atts, nil
}

func (repo *attemptRepository) UpdateAttempt(ctx context.Context, att exam.Attempt) (exam.Attempt, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[att.ID]
	if !ok {
		return exam.Attempt{}, exam.ErrAttemptNotFound
	}
	if orig.Version != att.Version {
		return exam.Attempt{}, exam.ErrStaleAttempt
	}
	att.Version++
	repo.db.table[att.ID] = &att
	return att, nil
}

func sortAttempts(atts []exam.Attempt, field string, asc bool) {
	var less func(a, b exam.Attempt) bool
	switch field {
	case "start_time":
		less = func(a, b exam.Attempt) bool { return a.StartTime.Before(b.StartTime) }
	case "score":
		less = func(a, b exam.Attempt) bool { return a.Score < b.Score }
	case "status":
		less = func(a, b exam.Attempt) bool { return a.Status < b.Status }
	default: // end_time; open attempts sort last
		less = func(a, b exam.Attempt) bool {
			at, bt := endTime(a), endTime(b)
			return at.Before(bt)
		}
	}
	sort.SliceStable(atts, func(i, j int) bool {
		if asc {
			return less(atts[i], atts[j])
		}
		return less(atts[j], atts[i])
	})
}

func endTime(att exam.Attempt) time.Time {
	if att.EndTime != nil {
		return *att.EndTime
	}
	return time.Time{}
}
