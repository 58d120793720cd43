package dummydb

import (
	"sync"

	"github.com/trezcool/mtihani/core/class"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/quiz"
	"github.com/trezcool/mtihani/core/user"
)

type (
	DB struct {
		user     *userTable
		class    *classTable
		question *questionTable
		quiz     *quizTable
		attempt  *attemptTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	classTable struct {
		sync.RWMutex
		table map[string]*class.Class
	}

	questionTable struct {
		sync.RWMutex
		table map[string]*quiz.Question
	}

	quizTable struct {
		sync.RWMutex
		table map[string]*quiz.Quiz
	}

	attemptTable struct {
		sync.RWMutex
		table map[string]*exam.Attempt
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:     &userTable{table: make(map[string]*user.User)},
		class:    &classTable{table: make(map[string]*class.Class)},
		question: &questionTable{table: make(map[string]*quiz.Question)},
		quiz:     &quizTable{table: make(map[string]*quiz.Quiz)},
		attempt:  &attemptTable{table: make(map[string]*exam.Attempt)},
	}
	return db, nil
}
