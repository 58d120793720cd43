package sqlxrepos

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core/quiz"
)

// optionsColumn stores a question's options as jsonb.
type optionsColumn []quiz.Option

var (
	_ driver.Valuer = (optionsColumn)(nil)
	_ sql.Scanner   = (*optionsColumn)(nil)
)

func (o optionsColumn) Value() (driver.Value, error) {
	if o == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(o)
}

func (o *optionsColumn) Scan(src interface{}) error {
	switch t := src.(type) {
	case nil:
		*o = nil
		return nil
	case []byte:
		return json.Unmarshal(t, o)
	case string:
		return json.Unmarshal([]byte(t), o)
	}
	return errors.Errorf("scanning options: unsupported type %T", src)
}

type questionRow struct {
	ID         string        `db:"id"`
	Text       string        `db:"text"`
	Type       string        `db:"type"`
	Difficulty string        `db:"difficulty"`
	Marks      int           `db:"marks"`
	Subject    string        `db:"subject"`
	Topic      string        `db:"topic"`
	Options    optionsColumn `db:"options"`
	CreatedBy  string        `db:"created_by"`
	CreatedAt  time.Time     `db:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at"`
}

func (r questionRow) unpack() quiz.Question {
	return quiz.Question{
		ID:         r.ID,
		Text:       r.Text,
		Type:       r.Type,
		Difficulty: r.Difficulty,
		Marks:      r.Marks,
		Subject:    r.Subject,
		Topic:      r.Topic,
		Options:    r.Options,
		CreatedBy:  r.CreatedBy,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func packQuestion(qn quiz.Question) questionRow {
	return questionRow{
		ID:         qn.ID,
		Text:       qn.Text,
		Type:       qn.Type,
		Difficulty: qn.Difficulty,
		Marks:      qn.Marks,
		Subject:    qn.Subject,
		Topic:      qn.Topic,
		Options:    qn.Options,
		CreatedBy:  qn.CreatedBy,
		CreatedAt:  qn.CreatedAt.UTC(),
		UpdatedAt:  qn.UpdatedAt.UTC(),
	}
}

type quizRow struct {
	ID               string         `db:"id"`
	Title            string         `db:"title"`
	Description      string         `db:"description"`
	CreatedBy        string         `db:"created_by"`
	DurationMinutes  int            `db:"duration_minutes"`
	TotalMarks       int            `db:"total_marks"`
	PassMarks        null.Int       `db:"pass_marks"`
	ShuffleQuestions bool           `db:"shuffle_questions"`
	Status           string         `db:"status"`
	StartTime        null.Time      `db:"start_time"`
	EndTime          null.Time      `db:"end_time"`
	QuestionIDs      pq.StringArray `db:"question_ids"`
	AssignedClassIDs pq.StringArray `db:"assigned_class_ids"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r quizRow) unpack() quiz.Quiz {
	qz := quiz.Quiz{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		CreatedBy:        r.CreatedBy,
		DurationMinutes:  r.DurationMinutes,
		TotalMarks:       r.TotalMarks,
		ShuffleQuestions: r.ShuffleQuestions,
		Status:           r.Status,
		QuestionIDs:      r.QuestionIDs,
		AssignedClassIDs: r.AssignedClassIDs,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.PassMarks.Valid {
		passMarks := r.PassMarks.Int
		qz.PassMarks = &passMarks
	}
	if r.StartTime.Valid {
		start := r.StartTime.Time
		qz.StartTime = &start
	}
	if r.EndTime.Valid {
		end := r.EndTime.Time
		qz.EndTime = &end
	}
	return qz
}

func packQuiz(qz quiz.Quiz) quizRow {
	r := quizRow{
		ID:               qz.ID,
		Title:            qz.Title,
		Description:      qz.Description,
		CreatedBy:        qz.CreatedBy,
		DurationMinutes:  qz.DurationMinutes,
		TotalMarks:       qz.TotalMarks,
		ShuffleQuestions: qz.ShuffleQuestions,
		Status:           qz.Status,
		QuestionIDs:      qz.QuestionIDs,
		AssignedClassIDs: qz.AssignedClassIDs,
		CreatedAt:        qz.CreatedAt.UTC(),
		UpdatedAt:        qz.UpdatedAt.UTC(),
	}
	if qz.QuestionIDs == nil {
		r.QuestionIDs = pq.StringArray{}
	}
	if qz.AssignedClassIDs == nil {
		r.AssignedClassIDs = pq.StringArray{}
	}
	r.PassMarks = null.IntFromPtr(qz.PassMarks)
	if qz.StartTime != nil {
		r.StartTime = null.TimeFrom(qz.StartTime.UTC())
	}
	if qz.EndTime != nil {
		r.EndTime = null.TimeFrom(qz.EndTime.UTC())
	}
	return r
}

type quizRepository struct {
	db *sqlx.DB
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *sqlx.DB) quiz.Repository {
	return &quizRepository{db: db}
}

func (repo *quizRepository) CreateQuestion(ctx context.Context, qn quiz.Question) (quiz.Question, error) {
	qn.ID = uuid.New().String()
	for i := range qn.Options {
		qn.Options[i].ID = uuid.New().String()
	}
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO question (id, text, type, difficulty, marks, subject, topic, options, created_by, created_at, updated_at)
		VALUES (:id, :text, :type, :difficulty, :marks, :subject, :topic, :options, :created_by, :created_at, :updated_at)`,
		packQuestion(qn),
	)
	if err != nil {
		return quiz.Question{}, errors.Wrap(err, "inserting question")
	}
	return qn, nil
}

func (repo *quizRepository) GetQuestionByID(ctx context.Context, id string) (quiz.Question, error) {
	var r questionRow
	err := repo.db.GetContext(ctx, &r, "SELECT * FROM question WHERE id = $1", id)
	if err != nil {
		if err == sql.ErrNoRows {
			return quiz.Question{}, quiz.ErrQuestionNotFound
		}
		return quiz.Question{}, errors.Wrap(err, "getting question")
	}
	return r.unpack(), nil
}

func (repo *quizRepository) GetQuestionsByID(ctx context.Context, ids ...string) ([]quiz.Question, error) {
	rows := make([]questionRow, 0, len(ids))
	err := repo.db.SelectContext(ctx, &rows, "SELECT * FROM question WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "querying questions")
	}
	return unpackQuestions(rows), nil
}

func (repo *quizRepository) QueryAllQuestions(ctx context.Context) ([]quiz.Question, error) {
	rows := make([]questionRow, 0)
	if err := repo.db.SelectContext(ctx, &rows, "SELECT * FROM question"); err != nil {
		return nil, errors.Wrap(err, "querying questions")
	}
	return unpackQuestions(rows), nil
}

func (repo *quizRepository) UpdateQuestion(ctx context.Context, qn quiz.Question) (quiz.Question, error) {
	for i := range qn.Options {
		if qn.Options[i].ID == "" {
			qn.Options[i].ID = uuid.New().String()
		}
	}
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE question
		SET text = :text, type = :type, difficulty = :difficulty, marks = :marks,
		    subject = :subject, topic = :topic, options = :options, updated_at = :updated_at
		WHERE id = :id`,
		packQuestion(qn),
	)
	if err != nil {
		return quiz.Question{}, errors.Wrap(err, "updating question")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return quiz.Question{}, quiz.ErrQuestionNotFound
	}
	return qn, nil
}

func (repo *quizRepository) DeleteQuestionsByID(ctx context.Context, ids ...string) error {
	_, err := repo.db.ExecContext(ctx, "DELETE FROM question WHERE id = ANY($1)", pq.Array(ids))
	return errors.Wrap(err, "deleting questions")
}

func (repo *quizRepository) CreateQuiz(ctx context.Context, qz quiz.Quiz) (quiz.Quiz, error) {
	qz.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO quiz (id, title, description, created_by, duration_minutes, total_marks, pass_marks,
		                  shuffle_questions, status, start_time, end_time, question_ids, assigned_class_ids,
		                  created_at, updated_at)
		VALUES (:id, :title, :description, :created_by, :duration_minutes, :total_marks, :pass_marks,
		        :shuffle_questions, :status, :start_time, :end_time, :question_ids, :assigned_class_ids,
		        :created_at, :updated_at)`,
		packQuiz(qz),
	)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "inserting quiz")
	}
	return qz, nil
}

func (repo *quizRepository) GetQuizByID(ctx context.Context, id string) (quiz.Quiz, error) {
	var r quizRow
	err := repo.db.GetContext(ctx, &r, "SELECT * FROM quiz WHERE id = $1", id)
	if err != nil {
		if err == sql.ErrNoRows {
			return quiz.Quiz{}, quiz.ErrNotFound
		}
		return quiz.Quiz{}, errors.Wrap(err, "getting quiz")
	}
	return r.unpack(), nil
}

func (repo *quizRepository) FilterQuizzes(ctx context.Context, filter quiz.QueryFilter) ([]quiz.Quiz, error) {
	q := "SELECT * FROM quiz"
	var conds []string
	var args []interface{}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		p := fmt.Sprintf("$%d", len(args))
		conds = append(conds, "(title ILIKE "+p+" OR description ILIKE "+p+")")
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		conds = append(conds, fmt.Sprintf("created_by = $%d", len(args)))
	}
	if len(filter.ClassIDs) > 0 {
		args = append(args, pq.Array(filter.ClassIDs))
		conds = append(conds, fmt.Sprintf("assigned_class_ids && $%d", len(args)))
	}
	if filter.ActiveAt != nil {
		args = append(args, filter.ActiveAt.UTC())
		p := fmt.Sprintf("$%d", len(args))
		conds = append(conds, "(start_time IS NULL OR start_time <= "+p+") AND (end_time IS NULL OR end_time >= "+p+")")
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}

	rows := make([]quizRow, 0)
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "filtering quizzes")
	}
	quizzes := make([]quiz.Quiz, 0, len(rows))
	for _, r := range rows {
		quizzes = append(quizzes, r.unpack())
	}
	return quizzes, nil
}

func (repo *quizRepository) UpdateQuiz(ctx context.Context, qz quiz.Quiz) (quiz.Quiz, error) {
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE quiz
		SET title = :title, description = :description, duration_minutes = :duration_minutes,
		    total_marks = :total_marks, pass_marks = :pass_marks, shuffle_questions = :shuffle_questions,
		    status = :status, start_time = :start_time, end_time = :end_time,
		    question_ids = :question_ids, assigned_class_ids = :assigned_class_ids, updated_at = :updated_at
		WHERE id = :id`,
		packQuiz(qz),
	)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "updating quiz")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	return qz, nil
}

func (repo *quizRepository) DeleteQuizzesByID(ctx context.Context, ids ...string) error {
	_, err := repo.db.ExecContext(ctx, "DELETE FROM quiz WHERE id = ANY($1)", pq.Array(ids))
	return errors.Wrap(err, "deleting quizzes")
}

func unpackQuestions(rows []questionRow) []quiz.Question {
	qns := make([]quiz.Question, 0, len(rows))
	for _, r := range rows {
		qns = append(qns, r.unpack())
	}
	return qns
}
