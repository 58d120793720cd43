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

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

// responsesColumn stores an attempt's responses as jsonb.
type responsesColumn []exam.Response

var (
	_ driver.Valuer = (responsesColumn)(nil)
	_ sql.Scanner   = (*responsesColumn)(nil)
)

func (rc responsesColumn) Value() (driver.Value, error) {
	if rc == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(rc)
}

func (rc *responsesColumn) Scan(src interface{}) error {
	switch t := src.(type) {
	case nil:
		*rc = nil
		return nil
	case []byte:
		return json.Unmarshal(t, rc)
	case string:
		return json.Unmarshal([]byte(t), rc)
	}
	return errors.Errorf("scanning responses: unsupported type %T", src)
}

type attemptRow struct {
	ID        string          `db:"id"`
	QuizID    string          `db:"quiz_id"`
	StudentID string          `db:"student_id"`
	Status    string          `db:"status"`
	Score     int             `db:"score"`
	StartTime time.Time       `db:"start_time"`
	EndTime   null.Time       `db:"end_time"`
	Responses responsesColumn `db:"responses"`
	Version   int             `db:"version"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (r attemptRow) unpack() exam.Attempt {
	att := exam.Attempt{
		ID:        r.ID,
		QuizID:    r.QuizID,
		StudentID: r.StudentID,
		Status:    r.Status,
		Score:     r.Score,
		StartTime: r.StartTime,
		Responses: r.Responses,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.EndTime.Valid {
		end := r.EndTime.Time
		att.EndTime = &end
	}
	if att.Responses == nil {
		att.Responses = []exam.Response{}
	}
	return att
}

func packAttempt(att exam.Attempt) attemptRow {
	r := attemptRow{
		ID:        att.ID,
		QuizID:    att.QuizID,
		StudentID: att.StudentID,
		Status:    att.Status,
		Score:     att.Score,
		StartTime: att.StartTime.UTC(),
		Responses: att.Responses,
		Version:   att.Version,
		CreatedAt: att.CreatedAt.UTC(),
		UpdatedAt: att.UpdatedAt.UTC(),
	}
	if att.EndTime != nil {
		r.EndTime = null.TimeFrom(att.EndTime.UTC())
	}
	return r
}

type attemptRepository struct {
	db *sqlx.DB
}

var _ exam.Repository = (*attemptRepository)(nil) // interface compliance check

func NewAttemptRepository(db *sqlx.DB) exam.Repository {
	return &attemptRepository{db: db}
}

func (repo *attemptRepository) CreateAttempt(ctx context.Context, att exam.Attempt) (exam.Attempt, error) {
	att.ID = uuid.New().String()
	att.Version = 1
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO attempt (id, quiz_id, student_id, status, score, start_time, end_time, responses, version, created_at, updated_at)
		VALUES (:id, :quiz_id, :student_id, :status, :score, :start_time, :end_time, :responses, :version, :created_at, :updated_at)`,
		packAttempt(att),
	)
	if err != nil {
		return exam.Attempt{}, errors.Wrap(err, "inserting attempt")
	}
	return att, nil
}

func (repo *attemptRepository) GetAttemptByID(ctx context.Context, id string) (exam.Attempt, error) {
	var r attemptRow
	err := repo.db.GetContext(ctx, &r, "SELECT * FROM attempt WHERE id = $1", id)
	if err != nil {
		if err == sql.ErrNoRows {
			return exam.Attempt{}, exam.ErrAttemptNotFound
		}
		return exam.Attempt{}, errors.Wrap(err, "getting attempt")
	}
	return r.unpack(), nil
}

func (repo *attemptRepository) GetActiveAttempt(ctx context.Context, quizID, studentID string) (exam.Attempt, error) {
	var r attemptRow
	err := repo.db.GetContext(ctx, &r, `
		SELECT * FROM attempt
		WHERE quiz_id = $1 AND student_id = $2 AND status != $3
		ORDER BY created_at DESC LIMIT 1`,
		quizID, studentID, exam.StatusExpired,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return exam.Attempt{}, exam.ErrAttemptNotFound
		}
		return exam.Attempt{}, errors.Wrap(err, "getting active attempt")
	}
	return r.unpack(), nil
}

func (repo *attemptRepository) FilterAttempts(ctx context.Context, filter exam.QueryFilter) ([]exam.Attempt, int, error) {
	var conds []string
	var args []interface{}

	if filter.QuizID != "" {
		args = append(args, filter.QuizID)
		conds = append(conds, fmt.Sprintf("quiz_id = $%d", len(args)))
	}
	if len(filter.QuizIDs) > 0 {
		args = append(args, pq.Array(filter.QuizIDs))
		conds = append(conds, fmt.Sprintf("quiz_id = ANY($%d)", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conds = append(conds, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	var where string
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := repo.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM attempt"+where, args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting attempts")
	}

	q := "SELECT * FROM attempt" + where
	if len(filter.Ordering) > 0 {
		ords := make([]string, 0, len(filter.Ordering))
		for _, ord := range filter.Ordering {
			ords = append(ords, orderClause(ord))
		}
		q += " ORDER BY " + strings.Join(ords, ", ")
	}
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows := make([]attemptRow, 0)
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, 0, errors.Wrap(err, "filtering attempts")
	}
	atts := make([]exam.Attempt, 0, len(rows))
	for _, r := range rows {
		atts = append(atts, r.unpack())
	}
	return atts, total, nil
}

func (repo *attemptRepository) GetStartedAttempts(ctx context.Context) ([]exam.Attempt, error) {
	rows := make([]attemptRow, 0)
	err := repo.db.SelectContext(ctx, &rows, "SELECT * FROM attempt WHERE status = $1", exam.StatusStarted)
	if err != nil {
		return nil, errors.Wrap(err, "querying started attempts")
	}
	atts := make([]exam.Attempt, 0, len(rows))
	for _, r := range rows {
		atts = append(atts, r.unpack())
	}
	return atts, nil
}

// UpdateAttempt writes the attempt only if the stored version still matches,
// bumping it on success.
func (repo *attemptRepository) UpdateAttempt(ctx context.Context, att exam.Attempt) (exam.Attempt, error) {
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE attempt
		SET status = :status, score = :score, end_time = :end_time, responses = :responses,
		    version = version + 1, updated_at = :updated_at
		WHERE id = :id AND version = :version`,
		packAttempt(att),
	)
	if err != nil {
		return exam.Attempt{}, errors.Wrap(err, "updating attempt")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// no match: either the attempt is gone or someone else won the version race
		var exists bool
		if err := repo.db.GetContext(ctx, &exists, "SELECT true FROM attempt WHERE id = $1", att.ID); err != nil {
			if err == sql.ErrNoRows {
				return exam.Attempt{}, exam.ErrAttemptNotFound
			}
			return exam.Attempt{}, errors.Wrap(err, "checking attempt")
		}
		return exam.Attempt{}, exam.ErrStaleAttempt
	}
	att.Version++
	return att, nil
}

// orderClause whitelists sortable columns; anything else falls back to submission time.
func orderClause(ord core.DBOrdering) string {
	switch ord.Field {
	case "start_time", "end_time", "score", "status", "created_at":
		return ord.String()
	}
	return core.DBOrdering{Field: "end_time", Ascending: ord.Ascending}.String()
}
