package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/class"
)

type classRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	LecturerIDs pq.StringArray `db:"lecturer_ids"`
	StudentIDs  pq.StringArray `db:"student_ids"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r classRow) unpack() class.Class {
	return class.Class{
		ID:          r.ID,
		Name:        r.Name,
		LecturerIDs: r.LecturerIDs,
		StudentIDs:  r.StudentIDs,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func packClass(cls class.Class) classRow {
	return classRow{
		ID:          cls.ID,
		Name:        cls.Name,
		LecturerIDs: cls.LecturerIDs,
		StudentIDs:  cls.StudentIDs,
		CreatedAt:   cls.CreatedAt.UTC(),
		UpdatedAt:   cls.UpdatedAt.UTC(),
	}
}

type classRepository struct {
	db *sqlx.DB
}

var _ class.Repository = (*classRepository)(nil) // interface compliance check

func NewClassRepository(db *sqlx.DB) class.Repository {
	return &classRepository{db: db}
}

func (repo *classRepository) CreateClass(ctx context.Context, cls class.Class) (class.Class, error) {
	cls.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO class (id, name, lecturer_ids, student_ids, created_at, updated_at)
		VALUES (:id, :name, :lecturer_ids, :student_ids, :created_at, :updated_at)`,
		packClass(cls),
	)
	if err != nil {
		return class.Class{}, errors.Wrap(err, "inserting class")
	}
	return cls, nil
}

func (repo *classRepository) GetClassByID(ctx context.Context, id string) (class.Class, error) {
	var r classRow
	err := repo.db.GetContext(ctx, &r, "SELECT * FROM class WHERE id = $1", id)
	if err != nil {
		if err == sql.ErrNoRows {
			return class.Class{}, class.ErrNotFound
		}
		return class.Class{}, errors.Wrap(err, "getting class")
	}
	return r.unpack(), nil
}

func (repo *classRepository) QueryAllClasses(ctx context.Context) ([]class.Class, error) {
	rows := make([]classRow, 0)
	if err := repo.db.SelectContext(ctx, &rows, "SELECT * FROM class"); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	classes := make([]class.Class, 0, len(rows))
	for _, r := range rows {
		classes = append(classes, r.unpack())
	}
	return classes, nil
}

func (repo *classRepository) GetStudentClassIDs(ctx context.Context, studentID string) ([]string, error) {
	ids := make([]string, 0)
	err := repo.db.SelectContext(ctx, &ids, "SELECT id FROM class WHERE $1 = ANY(student_ids)", studentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying student classes")
	}
	return ids, nil
}

func (repo *classRepository) UpdateClass(ctx context.Context, cls class.Class) (class.Class, error) {
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE class
		SET name = :name, lecturer_ids = :lecturer_ids, student_ids = :student_ids, updated_at = :updated_at
		WHERE id = :id`,
		packClass(cls),
	)
	if err != nil {
		return class.Class{}, errors.Wrap(err, "updating class")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return class.Class{}, class.ErrNotFound
	}
	return cls, nil
}

func (repo *classRepository) DeleteClassesByID(ctx context.Context, ids ...string) error {
	_, err := repo.db.ExecContext(ctx, "DELETE FROM class WHERE id = ANY($1)", pq.Array(ids))
	return errors.Wrap(err, "deleting classes")
}
