package class

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// errors
	ErrNotFound = errors.New("class not found")
)

type (
	Repository interface {
		CreateClass(ctx context.Context, cls Class) (Class, error)
		GetClassByID(ctx context.Context, id string) (Class, error)
		QueryAllClasses(ctx context.Context) ([]Class, error)
		// GetStudentClassIDs returns the IDs of all classes the student belongs to.
		GetStudentClassIDs(ctx context.Context, studentID string) ([]string, error)
		UpdateClass(ctx context.Context, cls Class) (Class, error)
		DeleteClassesByID(ctx context.Context, ids ...string) error
	}

	Service interface {
		Create(ctx context.Context, nc NewClass) (Class, error)
		GetByID(ctx context.Context, id string) (Class, error)
		QueryAll(ctx context.Context) ([]Class, error)
		ClassIDsForStudent(ctx context.Context, studentID string) ([]string, error)
		Update(ctx context.Context, id string, uc UpdateClass) (Class, error)
		Delete(ctx context.Context, ids ...string) error
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) Create(ctx context.Context, nc NewClass) (Class, error) {
	now := time.Now().UTC()
	cls := Class{
		Name:        nc.Name,
		LecturerIDs: nc.LecturerIDs,
		StudentIDs:  nc.StudentIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return svc.repo.CreateClass(ctx, cls)
}

func (svc *service) GetByID(ctx context.Context, id string) (Class, error) {
	return svc.repo.GetClassByID(ctx, id)
}

func (svc *service) QueryAll(ctx context.Context) ([]Class, error) {
	return svc.repo.QueryAllClasses(ctx)
}

func (svc *service) ClassIDsForStudent(ctx context.Context, studentID string) ([]string, error) {
	return svc.repo.GetStudentClassIDs(ctx, studentID)
}

func (svc *service) Update(ctx context.Context, id string, uc UpdateClass) (Class, error) {
	cls, err := svc.repo.GetClassByID(ctx, id)
	if err != nil {
		return Class{}, err
	}
	if uc.Name != "" {
		cls.Name = uc.Name
	}
	if uc.LecturerIDs != nil {
		cls.LecturerIDs = uc.LecturerIDs
	}
	if uc.StudentIDs != nil {
		cls.StudentIDs = uc.StudentIDs
	}
	cls.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateClass(ctx, cls)
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteClassesByID(ctx, ids...)
}
