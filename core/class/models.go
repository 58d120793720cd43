package class

import (
	"time"

	"github.com/trezcool/mtihani/core"
)

type Class struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	LecturerIDs []string  `json:"lecturer_ids"`
	StudentIDs  []string  `json:"student_ids"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

// HasStudent reports whether the given student belongs to this class.
func (c Class) HasStudent(studentID string) bool {
	for _, id := range c.StudentIDs {
		if id == studentID {
			return true
		}
	}
	return false
}

type NewClass struct {
	Name        string   `json:"name" validate:"required"`
	LecturerIDs []string `json:"lecturer_ids"`
	StudentIDs  []string `json:"student_ids"`
}

func (nc *NewClass) Validate() error {
	nc.Name = core.CleanString(nc.Name)
	return core.Validate.Struct(nc)
}

type UpdateClass struct {
	Name        string   `json:"name"`
	LecturerIDs []string `json:"lecturer_ids"`
	StudentIDs  []string `json:"student_ids"`
}

func (uc *UpdateClass) Validate() error {
	uc.Name = core.CleanString(uc.Name)
	return core.Validate.Struct(uc)
}
