package roster

import (
	"context"
	"errors"
	"strings"
)

// ErrClassNotFound is returned when a class id has no matching record.
var ErrClassNotFound = errors.New("class not found")

// Student is an enrolled student. It does not change during a session.
type Student struct {
	ID           int64  `db:"student_id" yaml:"id"`
	NationalCode string `db:"student_national_code" yaml:"national_code"`
	Name         string `db:"student_name" yaml:"name"`
	FamilyName   string `db:"student_family" yaml:"family_name"`
}

// FullName joins the given and family names.
func (s Student) FullName() string {
	return strings.TrimSpace(s.Name + " " + s.FamilyName)
}

// ClassContext identifies the class being monitored.
type ClassContext struct {
	ClassID   string `db:"class_id" yaml:"id"`
	SchoolID  string `db:"school_code" yaml:"school_id"`
	ClassName string `db:"class_name" yaml:"name"`
}

// Loader returns the ordered roster of a class.
type Loader interface {
	Students(ctx context.Context, classID string) ([]Student, error)
}

// Static serves rosters held in memory, keyed by class id.
type Static map[string][]Student

// Students returns a copy of the roster for classID; unknown classes are empty.
func (s Static) Students(ctx context.Context, classID string) ([]Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	students := s[classID]
	out := make([]Student, len(students))
	copy(out, students)
	return out, nil
}
