package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

const (
	studentsQuery = `
		SELECT student_id, student_national_code, student_name, student_family
		FROM students
		WHERE class_id = $1
		ORDER BY student_family, student_name, student_id`

	classQuery = `
		SELECT class_id, school_code, class_name
		FROM classes
		WHERE class_id = $1`

	teacherClassesQuery = `
		SELECT class_id, school_code, class_name
		FROM classes
		WHERE teacher_national_code = $1
		ORDER BY class_name`
)

// SQLLoader reads rosters and classes from the school database.
type SQLLoader struct {
	db *sqlx.DB
}

// Open connects with the given driver and DSN and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*SQLLoader, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to ping database: %w", err), db.Close())
	}
	return &SQLLoader{db: db}, nil
}

// NewSQLLoader wraps an existing connection pool.
func NewSQLLoader(db *sql.DB, driver string) *SQLLoader {
	return &SQLLoader{db: sqlx.NewDb(db, driver)}
}

// Students returns the class roster ordered by family name, then name.
func (l *SQLLoader) Students(ctx context.Context, classID string) ([]Student, error) {
	var students []Student
	if err := l.db.SelectContext(ctx, &students, studentsQuery, classID); err != nil {
		return nil, fmt.Errorf("failed to query students of class %s: %w", classID, err)
	}
	return students, nil
}

// Class looks up the context of a single class.
func (l *SQLLoader) Class(ctx context.Context, classID string) (ClassContext, error) {
	var class ClassContext
	err := l.db.GetContext(ctx, &class, classQuery, classID)
	if errors.Is(err, sql.ErrNoRows) {
		return ClassContext{}, fmt.Errorf("%w: %s", ErrClassNotFound, classID)
	}
	if err != nil {
		return ClassContext{}, fmt.Errorf("failed to query class %s: %w", classID, err)
	}
	return class, nil
}

// ClassesForTeacher lists the classes taught by a teacher, by national code.
func (l *SQLLoader) ClassesForTeacher(ctx context.Context, nationalCode string) ([]ClassContext, error) {
	var classes []ClassContext
	if err := l.db.SelectContext(ctx, &classes, teacherClassesQuery, nationalCode); err != nil {
		return nil, fmt.Errorf("failed to query classes: %w", err)
	}
	return classes, nil
}

// Close releases the connection pool.
func (l *SQLLoader) Close() error {
	return l.db.Close()
}
