package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/amanthanvi/rollbook/internal/audit"
)

const (
	selectStudent = `SELECT id, student_no, first_name, last_name, email, course_id FROM students`

	selectStudentListings = `
		SELECT s.id, s.student_no, s.first_name, s.last_name, s.email, s.course_id, c.course_name
		FROM students s
		LEFT JOIN courses c ON c.id = s.course_id
	`
)

type studentRepository struct {
	store *Store
	audit audit.Recorder
}

// Add inserts a student and records an ADD audit event. If the audit append
// fails the row is already committed: the new id is returned together with
// the error.
func (r *studentRepository) Add(ctx context.Context, in StudentInput) (int64, error) {
	if err := validateInput(in); err != nil {
		return 0, fmt.Errorf("add student: %w", err)
	}

	res, err := r.store.Execute(ctx, `
		INSERT INTO students(student_no, first_name, last_name, email, course_id)
		VALUES(?, ?, ?, ?, ?)
	`, in.StudentNo, in.FirstName, in.LastName, in.Email, nullableID(in.CourseID))
	if err != nil {
		return 0, fmt.Errorf("add student: %w", err)
	}

	if err := r.record(ctx, audit.ActionAdd, res.LastInsertID, []audit.Field{
		{Key: "student_no", Value: in.StudentNo},
		{Key: "first_name", Value: in.FirstName},
		{Key: "last_name", Value: in.LastName},
		{Key: "email", Value: in.Email},
		{Key: "course_id", Value: in.CourseID},
	}); err != nil {
		return res.LastInsertID, fmt.Errorf("add student: %w", err)
	}
	return res.LastInsertID, nil
}

// Update replaces every field of the student with the given id and records
// an UPDATE audit event. An id that matches no row is not an error.
func (r *studentRepository) Update(ctx context.Context, id int64, in StudentInput) error {
	if err := validateInput(in); err != nil {
		return fmt.Errorf("update student: %w", err)
	}

	_, err := r.store.Execute(ctx, `
		UPDATE students
		SET student_no = ?, first_name = ?, last_name = ?, email = ?, course_id = ?
		WHERE id = ?
	`, in.StudentNo, in.FirstName, in.LastName, in.Email, nullableID(in.CourseID), id)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}

	if err := r.record(ctx, audit.ActionUpdate, id, []audit.Field{
		{Key: "id", Value: id},
		{Key: "student_no", Value: in.StudentNo},
		{Key: "first_name", Value: in.FirstName},
		{Key: "last_name", Value: in.LastName},
		{Key: "email", Value: in.Email},
		{Key: "course_id", Value: in.CourseID},
	}); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes the student with the given id. The row is read first so the
// DELETE audit event carries what was removed; when no row matches, nothing
// is recorded.
func (r *studentRepository) Delete(ctx context.Context, id int64) error {
	snapshot, err := r.GetByID(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete student: load snapshot: %w", err)
	}

	if _, err := r.store.Execute(ctx, `DELETE FROM students WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if snapshot == nil {
		return nil
	}

	if err := r.record(ctx, audit.ActionDelete, id, []audit.Field{
		{Key: "id", Value: id},
		{Key: "student_no", Value: snapshot.StudentNo},
		{Key: "first_name", Value: snapshot.FirstName},
		{Key: "last_name", Value: snapshot.LastName},
		{Key: "email", Value: snapshot.Email},
		{Key: "course_id", Value: snapshot.CourseID},
	}); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return nil
}

func (r *studentRepository) GetAll(ctx context.Context) ([]StudentListing, error) {
	listings, err := QueryAll(ctx, r.store, scanStudentListing, selectStudentListings+` ORDER BY s.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return listings, nil
}

func (r *studentRepository) Search(ctx context.Context, term string) ([]StudentListing, error) {
	pattern := containsPattern(term)
	listings, err := QueryAll(ctx, r.store, scanStudentListing, selectStudentListings+`
		WHERE s.student_no LIKE ? ESCAPE '\'
			OR s.first_name LIKE ? ESCAPE '\'
			OR s.last_name LIKE ? ESCAPE '\'
			OR s.email LIKE ? ESCAPE '\'
		ORDER BY s.id ASC
	`, pattern, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search students: %w", err)
	}
	return listings, nil
}

func (r *studentRepository) GetByID(ctx context.Context, id int64) (*Student, error) {
	student, err := QueryOne(ctx, r.store, scanStudent, selectStudent+` WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &student, nil
}

// CourseName returns the display name of a course, or "" when the id does
// not resolve.
func (r *studentRepository) CourseName(ctx context.Context, courseID int64) (string, error) {
	name, err := QueryOne(ctx, r.store, func(scanner RowScanner) (string, error) {
		var name string
		err := scanner.Scan(&name)
		return name, err
	}, `SELECT course_name FROM courses WHERE id = ?`, courseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("course name: %w", err)
	}
	return name, nil
}

func (r *studentRepository) record(ctx context.Context, action string, studentID int64, fields []audit.Field) error {
	if err := r.audit.Record(ctx, audit.Event{Action: action, Fields: fields}); err != nil {
		attrs := make([]any, 0, len(fields))
		for _, field := range fields {
			attrs = append(attrs, slog.Any(field.Key, field.Value))
		}
		r.store.logger.Warn("audit append failed after committed write",
			"action", action,
			"student_id", studentID,
			slog.Group("fields", attrs...),
			"error", err,
		)
		return err
	}
	return nil
}

func scanStudent(scanner RowScanner) (Student, error) {
	var (
		student  Student
		courseID sql.NullInt64
	)
	if err := scanner.Scan(&student.ID, &student.StudentNo, &student.FirstName, &student.LastName, &student.Email, &courseID); err != nil {
		return Student{}, err
	}
	student.CourseID = idPointer(courseID)
	return student, nil
}

func scanStudentListing(scanner RowScanner) (StudentListing, error) {
	var (
		listing    StudentListing
		firstName  string
		lastName   string
		courseID   sql.NullInt64
		courseName sql.NullString
	)
	if err := scanner.Scan(&listing.ID, &listing.StudentNo, &firstName, &lastName, &listing.Email, &courseID, &courseName); err != nil {
		return StudentListing{}, err
	}
	listing.Name = firstName + " " + lastName
	listing.CourseID = idPointer(courseID)
	listing.Course = stringPointer(courseName)
	return listing, nil
}
