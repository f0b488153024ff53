package storage

import (
	"context"
	"errors"
	"fmt"
)

const selectCourses = `SELECT id, course_code, course_name, lecturer, credits FROM courses`

type courseRepository struct {
	store *Store
}

func (r *courseRepository) Add(ctx context.Context, in CourseInput) (int64, error) {
	if err := validateInput(in); err != nil {
		return 0, fmt.Errorf("add course: %w", err)
	}

	res, err := r.store.Execute(ctx, `
		INSERT INTO courses(course_code, course_name, lecturer, credits)
		VALUES(?, ?, ?, ?)
	`, in.Code, in.Name, in.Lecturer, in.Credits)
	if err != nil {
		return 0, fmt.Errorf("add course: %w", err)
	}
	return res.LastInsertID, nil
}

// Update replaces every field of the course with the given id. An id that
// matches no row is not an error.
func (r *courseRepository) Update(ctx context.Context, id int64, in CourseInput) error {
	if err := validateInput(in); err != nil {
		return fmt.Errorf("update course: %w", err)
	}

	_, err := r.store.Execute(ctx, `
		UPDATE courses
		SET course_code = ?, course_name = ?, lecturer = ?, credits = ?
		WHERE id = ?
	`, in.Code, in.Name, in.Lecturer, in.Credits, id)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

func (r *courseRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.store.Execute(ctx, `DELETE FROM courses WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return nil
}

func (r *courseRepository) GetAll(ctx context.Context) ([]Course, error) {
	courses, err := QueryAll(ctx, r.store, scanCourse, selectCourses+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

func (r *courseRepository) Search(ctx context.Context, term string) ([]Course, error) {
	pattern := containsPattern(term)
	courses, err := QueryAll(ctx, r.store, scanCourse, selectCourses+`
		WHERE course_code LIKE ? ESCAPE '\'
			OR course_name LIKE ? ESCAPE '\'
			OR lecturer LIKE ? ESCAPE '\'
		ORDER BY id ASC
	`, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search courses: %w", err)
	}
	return courses, nil
}

func (r *courseRepository) GetByID(ctx context.Context, id int64) (*Course, error) {
	course, err := QueryOne(ctx, r.store, scanCourse, selectCourses+` WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &course, nil
}

func scanCourse(scanner RowScanner) (Course, error) {
	var course Course
	if err := scanner.Scan(&course.ID, &course.Code, &course.Name, &course.Lecturer, &course.Credits); err != nil {
		return Course{}, err
	}
	return course, nil
}
