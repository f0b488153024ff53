package storage

import "context"

type Course struct {
	ID       int64  `json:"id"`
	Code     string `json:"course_code"`
	Name     string `json:"course_name"`
	Lecturer string `json:"lecturer"`
	Credits  int    `json:"credits"`
}

// CourseInput carries the replaceable fields of a course. Text is stored
// exactly as given; blank text is rejected. Any integer credit count is
// accepted.
type CourseInput struct {
	Code     string `json:"course_code" validate:"required,notblank"`
	Name     string `json:"course_name" validate:"required,notblank"`
	Lecturer string `json:"lecturer" validate:"required,notblank"`
	Credits  int    `json:"credits"`
}

// Student is a stored student row. CourseID is nil when no course is assigned.
type Student struct {
	ID        int64  `json:"id"`
	StudentNo string `json:"student_no"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	CourseID  *int64 `json:"course_id"`
}

// StudentInput carries the replaceable fields of a student. Email is only
// required to be non-blank; its format is not checked.
type StudentInput struct {
	StudentNo string `json:"student_no" validate:"required,notblank"`
	FirstName string `json:"first_name" validate:"required,notblank"`
	LastName  string `json:"last_name" validate:"required,notblank"`
	Email     string `json:"email" validate:"required,notblank"`
	CourseID  *int64 `json:"course_id"`
}

// StudentListing is the read-side view of a student: first and last name
// joined into Name, and the assigned course's display name. Course is nil
// when the student has no course or the reference does not resolve.
type StudentListing struct {
	ID        int64   `json:"id"`
	StudentNo string  `json:"student_no"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	CourseID  *int64  `json:"course_id"`
	Course    *string `json:"course"`
}

type CourseRepository interface {
	Add(ctx context.Context, in CourseInput) (int64, error)
	Update(ctx context.Context, id int64, in CourseInput) error
	Delete(ctx context.Context, id int64) error
	GetAll(ctx context.Context) ([]Course, error)
	Search(ctx context.Context, term string) ([]Course, error)
	GetByID(ctx context.Context, id int64) (*Course, error)
}

type StudentRepository interface {
	Add(ctx context.Context, in StudentInput) (int64, error)
	Update(ctx context.Context, id int64, in StudentInput) error
	Delete(ctx context.Context, id int64) error
	GetAll(ctx context.Context) ([]StudentListing, error)
	Search(ctx context.Context, term string) ([]StudentListing, error)
	GetByID(ctx context.Context, id int64) (*Student, error)
	CourseName(ctx context.Context, courseID int64) (string, error)
}
