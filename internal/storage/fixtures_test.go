package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixtureIDs struct {
	Courses  []int64
	Students []int64
}

var fixtureCourses = []CourseInput{
	{Code: "TEST101", Name: "Test Programming", Lecturer: "Dr. Test", Credits: 3},
	{Code: "TEST201", Name: "Test Mathematics", Lecturer: "Prof. Test", Credits: 4},
	{Code: "TEST301", Name: "Test Physics", Lecturer: "Dr. Test", Credits: 3},
}

// seedFixtures loads three courses and three students. Students one and three
// take the first course, student two takes the second.
func seedFixtures(t *testing.T, store *Store) fixtureIDs {
	t.Helper()
	ctx := context.Background()

	var ids fixtureIDs
	for _, in := range fixtureCourses {
		id, err := store.Courses.Add(ctx, in)
		require.NoError(t, err)
		ids.Courses = append(ids.Courses, id)
	}

	students := []StudentInput{
		{StudentNo: "S1001", FirstName: "John", LastName: "Doe", Email: "john.doe@email.com", CourseID: ptr(ids.Courses[0])},
		{StudentNo: "S1002", FirstName: "Jane", LastName: "Smith", Email: "jane.smith@email.com", CourseID: ptr(ids.Courses[1])},
		{StudentNo: "S1003", FirstName: "Bob", LastName: "Johnson", Email: "bob.johnson@email.com", CourseID: ptr(ids.Courses[0])},
	}
	for _, in := range students {
		id, err := store.Students.Add(ctx, in)
		require.NoError(t, err)
		ids.Students = append(ids.Students, id)
	}
	return ids
}

func ptr[T any](v T) *T {
	return &v
}
