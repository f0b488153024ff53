// Package storage owns the SQLite connection for course and student records
// and provides the repositories built on top of it.
package storage
