package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/amanthanvi/rollbook/internal/storage"
	"github.com/spf13/cobra"
)

func newStudentCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "student",
		Short: "Student management (every change is written to the audit log)",
	}
	cmd.AddCommand(
		newStudentAddCommand(deps),
		newStudentListCommand(deps),
		newStudentSearchCommand(deps),
		newStudentShowCommand(deps),
		newStudentEditCommand(deps),
		newStudentRemoveCommand(deps),
	)
	return cmd
}

type studentFlags struct {
	number    string
	firstName string
	lastName  string
	email     string
	courseID  int64
	noCourse  bool
}

func (f *studentFlags) register(cmd *cobra.Command, withClear bool) {
	cmd.Flags().StringVar(&f.number, "no", "", "Student number (unique)")
	cmd.Flags().StringVar(&f.firstName, "first", "", "First name")
	cmd.Flags().StringVar(&f.lastName, "last", "", "Last name")
	cmd.Flags().StringVar(&f.email, "email", "", "Email address (unique)")
	cmd.Flags().Int64Var(&f.courseID, "course-id", 0, "Assigned course id")
	if withClear {
		cmd.Flags().BoolVar(&f.noCourse, "no-course", false, "Clear the assigned course")
	}
}

// apply overlays the flags set on the command onto base, trimming text flags.
func (f *studentFlags) apply(cmd *cobra.Command, base storage.StudentInput) (storage.StudentInput, error) {
	if cmd.Flags().Changed("no") {
		base.StudentNo = strings.TrimSpace(f.number)
	}
	if cmd.Flags().Changed("first") {
		base.FirstName = strings.TrimSpace(f.firstName)
	}
	if cmd.Flags().Changed("last") {
		base.LastName = strings.TrimSpace(f.lastName)
	}
	if cmd.Flags().Changed("email") {
		base.Email = strings.TrimSpace(f.email)
	}
	if cmd.Flags().Changed("course-id") {
		if f.noCourse {
			return storage.StudentInput{}, usageErrorf("--course-id and --no-course are mutually exclusive")
		}
		if f.courseID <= 0 {
			return storage.StudentInput{}, usageErrorf("--course-id must be a positive integer")
		}
		id := f.courseID
		base.CourseID = &id
	}
	if f.noCourse {
		base.CourseID = nil
	}
	return base, nil
}

func newStudentAddCommand(deps commandDeps) *cobra.Command {
	var flags studentFlags

	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Add a student",
		Example: "  rollbook student add --no S1001 --first John --last Doe --email john@test.edu --course-id 1",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := noArgs("student add", args); err != nil {
				return err
			}
			for _, name := range []string{"no", "first", "last", "email"} {
				if !cmd.Flags().Changed(name) {
					return usageErrorf("student add requires --%s", name)
				}
			}
			in, err := flags.apply(cmd, storage.StudentInput{})
			if err != nil {
				return err
			}

			return withStore(cmd.Context(), deps, func(ctx context.Context, s *session) error {
				id, err := s.store.Students.Add(ctx, in)
				if err != nil {
					return err
				}
				return printStudentDetail(ctx, deps, s, id)
			})
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newStudentListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List students with their course",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := noArgs("student ls", args); err != nil {
				return err
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, s *session) error {
				listings, err := s.store.Students.GetAll(ctx)
				if err != nil {
					return err
				}
				return printStudentList(deps, listings)
			})
		},
	}
}

func newStudentSearchCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "search <term>",
		Short: "Find students whose number, name or email contains term",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOneArg("student search", args, "term"); err != nil {
				return err
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, s *session) error {
				listings, err := s.store.Students.Search(ctx, args[0])
				if err != nil {
					return err
				}
				return printStudentList(deps, listings)
			})
		},
	}
}

func newStudentShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one student",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOneArg("student show", args, "id"); err != nil {
				return err
			}
			id, err := parseID("student show", args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, s *session) error {
				return printStudentDetail(ctx, deps, s, id)
			})
		},
	}
}

func newStudentEditCommand(deps commandDeps) *cobra.Command {
	var flags studentFlags

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Replace student fields; unset flags keep their current value",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOneArg("student edit", args, "id"); err != nil {
				return err
			}
			id, err := parseID("student edit", args[0])
			if err != nil {
				return err
			}

			return withStore(cmd.Context(), deps, func(ctx context.Context, s *session) error {
				base := storage.StudentInput{}
				current, err := s.store.Students.GetByID(ctx, id)
				switch {
				case err == nil:
					base = storage.StudentInput{
						StudentNo: current.StudentNo,
						FirstName: current.FirstName,
						LastName:  current.LastName,
						Email:     current.Email,
						CourseID:  current.CourseID,
					}
				case !errors.Is(err, storage.ErrNotFound):
					return err
				}

				in, err := flags.apply(cmd, base)
				if err != nil {
					return err
				}
				if err := s.store.Students.Update(ctx, id, in); err != nil {
					return err
				}
				return printMutation(deps, "updated", "student", id)
			})
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newStudentRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a student",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOneArg("student rm", args, "id"); err != nil {
				return err
			}
			id, err := parseID("student rm", args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, s *session) error {
				if err := s.store.Students.Delete(ctx, id); err != nil {
					return err
				}
				return printMutation(deps, "deleted", "student", id)
			})
		},
	}
}

type studentDetail struct {
	*storage.Student
	Course string `json:"course"`
}

func printStudentDetail(ctx context.Context, deps commandDeps, s *session, id int64) error {
	student, err := s.store.Students.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("student %d: %w", id, err)
		}
		return err
	}

	detail := studentDetail{Student: student}
	if student.CourseID != nil {
		detail.Course, err = s.store.Students.CourseName(ctx, *student.CourseID)
		if err != nil {
			return err
		}
	}

	if deps.globals.JSON {
		return printJSON(deps.out, detail)
	}
	if deps.globals.Quiet {
		return nil
	}
	_, err = fmt.Fprintf(
		deps.out,
		"%d %s %q email=%s course=%s\n",
		student.ID,
		student.StudentNo,
		student.FirstName+" "+student.LastName,
		student.Email,
		courseLabel(student.CourseID, detail.Course),
	)
	return err
}

func printStudentList(deps commandDeps, listings []storage.StudentListing) error {
	if deps.globals.JSON {
		return printJSON(deps.out, listings)
	}
	if deps.globals.Quiet {
		return nil
	}
	for _, listing := range listings {
		name := ""
		if listing.Course != nil {
			name = *listing.Course
		}
		if _, err := fmt.Fprintf(
			deps.out,
			"%d %s %q email=%s course=%s\n",
			listing.ID,
			listing.StudentNo,
			listing.Name,
			listing.Email,
			courseLabel(listing.CourseID, name),
		); err != nil {
			return err
		}
	}
	return nil
}

// courseLabel renders "-" for no course and "#id?" for a reference that does
// not resolve.
func courseLabel(courseID *int64, name string) string {
	switch {
	case courseID == nil:
		return "-"
	case name == "":
		return "#" + strconv.FormatInt(*courseID, 10) + "?"
	default:
		return strconv.Quote(strings.TrimSpace(name))
	}
}
