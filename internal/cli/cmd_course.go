package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amanthanvi/rollbook/internal/storage"
	"github.com/spf13/cobra"
)

func newCourseCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "course",
		Short: "Course management",
	}
	cmd.AddCommand(
		newCourseAddCommand(deps),
		newCourseListCommand(deps),
		newCourseSearchCommand(deps),
		newCourseShowCommand(deps),
		newCourseEditCommand(deps),
		newCourseRemoveCommand(deps),
	)
	return cmd
}

type courseFlags struct {
	code     string
	name     string
	lecturer string
	credits  string
}

func (f *courseFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.code, "code", "", "Course code (unique)")
	cmd.Flags().StringVar(&f.name, "name", "", "Course name")
	cmd.Flags().StringVar(&f.lecturer, "lecturer", "", "Lecturer name")
	cmd.Flags().StringVar(&f.credits, "credits", "", "Credit count (whole number)")
}

// apply overlays the flags set on the command onto base. Text flags are
// trimmed; the store keeps whatever it is given.
func (f *courseFlags) apply(cmd *cobra.Command, base storage.CourseInput) (storage.CourseInput, error) {
	if cmd.Flags().Changed("code") {
		base.Code = strings.TrimSpace(f.code)
	}
	if cmd.Flags().Changed("name") {
		base.Name = strings.TrimSpace(f.name)
	}
	if cmd.Flags().Changed("lecturer") {
		base.Lecturer = strings.TrimSpace(f.lecturer)
	}
	if cmd.Flags().Changed("credits") {
		credits, err := storage.ParseCredits(f.credits)
		if err != nil {
			return storage.CourseInput{}, err
		}
		base.Credits = credits
	}
	return base, nil
}

func newCourseAddCommand(deps commandDeps) *cobra.Command {
	var flags courseFlags

	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Add a course",
		Example: "  rollbook course add --code CS101 --name \"Computer Science\" --lecturer \"Dr. Smith\" --credits 3",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := noArgs("course add", args); err != nil {
				return err
			}
			for _, name := range []string{"code", "name", "lecturer", "credits"} {
				if !cmd.Flags().Changed(name) {
					return usageErrorf("course add requires --%s", name)
				}
			}
			in, err := flags.apply(cmd, storage.CourseInput{})
			if err != nil {
				return mapCommandError(err)
			}

			return withStore(cmd.Context(), deps, func(ctx context.Context, s *session) error {
				id, err := s.store.Courses.Add(ctx, in)
				if err != nil {
					return err
				}
				course, err := s.store.Courses.GetByID(ctx, id)
				if err != nil {
					return err
				}
				return printCourseOutput(deps, course)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newCourseListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List courses",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := noArgs("course ls", args); err != nil {
				return err
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, s *session) error {
				courses, err := s.store.Courses.GetAll(ctx)
				if err != nil {
					return err
				}
				return printCourseList(deps, courses)
			})
		},
	}
}

func newCourseSearchCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "search <term>",
		Short: "Find courses whose code, name or lecturer contains term",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOneArg("course search", args, "term"); err != nil {
				return err
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, s *session) error {
				courses, err := s.store.Courses.Search(ctx, args[0])
				if err != nil {
					return err
				}
				return printCourseList(deps, courses)
			})
		},
	}
}

func newCourseShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one course",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOneArg("course show", args, "id"); err != nil {
				return err
			}
			id, err := parseID("course show", args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, s *session) error {
				course, err := s.store.Courses.GetByID(ctx, id)
				if err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return fmt.Errorf("course %d: %w", id, err)
					}
					return err
				}
				return printCourseOutput(deps, course)
			})
		},
	}
}

func newCourseEditCommand(deps commandDeps) *cobra.Command {
	var flags courseFlags

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Replace course fields; unset flags keep their current value",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOneArg("course edit", args, "id"); err != nil {
				return err
			}
			id, err := parseID("course edit", args[0])
			if err != nil {
				return err
			}

			return withStore(cmd.Context(), deps, func(ctx context.Context, s *session) error {
				base := storage.CourseInput{}
				current, err := s.store.Courses.GetByID(ctx, id)
				switch {
				case err == nil:
					base = storage.CourseInput{Code: current.Code, Name: current.Name, Lecturer: current.Lecturer, Credits: current.Credits}
				case !errors.Is(err, storage.ErrNotFound):
					return err
				}

				in, err := flags.apply(cmd, base)
				if err != nil {
					return err
				}
				if err := s.store.Courses.Update(ctx, id, in); err != nil {
					return err
				}
				return printMutation(deps, "updated", "course", id)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newCourseRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a course",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOneArg("course rm", args, "id"); err != nil {
				return err
			}
			id, err := parseID("course rm", args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, s *session) error {
				if err := s.store.Courses.Delete(ctx, id); err != nil {
					return err
				}
				return printMutation(deps, "deleted", "course", id)
			})
		},
	}
}

func printCourseOutput(deps commandDeps, course *storage.Course) error {
	if deps.globals.JSON {
		return printJSON(deps.out, course)
	}
	if deps.globals.Quiet {
		return nil
	}
	return writeCourseLine(deps, *course)
}

func printCourseList(deps commandDeps, courses []storage.Course) error {
	if deps.globals.JSON {
		return printJSON(deps.out, courses)
	}
	if deps.globals.Quiet {
		return nil
	}
	for _, course := range courses {
		if err := writeCourseLine(deps, course); err != nil {
			return err
		}
	}
	return nil
}

func writeCourseLine(deps commandDeps, course storage.Course) error {
	_, err := fmt.Fprintf(
		deps.out,
		"%d %s %q lecturer=%q credits=%d\n",
		course.ID,
		course.Code,
		course.Name,
		course.Lecturer,
		course.Credits,
	)
	return err
}
