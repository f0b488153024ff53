package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/amanthanvi/rollbook/internal/config"
	"github.com/amanthanvi/rollbook/internal/debug"
	"github.com/amanthanvi/rollbook/internal/storage"
	"github.com/spf13/cobra"
)

func newDoctorCommand(deps commandDeps) *cobra.Command {
	var bundlePath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, audit log and database health",
		Example: "  rollbook doctor\n" +
			"  rollbook doctor --bundle rollbook-debug.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := noArgs("doctor", args); err != nil {
				return err
			}

			bundle := runDoctorChecks(cmd.Context(), deps)

			if path := strings.TrimSpace(bundlePath); path != "" {
				if err := debug.WriteBundle(path, bundle); err != nil {
					return mapCommandError(err)
				}
			}

			if deps.globals.JSON {
				if err := printJSON(deps.out, bundle); err != nil {
					return mapCommandError(err)
				}
			} else if !deps.globals.Quiet {
				for _, check := range bundle.Checks {
					state := "ok"
					if !check.OK {
						state = "fail"
					}
					if _, err := fmt.Fprintf(deps.out, "%s: %s (%s)\n", check.Name, state, check.Message); err != nil {
						return mapCommandError(err)
					}
				}
			}

			if !bundle.Healthy() {
				return asExitError(ExitCodeGeneric, fmt.Errorf("doctor: one or more checks failed"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "Also write the report as a JSON debug bundle to this path")
	return cmd
}

// runDoctorChecks stops at the first failing stage since later checks
// depend on the resolved config.
func runDoctorChecks(ctx context.Context, deps commandDeps) debug.Bundle {
	bundle := debug.NewBundle()
	bundle.Version = map[string]any{
		"version":    deps.build.Version,
		"commit":     deps.build.Commit,
		"build_time": deps.build.BuildTime,
	}

	cfg, report, err := loadConfig(deps)
	bundle.AddCheck("config", err, configMessage(report))
	if err != nil {
		return bundle
	}

	bundle.AddCheck("audit_log", checkAuditLog(cfg), cfg.Audit.File)

	stats, err := checkDatabase(ctx, cfg)
	bundle.Storage = stats
	bundle.AddCheck("database", err, fmt.Sprintf("%s (schema version %v)", cfg.Storage.Path, stats["schema_version"]))
	return bundle
}

func configMessage(report config.LoadReport) string {
	if !report.FileFound {
		return "defaults (no file at " + report.ConfigFile + ")"
	}
	return report.ConfigFile
}

// checkAuditLog confirms the audit log exists and accepts appends. It never
// creates the file or its directory.
func checkAuditLog(cfg config.Config) error {
	if err := requireExisting(cfg.Audit.File); err != nil {
		return err
	}
	f, err := os.OpenFile(cfg.Audit.File, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	return f.Close()
}

// checkDatabase opens an existing database read-only; a missing file or an
// unmigrated schema is reported, not repaired.
func checkDatabase(ctx context.Context, cfg config.Config) (map[string]any, error) {
	stats := map[string]any{
		"path":                     cfg.Storage.Path,
		"enforce_course_reference": cfg.Storage.EnforceCourseReference,
	}
	if err := requireExisting(cfg.Storage.Path); err != nil {
		return stats, err
	}

	store, err := storage.Open(cfg.Storage.Path, storage.Options{
		EnforceCourseReference: cfg.Storage.EnforceCourseReference,
		ReadOnly:               true,
	})
	if err != nil {
		return stats, err
	}
	defer store.Close()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return stats, err
	}
	stats["schema_version"] = version
	if version < storage.CurrentSchemaVersion() {
		return stats, fmt.Errorf("schema version %d, want %d (run rollbook init)", version, storage.CurrentSchemaVersion())
	}

	courses, err := store.Courses.GetAll(ctx)
	if err != nil {
		return stats, err
	}
	stats["courses"] = len(courses)

	students, err := store.Students.GetAll(ctx)
	if err != nil {
		return stats, err
	}
	stats["students"] = len(students)
	return stats, nil
}

func requireExisting(path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("missing: %s (run rollbook init)", path)
	case err != nil:
		return err
	case info.IsDir():
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
