package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type GlobalOptions struct {
	JSON       bool
	Quiet      bool
	Yes        bool
	ConfigPath string
	DBPath     string
	AuditLog   string
}

type commandDeps struct {
	out     io.Writer
	logOut  io.Writer
	build   BuildInfo
	globals *GlobalOptions
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	globals := &GlobalOptions{}
	deps := commandDeps{
		out:     out,
		logOut:  os.Stderr,
		build:   build,
		globals: globals,
	}

	cmd := &cobra.Command{
		Use:           "rollbook",
		Short:         "Course and student records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolVar(&globals.JSON, "json", false, "Print machine-readable JSON")
	flags.BoolVar(&globals.Quiet, "quiet", false, "Suppress non-essential output")
	flags.BoolVar(&globals.Yes, "yes", false, "Assume yes for overwrite prompts")
	flags.StringVar(&globals.ConfigPath, "config", "", "Config file path (default $ROLLBOOK_HOME/rollbook.toml)")
	flags.StringVar(&globals.DBPath, "db", "", "Database file path")
	flags.StringVar(&globals.AuditLog, "audit-log", "", "Student audit log path")

	cmd.AddCommand(
		newVersionCommand(deps),
		newInitCommand(deps),
		newCourseCommand(deps),
		newStudentCommand(deps),
		newDoctorCommand(deps),
	)
	cmd.InitDefaultCompletionCmd()
	return cmd
}
