package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amanthanvi/rollbook/internal/audit"
	"github.com/amanthanvi/rollbook/internal/config"
	"github.com/amanthanvi/rollbook/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	out, err := runCLI(t, "", "version")
	require.NoError(t, err)
	require.Contains(t, out, "version=1.2.3")
	require.Contains(t, out, "commit=abc123")
	require.Contains(t, out, "build_time=2026-02-19T00:00:00Z")
}

func TestVersionCommandOutputsJSON(t *testing.T) {
	out, err := runCLI(t, "", "--json", "version")
	require.NoError(t, err)

	var payload BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, "1.2.3", payload.Version)
	require.Equal(t, "abc123", payload.Commit)
}

func TestRootHasRequiredGlobalFlags(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())

	for _, name := range []string{"json", "quiet", "yes", "config", "db", "audit-log"} {
		require.NotNilf(t, cmd.PersistentFlags().Lookup(name), "missing flag %q", name)
	}
}

func TestRootHasTopLevelCommands(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())

	for _, path := range [][]string{
		{"init"}, {"version"}, {"doctor"},
		{"course", "add"}, {"course", "ls"}, {"course", "search"}, {"course", "show"}, {"course", "edit"}, {"course", "rm"},
		{"student", "add"}, {"student", "ls"}, {"student", "search"}, {"student", "show"}, {"student", "edit"}, {"student", "rm"},
	} {
		found, _, err := cmd.Find(path)
		require.NoErrorf(t, err, "expected command %v", path)
		require.Equal(t, path[len(path)-1], found.Name())
	}
}

func TestUnknownFlagReturnsUsageError(t *testing.T) {
	_, err := runCLI(t, "", "--no-such-flag")
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestInitCreatesDatabaseAuditLogAndConfig(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("init")
	require.NoError(t, err)
	require.Contains(t, out, "initialized database")

	for _, path := range []string{env.dbPath, env.auditPath, env.configPath} {
		_, err := os.Stat(path)
		require.NoErrorf(t, err, "expected %s", path)
	}

	cfg, _, err := config.Load(config.LoadOptions{ConfigPath: env.configPath, Env: map[string]string{"ROLLBOOK_HOME": env.dir}})
	require.NoError(t, err)
	require.Equal(t, env.dbPath, cfg.Storage.Path)
	require.Equal(t, env.auditPath, cfg.Audit.File)
}

func TestInitRefusesOverwriteWithoutYes(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("init")
	require.NoError(t, err)

	_, err = env.run("init")
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))

	out, err := env.run("--yes", "--json", "init")
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, true, payload["initialized"])
	require.Equal(t, float64(storage.CurrentSchemaVersion()), payload["schema_version"])
}

func TestCourseLifecycle(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("--json", "course", "add", "--code", "CS101", "--name", "Computer Science", "--lecturer", "Dr. Smith", "--credits", " 3 ")
	require.NoError(t, err)
	var added storage.Course
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	require.Equal(t, "CS101", added.Code)
	require.Equal(t, 3, added.Credits)
	id := fmt.Sprint(added.ID)

	_, err = env.run("course", "add", "--code", "MATH101", "--name", "Mathematics", "--lecturer", "Dr. Johnson", "--credits", "4")
	require.NoError(t, err)

	out, err = env.run("course", "ls")
	require.NoError(t, err)
	require.Contains(t, out, `CS101 "Computer Science" lecturer="Dr. Smith" credits=3`)
	require.Contains(t, out, "MATH101")

	out, err = env.run("--json", "course", "search", "math")
	require.NoError(t, err)
	var found []storage.Course
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)
	require.Equal(t, "MATH101", found[0].Code)

	out, err = env.run("--json", "course", "edit", id, "--credits", "5")
	require.NoError(t, err)
	require.JSONEq(t, fmt.Sprintf(`{"id": %s, "updated": true}`, id), out)

	out, err = env.run("--json", "course", "show", id)
	require.NoError(t, err)
	var shown storage.Course
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Equal(t, 5, shown.Credits)
	require.Equal(t, "Computer Science", shown.Name)

	out, err = env.run("course", "rm", id)
	require.NoError(t, err)
	require.Equal(t, "deleted course "+id+"\n", out)

	_, err = env.run("course", "show", id)
	require.Error(t, err)
	require.Equal(t, ExitCodeNotFound, exitCode(err))
}

func TestCourseAddErrors(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("course", "add", "--code", "CS101", "--name", "Computer Science", "--lecturer", "Dr. Smith")
	require.Equal(t, ExitCodeUsage, exitCode(err))

	_, err = env.run("course", "add", "--code", "CS101", "--name", "Computer Science", "--lecturer", "Dr. Smith", "--credits", "three")
	require.Equal(t, ExitCodeUsage, exitCode(err))
	require.ErrorIs(t, err, storage.ErrValidation)

	_, err = env.run("course", "add", "--code", "CS101", "--name", "Computer Science", "--lecturer", "Dr. Smith", "--credits", "3")
	require.NoError(t, err)

	_, err = env.run("course", "add", "--code", "CS101", "--name", "Again", "--lecturer", "Dr. Smith", "--credits", "3")
	require.Equal(t, ExitCodeConflict, exitCode(err))
	require.ErrorIs(t, err, storage.ErrUniqueViolation)

	_, err = env.run("course", "show", "abc")
	require.Equal(t, ExitCodeUsage, exitCode(err))

	_, err = env.run("course", "search")
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestCourseAndStudentFlagsAreTrimmed(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("--json", "course", "add", "--code", " CS102 ", "--name", "Data Structures\t", "--lecturer", " Dr. Lee", "--credits", "120")
	require.NoError(t, err)
	var course storage.Course
	require.NoError(t, json.Unmarshal([]byte(out), &course))
	require.Equal(t, "CS102", course.Code)
	require.Equal(t, "Data Structures", course.Name)
	require.Equal(t, "Dr. Lee", course.Lecturer)
	require.Equal(t, 120, course.Credits)

	out, err = env.run("--json", "student", "add", "--no", " S1 ", "--first", "Ann ", "--last", " Lee", "--email", " ann.lee ")
	require.NoError(t, err)
	var detail map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	require.Equal(t, "S1", detail["student_no"])
	require.Equal(t, "Ann", detail["first_name"])
	require.Equal(t, "ann.lee", detail["email"])
}

func TestEditAndRemoveMissingIDSucceed(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("course", "rm", "42")
	require.NoError(t, err)
	require.Equal(t, "deleted course 42\n", out)

	out, err = env.run("course", "edit", "42", "--code", "X1", "--name", "X", "--lecturer", "Y", "--credits", "1")
	require.NoError(t, err)
	require.Equal(t, "updated course 42\n", out)

	out, err = env.run("student", "rm", "42")
	require.NoError(t, err)
	require.Equal(t, "deleted student 42\n", out)
	require.Empty(t, env.auditLines(t))

	out, err = env.run("--json", "course", "ls")
	require.NoError(t, err)
	require.JSONEq(t, `[]`, out)
}

func TestStudentScenarioWritesAuditTrail(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("course", "add", "--code", "CS101", "--name", "Computer Science", "--lecturer", "Dr. Smith", "--credits", "3")
	require.NoError(t, err)

	out, err := env.run("--json", "student", "add", "--no", "S1001", "--first", "John", "--last", "Doe", "--email", "john@test.edu", "--course-id", "1")
	require.NoError(t, err)
	var detail map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	require.Equal(t, "S1001", detail["student_no"])
	require.Equal(t, "Computer Science", detail["course"])
	id := fmt.Sprint(detail["id"])

	out, err = env.run("--json", "student", "ls")
	require.NoError(t, err)
	var listings []storage.StudentListing
	require.NoError(t, json.Unmarshal([]byte(out), &listings))
	require.Len(t, listings, 1)
	require.Equal(t, "John Doe", listings[0].Name)
	require.Equal(t, "Computer Science", *listings[0].Course)

	_, err = env.run("student", "edit", id, "--last", "Smith")
	require.NoError(t, err)

	out, err = env.run("student", "ls")
	require.NoError(t, err)
	require.Contains(t, out, `S1001 "John Smith" email=john@test.edu course="Computer Science"`)

	_, err = env.run("student", "rm", id)
	require.NoError(t, err)

	out, err = env.run("--json", "student", "ls")
	require.NoError(t, err)
	require.JSONEq(t, `[]`, out)

	lines := env.auditLines(t)
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], " | ADD | {'student_no': 'S1001', 'first_name': 'John', 'last_name': 'Doe'")
	require.Contains(t, lines[1], " | UPDATE | {'id': "+id+", 'student_no': 'S1001', 'first_name': 'John', 'last_name': 'Smith'")
	require.Contains(t, lines[2], " | DELETE | {'id': "+id+", 'student_no': 'S1001'")
}

func TestStudentCommandsErrors(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("student", "add", "--no", "S1", "--first", "A", "--last", "B", "--email", "   ")
	require.Equal(t, ExitCodeUsage, exitCode(err))

	_, err = env.run("student", "add", "--no", "S1", "--first", "A", "--last", "B")
	require.Equal(t, ExitCodeUsage, exitCode(err))

	_, err = env.run("student", "add", "--no", "S1", "--first", "A", "--last", "B", "--email", "a@b.edu", "--course-id", "0")
	require.Equal(t, ExitCodeUsage, exitCode(err))

	_, err = env.run("student", "add", "--no", "S1", "--first", "A", "--last", "B", "--email", "a@b.edu")
	require.NoError(t, err)

	_, err = env.run("student", "add", "--no", "S2", "--first", "C", "--last", "D", "--email", "a@b.edu")
	require.Equal(t, ExitCodeConflict, exitCode(err))

	_, err = env.run("student", "edit", "1", "--course-id", "3", "--no-course")
	require.Equal(t, ExitCodeUsage, exitCode(err))

	_, err = env.run("student", "show", "99")
	require.Equal(t, ExitCodeNotFound, exitCode(err))

	require.Len(t, env.auditLines(t), 1)
}

func TestStudentDanglingCourseIsShownAsUnresolved(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("student", "add", "--no", "S1", "--first", "A", "--last", "B", "--email", "a@b.edu", "--course-id", "7")
	require.NoError(t, err)

	out, err := env.run("student", "show", "1")
	require.NoError(t, err)
	require.Contains(t, out, "course=#7?")

	out, err = env.run("student", "edit", "1", "--no-course")
	require.NoError(t, err)
	require.Equal(t, "updated student 1\n", out)

	out, err = env.run("student", "ls")
	require.NoError(t, err)
	require.Contains(t, out, "course=-")
}

func TestEnforcedCourseReferenceFromConfig(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(env.configPath, []byte("[storage]\nenforce_course_reference = true\n"), 0o600))

	_, err := env.run("student", "add", "--no", "S1", "--first", "A", "--last", "B", "--email", "a@b.edu", "--course-id", "7")
	require.Error(t, err)
	require.Equal(t, ExitCodeConflict, exitCode(err))
	require.ErrorIs(t, err, storage.ErrReferentialGap)
	require.Empty(t, env.auditLines(t))
}

func TestInvalidConfigIsUsageError(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(env.configPath, []byte("[logging]\nlevel = \"chatty\"\n"), 0o600))

	_, err := env.run("course", "ls")
	require.Equal(t, ExitCodeUsage, exitCode(err))
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestQuietSuppressesOutput(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("--quiet", "course", "add", "--code", "CS101", "--name", "Computer Science", "--lecturer", "Dr. Smith", "--credits", "3")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestDoctorReportsHealthyInstallAndWritesBundle(t *testing.T) {
	env := newCLIEnv(t)
	bundlePath := filepath.Join(env.dir, "debug", "bundle.json")

	_, err := env.run("course", "add", "--code", "CS101", "--name", "Computer Science", "--lecturer", "Dr. Smith", "--credits", "3")
	require.NoError(t, err)

	out, err := env.run("doctor", "--bundle", bundlePath)
	require.NoError(t, err)
	require.Contains(t, out, "config: ok (defaults (no file at "+env.configPath+"))")
	require.Contains(t, out, "audit_log: ok ("+env.auditPath+")")
	require.Contains(t, out, fmt.Sprintf("database: ok (%s (schema version %d))", env.dbPath, storage.CurrentSchemaVersion()))

	raw, err := os.ReadFile(bundlePath)
	require.NoError(t, err)
	var bundle struct {
		Version map[string]any `json:"version"`
		Storage map[string]any `json:"storage"`
		Checks  []struct {
			Name string `json:"name"`
			OK   bool   `json:"ok"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(raw, &bundle))
	require.Equal(t, "1.2.3", bundle.Version["version"])
	require.Equal(t, float64(1), bundle.Storage["courses"])
	require.Equal(t, float64(0), bundle.Storage["students"])
	require.Len(t, bundle.Checks, 3)
}

func TestDoctorReportsMissingFilesWithoutCreatingThem(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("doctor")
	require.Error(t, err)
	require.Equal(t, ExitCodeGeneric, exitCode(err))
	require.Contains(t, out, "config: ok")
	require.Contains(t, out, "audit_log: fail (missing: "+env.auditPath)
	require.Contains(t, out, "database: fail (missing: "+env.dbPath)

	for _, path := range []string{env.auditPath, env.dbPath, filepath.Dir(env.auditPath), filepath.Dir(env.dbPath)} {
		_, statErr := os.Stat(path)
		require.ErrorIsf(t, statErr, os.ErrNotExist, "doctor created %s", path)
	}
}

func TestDoctorDoesNotMigrateAnExistingDatabase(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("init")
	require.NoError(t, err)

	store, err := storage.Open(env.dbPath, storage.Options{})
	require.NoError(t, err)
	_, err = store.Execute(context.Background(), `DELETE FROM schema_migrations WHERE version = ?`, storage.CurrentSchemaVersion())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := env.run("doctor")
	require.Error(t, err)
	require.Contains(t, out, "audit_log: ok")
	require.Contains(t, out, fmt.Sprintf("database: fail (schema version %d, want %d", storage.CurrentSchemaVersion()-1, storage.CurrentSchemaVersion()))

	out, err = env.run("doctor")
	require.Error(t, err)
	require.Contains(t, out, "database: fail (schema version")
}

func TestDoctorFailsOnInvalidConfig(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(env.configPath, []byte("[logging]\nmax_size_mb = 0\n"), 0o600))

	out, err := env.run("doctor")
	require.Error(t, err)
	require.Equal(t, ExitCodeGeneric, exitCode(err))
	require.Contains(t, out, "config: fail")
	require.NotContains(t, out, "database:")
}

func TestMapCommandError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("add: %w", storage.ErrValidation), ExitCodeUsage},
		{fmt.Errorf("load: %w", config.ErrInvalidConfig), ExitCodeUsage},
		{storage.ErrNotFound, ExitCodeNotFound},
		{fmt.Errorf("add: %w", storage.ErrUniqueViolation), ExitCodeConflict},
		{storage.ErrReferentialGap, ExitCodeConflict},
		{fmt.Errorf("record: %w", audit.ErrWrite), ExitCodeIO},
		{&fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}, ExitCodeIO},
		{&fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, ExitCodePermission},
		{storage.ErrClosed, ExitCodeGeneric},
		{errors.New("boom"), ExitCodeGeneric},
		{usageErrorf("bad"), ExitCodeUsage},
	}
	for _, tc := range cases {
		require.Equal(t, tc.code, exitCode(mapCommandError(tc.err)), tc.err.Error())
	}
	require.NoError(t, mapCommandError(nil))
}

func TestGenerateManPages(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "man")
	require.NoError(t, GenerateManPages(outDir, testBuildInfo()))

	for _, name := range []string{"rollbook.1", "rollbook-course-add.1", "rollbook-student-rm.1", "rollbook-doctor.1"} {
		_, err := os.Stat(filepath.Join(outDir, name))
		require.NoErrorf(t, err, "expected man page %s", name)
	}
}

type cliEnv struct {
	dir        string
	configPath string
	dbPath     string
	auditPath  string
	t          *testing.T
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	return &cliEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "rollbook.toml"),
		dbPath:     filepath.Join(dir, "data", "database.db"),
		auditPath:  filepath.Join(dir, "logs", "student_audit.log"),
		t:          t,
	}
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	full := append([]string{"--config", e.configPath, "--db", e.dbPath, "--audit-log", e.auditPath}, args...)
	return runCLI(e.t, "", full...)
}

func (e *cliEnv) auditLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(e.auditPath)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}
	}
	require.NoError(t, err)
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return []string{}
	}
	return strings.Split(text, "\n")
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())
	if stdin != "" {
		cmd.SetIn(strings.NewReader(stdin))
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   "1.2.3",
		Commit:    "abc123",
		BuildTime: "2026-02-19T00:00:00Z",
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return withExit.ExitCode()
	}
	return -1
}
