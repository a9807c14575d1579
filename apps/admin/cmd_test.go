package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/labtrack/labtrack/core"
	"github.com/labtrack/labtrack/core/audit"
	"github.com/labtrack/labtrack/core/equipment"
	"github.com/labtrack/labtrack/core/session"
	"github.com/labtrack/labtrack/core/student"
	"github.com/labtrack/labtrack/core/subject"
	"github.com/labtrack/labtrack/core/user"
	"github.com/labtrack/labtrack/storage/docstore"
	"github.com/labtrack/labtrack/storage/docstore/inmem"
)

func setup(t *testing.T) *commandLine {
	t.Helper()

	store := inmem.NewStore()
	t.Cleanup(func() { _ = store.Close() })

	usrRepo := docstore.NewUserRepository(store)
	usrSvc := user.NewService(usrRepo)
	stdSvc := student.NewService(docstore.NewStudentRepository(store))
	subSvc := subject.NewService(docstore.NewSubjectRepository(store))
	eqSvc := equipment.NewService(docstore.NewEquipmentRepository(store))
	auditSvc := audit.NewService(docstore.NewAuditRepository(store))
	logger := core.StdLogger{Std: log.New(io.Discard, "", 0)}
	sessSvc := session.NewService(
		docstore.NewSessionRepository(store),
		stdSvc, subSvc, eqSvc, usrSvc, auditSvc, nil /* mailSvc */, logger,
	)

	return &commandLine{
		usrRepo: usrRepo,
		stdSvc:  stdSvc,
		sessSvc: sessSvc,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
}

func runCliTests(t *testing.T, cli *commandLine, tests []cliTest) {
	t.Helper()

	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if err.Error() != tt.wantErrStr {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			} else if tt.wantErr != nil || tt.wantErrStr != "" {
				t.Errorf("cli.run() error = nil, want %v%s", tt.wantErr, tt.wantErrStr)
			}
		})
	}
}

func Test_commandLine_run(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no subcommand", args: []string{}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"lol"}, wantErr: errHelp},
	}
	runCliTests(t, cli, tests)
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)

	readPasswordFunc = func(fd int) ([]byte, error) { return []byte("LePassword007!"), nil }

	tests := []cliTest{
		{name: "missing flags", args: []string{"adduser"}, wantErr: errHelp},
		{name: "missing email", args: []string{"adduser", "-username", "ghopper"}, wantErr: errHelp},
		{name: "ok", args: []string{"adduser", "-username", "ghopper", "-email", "ghopper@test.lab"}},
		{name: "ok admin", args: []string{"adduser", "-username", "root", "-email", "root@test.lab", "-admin"}},
		{name: "ok existing", args: []string{"adduser", "-username", "ghopper", "-email", "ghopper@test.lab"}},
	}
	runCliTests(t, cli, tests)

	ctx := context.Background()

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: "ghopper"})
	if err != nil {
		t.Fatalf("GetUser() failed: %v", err)
	}
	if !usr.IsActive {
		t.Error("expected user to be active")
	}
	if err := usr.CheckPassword("LePassword007!"); err != nil {
		t.Errorf("CheckPassword() failed: %v", err)
	}
	if usr.IsAdmin() {
		t.Error("expected no admin roles")
	}

	adm, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: "root@test.lab"})
	if err != nil {
		t.Fatalf("GetUser() failed: %v", err)
	}
	if !adm.IsAdmin() {
		t.Error("expected admin roles")
	}

	// updating an existing user must not create a duplicate
	all, err := cli.usrRepo.QueryAllUsers(ctx)
	if err != nil {
		t.Fatalf("QueryAllUsers() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 users, got %d", len(all))
	}

	// empty password prompts help
	readPasswordFunc = func(fd int) ([]byte, error) { return nil, nil }
	runCliTests(t, cli, []cliTest{
		{name: "empty password", args: []string{"adduser", "-username", "x", "-email", "x@test.lab"}, wantErr: errHelp},
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	readPasswordFunc = func(fd int) ([]byte, error) { return []byte("LePassword007!"), nil }
	if err := cli.run([]string{"admin", "adduser", "-username", "ghopper", "-email", "ghopper@test.lab"}); err != nil {
		t.Fatalf("adduser failed: %v", err)
	}

	readPasswordFunc = func(fd int) ([]byte, error) { return []byte("NewPassword42!"), nil }

	tests := []cliTest{
		{name: "missing flags", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "unknown user", args: []string{"resetpassword", "-username", "nobody"}, wantErr: user.ErrNotFound},
		{name: "by username", args: []string{"resetpassword", "-username", "ghopper"}},
		{name: "by email", args: []string{"resetpassword", "-username", "ghopper@test.lab"}},
	}
	runCliTests(t, cli, tests)

	usr, err := cli.usrRepo.GetUser(context.Background(), user.GetFilter{UsernameOrEmail: "ghopper"})
	if err != nil {
		t.Fatalf("GetUser() failed: %v", err)
	}
	if err := usr.CheckPassword("NewPassword42!"); err != nil {
		t.Errorf("CheckPassword() failed: %v", err)
	}
}

func Test_commandLine_importStudents(t *testing.T) {
	cli := setup(t)

	path := filepath.Join(t.TempDir(), "students.csv")
	csv := "matric,first_name,last_name,career,group,semester,shift\n" +
		"12345678,Ada,Lovelace,Computer Systems,3A,3,morning\n" +
		"87654321,Alan,Turing,Computer Systems,3A,3,evening\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	badPath := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(badPath, []byte("12345678,Ada,Lovelace\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []cliTest{
		{name: "missing flags", args: []string{"importstudents"}, wantErr: errHelp},
		{name: "short row", args: []string{"importstudents", "-file", badPath}, wantErrStr: "row 1: expected 7 columns, got 3"},
		{name: "ok", args: []string{"importstudents", "-file", path}},
	}
	runCliTests(t, cli, tests)

	stds, err := cli.stdSvc.QueryAll(context.Background())
	if err != nil {
		t.Fatalf("QueryAll() failed: %v", err)
	}
	if len(stds) != 2 {
		t.Errorf("expected 2 students, got %d", len(stds))
	}
}

func Test_commandLine_reconcile(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "bad kind", args: []string{"reconcile", "-kind", "lol"}, wantErr: errHelp},
		{name: "regular", args: []string{"reconcile"}},
		{name: "guest", args: []string{"reconcile", "-kind", "guest"}},
		{name: "forced", args: []string{"reconcile", "-force"}},
	}
	runCliTests(t, cli, tests)
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)
	cli.db = new(sql.DB) // never touched; gooseRunFunc is mocked

	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "audit_log", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	runCliTests(t, cli, tests)

	cli.db = nil
	runCliTests(t, cli, []cliTest{
		{name: "no db", args: []string{"migrate", "up"}, wantErrStr: "migrations require the postgres backend"},
	})
}
