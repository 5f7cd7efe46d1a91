package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"

	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/student"
	dummydb "github.com/mitihani/backend/storage/database/dummy"
	testutil "github.com/mitihani/backend/tests"
)

var stdRepo student.Repository

func setup(t *testing.T) *commandLine {
	t.Helper()

	db := dummydb.NewDB()
	stdRepo = dummydb.NewStudentRepository(db)

	return &commandLine{
		conf:   &core.Config{},
		stdSvc: student.NewService(stdRepo),
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	gooseRunFunc = func(db *sql.DB, conf *core.Config, command string, args ...string) error {
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
		{name: "no subcommand defaults to up", args: []string{"migrate"}},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "attendance", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
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
			}
		})
	}
}

func Test_commandLine_addStudent(t *testing.T) {
	cli := setup(t)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"addstudent"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"addstudent", "-username", "awe"}, wantErr: errHelp},
		{name: "create student", args: []string{"addstudent", "-username", "awe", "-email", "awe@test.cd"}, extra: extra{pwd: "s3cret"}},
		{name: "create proctor", args: []string{"addstudent", "-username", "proc", "-proctor"}, extra: extra{pwd: "s3cret"}},
		{name: "create admin", args: []string{"addstudent", "-username", "boss", "-admin"}, extra: extra{pwd: "s3cret"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err != tt.wantErr {
				t.Fatalf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			uname := args[3]
			std, err := stdRepo.GetStudentByUsername(context.Background(), uname)
			if err != nil {
				t.Fatalf("GetStudentByUsername() failed: %v", err)
			}
			if cerr := std.CheckPassword(tt.extra.(extra).pwd); cerr != nil {
				t.Error("password was not set")
			}
			switch uname {
			case "proc":
				if !std.IsProctor() {
					t.Error("expected proctor role")
				}
			case "boss":
				if !std.IsAdmin() {
					t.Error("expected admin role")
				}
			}
		})
	}
}

func Test_commandLine_unblock(t *testing.T) {
	cli := setup(t)

	std := testutil.CreateStudent(t, stdRepo, "Awe", "awe", "awe@test.cd", "s3cret", nil, true)
	ctx := context.Background()
	if _, err := cli.stdSvc.Block(ctx, std.ID, "multiple takeovers"); err != nil {
		t.Fatalf("Block() failed: %v", err)
	}

	tests := []cliTest{
		{name: "no args", args: []string{"unblock"}, wantErr: errHelp},
		{name: "not found", args: []string{"unblock", "-username", "lol"}, wantErr: student.ErrNotFound},
		{name: "unblock with username", args: []string{"unblock", "-username", "awe"}},
		{name: "already unblocked is a no-op", args: []string{"unblock", "-username", "awe@test.cd"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if tt.wantErr != nil {
				if err != tt.wantErr {
					t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("cli.run() unexpected error = %v", err)
			}

			refreshed, err := stdRepo.GetStudentByID(ctx, std.ID)
			if err != nil {
				t.Fatalf("GetStudentByID() failed: %v", err)
			}
			if refreshed.Blocked {
				t.Error("student is still blocked")
			}
		})
	}
}
