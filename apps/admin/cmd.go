package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/student"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db     *sql.DB
	conf   *core.Config
	stdSvc student.ServiceInterface
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate [COMMAND]                              - run goose migration COMMAND (default: up)")
	fmt.Println("  addstudent -username USERNAME [-email EMAIL] [-admin] [-proctor] - create an account; password prompted")
	fmt.Println("  unblock -username USERNAME|EMAIL               - lift an account block")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addStudentCmd := flag.NewFlagSet("addstudent", flag.ExitOnError)
	addStudentUname := addStudentCmd.String("username", "", "The account's username. The password will be prompted next.")
	addStudentEmail := addStudentCmd.String("email", "", "The account's email address.")
	addStudentAdmin := addStudentCmd.Bool("admin", false, "Grant the admin role.")
	addStudentProctor := addStudentCmd.Bool("proctor", false, "Grant the proctor role.")

	unblockCmd := flag.NewFlagSet("unblock", flag.ExitOnError)
	unblockUname := unblockCmd.String("username", "", "The account's username or email.")

	switch args[1] {
	case "migrate":
		return cli.migrate(args[2:])
	case "addstudent":
		if err := addStudentCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addStudentUname == "" {
			addStudentCmd.Usage()
			return errHelp
		}
		fmt.Print("Enter password:")
		pwd, err := readPasswordFunc(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addStudentCmd.Usage()
			return errHelp
		}
		return cli.addStudent(*addStudentUname, *addStudentEmail, string(pwd), *addStudentAdmin, *addStudentProctor)
	case "unblock":
		if err := unblockCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *unblockUname == "" {
			unblockCmd.Usage()
			return errHelp
		}
		return cli.unblock(*unblockUname)
	default:
		cli.printUsage()
		return errHelp
	}
}
