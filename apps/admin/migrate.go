package main

import "github.com/mitihani/backend/storage/database"

var gooseRunFunc = database.RunGoose // mockable

func (cli *commandLine) migrate(args []string) error {
	command := "up"
	var rest []string
	if len(args) > 0 {
		command = args[0]
		rest = args[1:]
	}
	return gooseRunFunc(cli.db, cli.conf, command, rest...)
}
