package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) unblock(uname string) error {
	ctx := context.Background()
	std, err := cli.stdSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if !std.Blocked {
		fmt.Printf("%s is not blocked\n", std.Username)
		return nil
	}
	if _, err := cli.stdSvc.Unblock(ctx, std.ID); err != nil {
		return err
	}
	fmt.Printf("%s unblocked\n", std.Username)
	return nil
}
