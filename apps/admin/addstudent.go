package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mitihani/backend/core"
	"github.com/mitihani/backend/core/student"
)

// addStudent creates an account. Fails if the username or email is taken;
// use the API to amend existing accounts.
func (cli *commandLine) addStudent(uname, email, pwd string, isAdmin, isProctor bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	if err := cli.stdSvc.CheckUniqueness(uname, email); err != nil {
		return err
	}

	roles := []string{student.RoleStudent}
	if isProctor {
		roles = append(roles, student.RoleProctor)
	}
	if isAdmin {
		roles = student.AllRoles
	}

	_, err := cli.stdSvc.Create(ctx, student.NewStudent{
		Name:            uname,
		Username:        uname,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           roles,
	})
	return errors.Wrap(err, "creating account")
}
