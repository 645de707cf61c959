package main

import (
	"fmt"

	"github.com/spf13/cobra"

	echoapi "github.com/trezcool/darasa/apps/api/echo"
)

func (cli *commandLine) tokenCmd() *cobra.Command {
	var (
		subject, name string
		roles         []string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" || len(roles) == 0 {
				_ = cmd.Usage()
				return errHelp
			}
			for _, role := range roles {
				if !isRole(role) {
					return fmt.Errorf("unknown role %q (want one of %v)", role, echoapi.Roles)
				}
			}
			return cli.token(subject, name, roles)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&subject, "subject", "", "The staff member's id")
	flags.StringVar(&name, "name", "", "The staff member's display name")
	flags.StringSliceVar(&roles, "role", nil, "The staff member's roles (admin, assistant)")
	return cmd
}

func isRole(role string) bool {
	for _, r := range echoapi.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (cli *commandLine) token(subject, name string, roles []string) error {
	token, err := echoapi.GenerateToken(cli.conf, echoapi.NewStaffClaims(cli.conf, subject, name, roles...))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cli.out, token)
	return nil
}
