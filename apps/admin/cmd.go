package main

import (
	"errors"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf     *core.Config
	db       *sqlx.DB
	attSvc   *attendance.Service
	validate *validator.Validate
	out      io.Writer
}

func (cli *commandLine) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "Darasa administration commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errHelp
		},
	}
	cmd.SetOut(cli.out)
	cmd.SetErr(cli.out)

	cmd.AddCommand(cli.migrateCmd(), cli.finalizeCmd(), cli.tokenCmd())
	return cmd
}

// run executes the command line args, program name included.
func (cli *commandLine) run(args []string) error {
	cmd := cli.rootCmd()
	if len(args) > 0 {
		args = args[1:]
	}
	cmd.SetArgs(args)
	return cmd.Execute()
}
