package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trezcool/darasa/core/attendance"
)

func (cli *commandLine) finalizeCmd() *cobra.Command {
	var req attendance.FinalizeRequest

	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Close a session: everyone not marked becomes absent and parents are notified",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := req.Validate(cli.validate); err != nil {
				_ = cmd.Usage()
				return errHelp
			}
			return cli.finalize(cmd.Context(), req)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Group.Center, "center", "", "The group's center")
	flags.StringVar(&req.Group.Grade, "grade", "", "The group's grade")
	flags.StringVar(&req.Group.GradeType, "grade-type", "", "The group's grade type, if any")
	flags.StringVar(&req.Group.GroupTime, "group-time", "", "The group's time slot")
	flags.StringVar(&req.Date, "date", "", "The session date (YYYY-MM-DD); today in the center time zone if empty")
	return cmd
}

func (cli *commandLine) finalize(ctx context.Context, req attendance.FinalizeRequest) error {
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := cli.attSvc.FinalizeAttendance(ctx, req)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cli.out, "%s on %s finalized: %d present, %d late, %d excused, %d absent\n",
		res.Record.Group, res.Record.Date,
		len(res.Record.Present), len(res.Record.Late), len(res.Record.Excused), len(res.Record.Absent),
	)
	if len(res.NewlyAbsent) > 0 {
		_, _ = fmt.Fprintf(cli.out, "newly absent: %s\n", strings.Join(res.NewlyAbsent, ", "))
	}
	for _, w := range res.Warnings() {
		_, _ = fmt.Fprintf(cli.out, "warning: %s\n", w)
	}
	return nil
}
