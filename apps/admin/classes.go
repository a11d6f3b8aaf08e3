package main

import (
	"context"
	"fmt"
	"net/mail"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/planner/core/planner"
	exportsvc "github.com/trezcool/planner/services/export"
)

func (cli *commandLine) classesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List the classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			classes := cli.store.Classes()
			if len(classes) == 0 {
				cmd.Println("no classes")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tGRADE\tSCHEDULE\tSTUDENTS")
			for _, c := range classes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", c.ID, c.Name, c.Grade, c.Schedule, len(c.Students))
			}
			return w.Flush()
		},
	}
}

func (cli *commandLine) exportCmd() *cobra.Command {
	var (
		classID, out, to string
		sendMail         bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the roster and attendance of a class to XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			class, err := cli.store.Class(classID)
			if err != nil {
				return err
			}
			if sendMail {
				return cli.mailExport(cmd, class, to)
			}
			if out == "" {
				out = exportsvc.Filename(class)
			}

			f, err := os.Create(out)
			if err != nil {
				return errors.Wrap(err, "creating export file")
			}
			if err := exportsvc.WriteAttendance(f, class); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return errors.Wrap(err, "closing export file")
			}
			cmd.Printf("exported %q to %s\n", class.Name, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&classID, "class", "", "class id")
	cmd.Flags().StringVar(&out, "out", "", "output file (defaults to attendance_<class name>.xlsx)")
	cmd.Flags().BoolVar(&sendMail, "mail", false, "email the export instead of writing a file")
	cmd.Flags().StringVar(&to, "to", "", "recipient of --mail (defaults to the authorized email)")
	_ = cmd.MarkFlagRequired("class")
	return cmd
}

func (cli *commandLine) mailExport(cmd *cobra.Command, class planner.ClassRoom, to string) error {
	if to == "" {
		to = cli.conf.AuthorizedEmail
	}
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return errors.Wrapf(err, "parsing recipient %q", to)
	}

	msg, err := exportsvc.AttendanceMessage(class, *addr)
	if err != nil {
		return err
	}
	cli.mailSvc.SendMessages(msg)
	cmd.Printf("mailed %q to %s\n", class.Name, addr.Address)
	return nil
}

func (cli *commandLine) importCmd() *cobra.Command {
	var classID, file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Add the students listed in the first column of an XLSX file to a class",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := cli.store.Class(classID); err != nil {
				return err
			}

			f, err := os.Open(file)
			if err != nil {
				return errors.Wrap(err, "opening roster")
			}
			defer func() { _ = f.Close() }()

			students, err := exportsvc.ReadRoster(f)
			if err != nil {
				return err
			}
			ctx := context.Background()
			for _, ns := range students {
				if _, err := cli.store.AddStudent(ctx, classID, ns); err != nil {
					return errors.Wrapf(cli.translate(err), "adding %q", ns.Name)
				}
			}
			cmd.Printf("imported %d students\n", len(students))
			return nil
		},
	}
	cmd.Flags().StringVar(&classID, "class", "", "class id")
	cmd.Flags().StringVar(&file, "file", "", "XLSX roster; the first row is a header")
	_ = cmd.MarkFlagRequired("class")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
