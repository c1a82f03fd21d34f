package commands

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	flexilite "github.com/slanska/flexilite-sub000"
	"github.com/slanska/flexilite-sub000/internal/cli/config"
)

// NewClassCommand creates the class command
func NewClassCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "class",
		Short: "Class definition commands",
		Long: `Create, alter, inspect and remove classes.

Class definitions are JSON documents; pass them literally, as @file, or as -
to read standard input.`,
		Example: `  # Create a class from a file
  flexictl class create Person @person.json

  # Alter a class, keeping objects that fail the new rules
  flexictl class alter Person @person-v2.json --mode IGNORE

  # Show the canonical definition
  flexictl class show Person`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				names, err := c.ClassNames()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <class>",
		Short: "Print the canonical class definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				cd, err := c.Class(args[0])
				if err != nil {
					return err
				}
				var buf bytes.Buffer
				if err := json.Indent(&buf, flexilite.StringifyClass(cd), "", "  "); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), buf.String())
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <class> <json>",
		Short: "Create a class",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd, args[1])
			if err != nil {
				return err
			}
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				cd, err := c.CreateClass(args[0], data)
				if err != nil {
					return err
				}
				printSuccess(cmd, "Created class %s (id %d, %d properties)", cd.Name, cd.ID, len(cd.Props()))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "alter <class> <json>",
		Short: "Merge a new definition into a class",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd, args[1])
			if err != nil {
				return err
			}
			return flags.withConn(func(c *flexilite.Conn, cfg *config.Config) error {
				res, err := c.AlterClass(args[0], data, flexilite.AlterOptions{Mode: cfg.ValidationMode()})
				if err != nil {
					return err
				}
				printAlterResult(cmd, res)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drop <class>",
		Short: "Delete a class and all of its objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				if err := c.DropClass(args[0]); err != nil {
					return err
				}
				printSuccess(cmd, "Dropped class %s", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <class> <newName>",
		Short: "Rename a class",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				if err := c.RenameClass(args[0], args[1]); err != nil {
					return err
				}
				printSuccess(cmd, "Renamed class %s to %s", args[0], args[1])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild <class>",
		Short: "Rebuild every index of a class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				if err := c.RebuildIndexes(args[0]); err != nil {
					return err
				}
				printSuccess(cmd, "Rebuilt indexes of %s", args[0])
				return nil
			})
		},
	})

	return cmd
}

func printAlterResult(cmd *cobra.Command, res *flexilite.AlterResult) {
	out := cmd.OutOrStdout()
	if res.Added+res.Modified+res.Deleted == 0 {
		printSuccess(cmd, "Class %s unchanged", res.Class.Name)
		return
	}
	printSuccess(cmd, "Altered class %s: %d added, %d modified, %d deleted", res.Class.Name, res.Added, res.Modified, res.Deleted)
	for _, ch := range res.Changes {
		line := fmt.Sprintf("  %-10s %s", ch.Status, ch.Property)
		if ch.RenamedFrom != "" {
			line += fmt.Sprintf(" (was %s)", ch.RenamedFrom)
		}
		if ch.OldType != ch.NewType {
			line += fmt.Sprintf(" %s -> %s", ch.OldType, ch.NewType)
		}
		fmt.Fprintln(out, line)
	}
	if res.Scanned > 0 {
		fmt.Fprintf(out, "  scanned %d objects\n", res.Scanned)
	}
	if n := len(res.InvalidObjects); n > 0 {
		warnColor := color.New(color.FgYellow)
		warnColor.Fprintf(out, "  %d objects kept with invalid data: %v\n", n, res.InvalidObjects)
	}
}
