package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	flexilite "github.com/slanska/flexilite-sub000"
	"github.com/slanska/flexilite-sub000/internal/cli/config"
)

// NewObjectCommand creates the object command
func NewObjectCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "object",
		Aliases: []string{"obj"},
		Short:   "Read and write objects",
		Example: `  flexictl object insert Person '{"name":"Ann","age":31}'
  flexictl object get 42
  flexictl object update 42 '{"age":32,"nickname":null}'`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Print an object as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				od, err := c.Get(id)
				if err != nil {
					return err
				}
				return printObject(cmd, od)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "insert <class> <json>",
		Short: "Insert an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := readValues(cmd, args[1])
			if err != nil {
				return err
			}
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				id, err := c.InsertInto(args[0], values)
				if err != nil {
					return err
				}
				printSuccess(cmd, "Inserted %s %d", args[0], id)
				return nil
			})
		},
	})

	var newID int64
	updateCmd := &cobra.Command{
		Use:   "update <id> <json>",
		Short: "Update the given values of an object; null removes a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			values, err := readValues(cmd, args[1])
			if err != nil {
				return err
			}
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				if err := c.Update(id, newID, nil, values); err != nil {
					return err
				}
				if newID != 0 && newID != id {
					printSuccess(cmd, "Updated object %d, now %d", id, newID)
				} else {
					printSuccess(cmd, "Updated object %d", id)
				}
				return nil
			})
		},
	}
	updateCmd.Flags().Int64Var(&newID, "new-id", 0, "Move the object to this id")
	cmd.AddCommand(updateCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete objects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, len(args))
			for i, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids[i] = id
			}
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				for _, id := range ids {
					if err := c.Delete(id); err != nil {
						return err
					}
				}
				printSuccess(cmd, "Deleted %d objects", len(ids))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "change-class <id> <class>",
		Short: "Move an object to another class",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				if err := c.ChangeObjectClass(id, args[1]); err != nil {
					return err
				}
				printSuccess(cmd, "Object %d is now a %s", id, args[1])
				return nil
			})
		},
	})

	var setFlags, clearFlags string
	flagsCmd := &cobra.Command{
		Use:   "flags <id>",
		Short: "Show or change the flags of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			set, err := flexilite.ParseObjectFlags(setFlags)
			if err != nil {
				return err
			}
			unset, err := flexilite.ParseObjectFlags(clearFlags)
			if err != nil {
				return err
			}
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				if set != 0 || unset != 0 {
					if err := c.SetObjectFlags(id, set, unset); err != nil {
						return err
					}
				}
				od, err := c.Get(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%v\n", id, od.Flags)
				return nil
			})
		},
	}
	flagsCmd.Flags().StringVar(&setFlags, "set", "", "Flags to set, e.g. no-track-changes|weak")
	flagsCmd.Flags().StringVar(&clearFlags, "clear", "", "Flags to clear")
	cmd.AddCommand(flagsCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "mixins <id>",
		Short: "Show the mixin classes an object resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				mixins, err := c.ResolveMixins(id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, m := range mixins {
					if m.Selector != nil {
						fmt.Fprintf(out, "%s\t(selector %v)\n", m.Class, m.Selector)
					} else {
						fmt.Fprintln(out, m.Class)
					}
				}
				return nil
			})
		},
	})

	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid object id %q", s)
	}
	return id, nil
}

func readValues(cmd *cobra.Command, arg string) (map[string]any, error) {
	data, err := readPayload(cmd, arg)
	if err != nil {
		return nil, err
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("values must be a JSON object: %w", err)
	}
	return values, nil
}

func printObject(cmd *cobra.Command, od *flexilite.ObjectData) error {
	out := cmd.OutOrStdout()
	headerColor := color.New(color.FgCyan, color.Bold)
	headerColor.Fprintf(out, "%s %d", od.Class, od.ID)
	if od.Flags != 0 {
		fmt.Fprintf(out, " [%v]", od.Flags)
	}
	fmt.Fprintln(out)
	data, err := json.MarshalIndent(od.Map(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}
