package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	flexilite "github.com/slanska/flexilite-sub000"
	"github.com/slanska/flexilite-sub000/internal/cli/config"
)

// NewRunCommand creates the run command, a thin wrapper around the
// administrative command dispatcher.
func NewRunCommand(flags *globalFlags) *cobra.Command {
	var (
		payload string
		list    bool
	)
	cmd := &cobra.Command{
		Use:   "run <command> [<id>...]",
		Short: "Run an administrative command by name",
		Example: `  flexictl run list
  flexictl run "alter class" Person --payload @person.json
  flexictl run merge_property Person fullName firstName lastName --payload '{"separator":" "}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if list || (len(args) == 1 && args[0] == "list") {
				printCommandList(cmd)
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("command name required, see 'flexictl run list'")
			}
			var data []byte
			if payload != "" {
				var err error
				if data, err = readPayload(cmd, payload); err != nil {
					return err
				}
			}
			return flags.withConn(func(c *flexilite.Conn, cfg *config.Config) error {
				opts := flexilite.CommandOptions{Mode: cfg.ValidationMode()}
				if err := c.RunCommand(args[0], args[1:], data, opts); err != nil {
					return err
				}
				printSuccess(cmd, "%s: done", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON argument of the command (@file, - for stdin)")
	cmd.Flags().BoolVar(&list, "list", false, "List the available commands")
	return cmd
}

func printCommandList(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	nameColor := color.New(color.FgCyan)
	width := 0
	names := flexilite.CommandNames()
	for _, name := range names {
		width = max(width, len(name))
	}
	for _, name := range names {
		usage, _ := flexilite.CommandUsage(name)
		nameColor.Fprint(out, name+strings.Repeat(" ", width-len(name)+2))
		fmt.Fprintln(out, usage)
	}
}
