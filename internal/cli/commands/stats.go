package commands

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	flexilite "github.com/slanska/flexilite-sub000"
	"github.com/slanska/flexilite-sub000/internal/cli/config"
)

// NewStatsCommand creates the stats command
func NewStatsCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [class...]",
		Short: "Show storage statistics",
		Long: `Show the number of stored rows per class, or of the named classes.

Subcommands print bucket sizes, a debug dump of the database, and the
change log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				names := args
				if len(names) == 0 {
					var err error
					if names, err = c.ClassNames(); err != nil {
						return err
					}
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
				fmt.Fprintln(tw, "class\tobjects\tvalues\tindex\trange\tfulltext\ttotal\t")
				for _, name := range names {
					s, err := c.ClassStats(name)
					if err != nil {
						return err
					}
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t\n", name, s.Objects, s.Values, s.IndexRows, s.RangeRows, s.FullTextRows, s.TotalRows())
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "buckets",
		Short: "Show the number of keys in every storage bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				return c.Read(func(tx *flexilite.Tx) error {
					sizes := tx.BucketSizes()
					names := make([]string, 0, len(sizes))
					for name := range sizes {
						names = append(names, name)
					}
					slices.Sort(names)
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					for _, name := range names {
						fmt.Fprintf(tw, "%s\t%d\n", name, sizes[name])
					}
					return tw.Flush()
				})
			})
		},
	})

	var dumpParts []string
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Print a debug dump of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseDumpFlags(dumpParts)
			if err != nil {
				return err
			}
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				return c.Read(func(tx *flexilite.Tx) error {
					fmt.Fprint(cmd.OutOrStdout(), tx.Dump(f))
					return nil
				})
			})
		},
	}
	dumpCmd.Flags().StringSliceVar(&dumpParts, "only", nil, "Parts to dump: headers, objects, stats, schema, index, changes")
	cmd.AddCommand(dumpCmd)

	var (
		since int64
		limit int
		trim  bool
	)
	changesCmd := &cobra.Command{
		Use:   "changes",
		Short: "Print the change log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				changes, err := c.Changes(since, limit)
				if err != nil {
					return err
				}
				classNames := make(map[int64]string)
				err = c.Read(func(tx *flexilite.Tx) error {
					for _, chg := range changes {
						if _, ok := classNames[chg.ClassID]; ok {
							continue
						}
						if cd, err := tx.ClassByID(chg.ClassID); err == nil {
							classNames[chg.ClassID] = cd.Name
						} else {
							classNames[chg.ClassID] = fmt.Sprintf("#%d", chg.ClassID)
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
				printChanges(cmd, changes, classNames)
				if trim && len(changes) > 0 {
					n, err := c.TrimChanges(changes[len(changes)-1].Seq)
					if err != nil {
						return err
					}
					printSuccess(cmd, "Trimmed %d entries", n)
				}
				return nil
			})
		},
	}
	changesCmd.Flags().Int64Var(&since, "since", 0, "Only entries after this sequence number")
	changesCmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of entries (0 for all)")
	changesCmd.Flags().BoolVar(&trim, "trim", false, "Delete the printed entries")
	cmd.AddCommand(changesCmd)

	return cmd
}

var dumpPartNames = map[string]flexilite.DumpFlags{
	"headers": flexilite.DumpClassHeaders,
	"objects": flexilite.DumpObjects,
	"stats":   flexilite.DumpStats,
	"schema":  flexilite.DumpSchema,
	"index":   flexilite.DumpIndexRows,
	"changes": flexilite.DumpChanges,
}

func parseDumpFlags(parts []string) (flexilite.DumpFlags, error) {
	if len(parts) == 0 {
		return flexilite.DumpAll, nil
	}
	var f flexilite.DumpFlags
	for _, p := range parts {
		v, ok := dumpPartNames[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return 0, fmt.Errorf("unknown dump part %q", p)
		}
		f |= v
	}
	return f, nil
}

func printChanges(cmd *cobra.Command, changes []*flexilite.Change, classNames map[int64]string) {
	out := cmd.OutOrStdout()
	opColors := map[flexilite.ChangeOp]*color.Color{
		flexilite.ChangeInsert: color.New(color.FgGreen),
		flexilite.ChangeUpdate: color.New(color.FgYellow),
		flexilite.ChangeDelete: color.New(color.FgRed),
	}
	for _, chg := range changes {
		fmt.Fprintf(out, "%6d  %s  ", chg.Seq, chg.Time.Local().Format(time.DateTime))
		op := fmt.Sprintf("%-6s", chg.Op)
		if c := opColors[chg.Op]; c != nil {
			c.Fprint(out, op)
		} else {
			fmt.Fprint(out, op)
		}
		fmt.Fprintf(out, "  %s %d", classNames[chg.ClassID], chg.ObjectID)
		if chg.OldID != 0 {
			fmt.Fprintf(out, " (was %d)", chg.OldID)
		}
		if len(chg.Props) > 0 {
			fmt.Fprintf(out, " props %v", chg.Props)
		}
		fmt.Fprintln(out)
	}
}
