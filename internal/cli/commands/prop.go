package commands

import (
	"github.com/spf13/cobra"

	flexilite "github.com/slanska/flexilite-sub000"
	"github.com/slanska/flexilite-sub000/internal/cli/config"
)

// NewPropCommand creates the prop command
func NewPropCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "prop",
		Aliases: []string{"property"},
		Short:   "Property refactoring commands",
		Example: `  # Add an indexed property
  flexictl prop create Person email '{"rules":{"type":"text"},"index":"unique"}'

  # Join first and last name into an existing property
  flexictl prop merge Person fullName firstName lastName --separator " "

  # Split it back using a regex with named groups
  flexictl prop split Person fullName --regex '^(?P<firstName>\S+) (?P<lastName>.*)$'`,
	}

	alterProp := func(use, short string, create bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <class> <property> <json>",
			Short: short,
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := readPayload(cmd, args[2])
				if err != nil {
					return err
				}
				return flags.withConn(func(c *flexilite.Conn, cfg *config.Config) error {
					opts := flexilite.AlterOptions{Mode: cfg.ValidationMode()}
					var res *flexilite.AlterResult
					if create {
						res, err = c.CreateProperty(args[0], args[1], data, opts)
					} else {
						res, err = c.AlterProperty(args[0], args[1], data, opts)
					}
					if err != nil {
						return err
					}
					printAlterResult(cmd, res)
					return nil
				})
			},
		}
	}
	cmd.AddCommand(alterProp("create", "Add a property to a class", true))
	cmd.AddCommand(alterProp("alter", "Change a property definition", false))

	cmd.AddCommand(&cobra.Command{
		Use:   "drop <class> <property>",
		Short: "Remove a property and its values",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				if err := c.DropProperty(args[0], args[1]); err != nil {
					return err
				}
				printSuccess(cmd, "Dropped %s.%s", args[0], args[1])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <class> <property> <newName>",
		Short: "Rename a property",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				if err := c.RenameProperty(args[0], args[1], args[2]); err != nil {
					return err
				}
				printSuccess(cmd, "Renamed %s.%s to %s", args[0], args[1], args[2])
				return nil
			})
		},
	})

	var mergeOpts flexilite.MergeOptions
	mergeCmd := &cobra.Command{
		Use:   "merge <class> <target> <source>...",
		Short: "Concatenate several properties into one",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				if err := c.MergeProperties(args[0], args[2:], args[1], mergeOpts); err != nil {
					return err
				}
				printSuccess(cmd, "Merged %d properties into %s.%s", len(args)-2, args[0], args[1])
				return nil
			})
		},
	}
	mergeCmd.Flags().StringVar(&mergeOpts.Separator, "separator", "", "Text placed between merged values")
	mergeCmd.Flags().BoolVar(&mergeOpts.KeepSources, "keep-sources", false, "Keep the source properties")
	cmd.AddCommand(mergeCmd)

	var (
		splitRegex string
		keepSource bool
	)
	splitCmd := &cobra.Command{
		Use:   "split <class> <source> [<target>...]",
		Short: "Split a property into several using a regex",
		Long: `Split a property into several using a regex.

Named groups fill the properties of the same name; unnamed groups fill the
listed targets by group position. Target properties must exist.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				if err := c.SplitProperty(args[0], args[1], splitRegex, args[2:], keepSource); err != nil {
					return err
				}
				printSuccess(cmd, "Split %s.%s", args[0], args[1])
				return nil
			})
		},
	}
	splitCmd.Flags().StringVar(&splitRegex, "regex", "", "Pattern with one group per target")
	splitCmd.Flags().BoolVar(&keepSource, "keep-source", false, "Keep the source property")
	_ = splitCmd.MarkFlagRequired("regex")
	cmd.AddCommand(splitCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "to-object <class> <refProperty> <targetClass> <property>...",
		Short: "Move properties into objects of another class",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				if err := c.PropertiesToObject(args[0], args[3:], args[1], args[2]); err != nil {
					return err
				}
				printSuccess(cmd, "Moved %d properties of %s into %s via %s", len(args)-3, args[0], args[2], args[1])
				return nil
			})
		},
	})

	var keepObjects bool
	fromObjectCmd := &cobra.Command{
		Use:   "from-object <class> <refProperty>",
		Short: "Inline the objects referenced by a property",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				if err := c.ObjectToProperties(args[0], args[1], keepObjects); err != nil {
					return err
				}
				printSuccess(cmd, "Inlined %s.%s", args[0], args[1])
				return nil
			})
		},
	}
	fromObjectCmd.Flags().BoolVar(&keepObjects, "keep-objects", false, "Keep the referenced objects")
	cmd.AddCommand(fromObjectCmd)

	return cmd
}
