package commands

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	flexilite "github.com/slanska/flexilite-sub000"
	"github.com/slanska/flexilite-sub000/internal/cli/config"
)

var whereRe = regexp.MustCompile(`^\s*([^\s=<>~]+)\s*(>=|<=|=|>|<|~)\s*(.*)$`)

const maxCellWidth = 60

var whereOps = map[string]flexilite.Op{
	"=":  flexilite.OpEQ,
	">":  flexilite.OpGT,
	">=": flexilite.OpGE,
	"<":  flexilite.OpLT,
	"<=": flexilite.OpLE,
	"~":  flexilite.OpMatch,
}

type whereTerm struct {
	column int
	op     flexilite.Op
	value  any
}

// parseWhere turns "name=value" into a constraint on columns. Values are
// read as JSON when possible, otherwise as text.
func parseWhere(expr string, columns []string) (whereTerm, error) {
	m := whereRe.FindStringSubmatch(expr)
	if m == nil {
		return whereTerm{}, fmt.Errorf("invalid condition %q, expected <column><op><value>", expr)
	}
	t := whereTerm{op: whereOps[m[2]]}
	if m[1] == "id" && !slices.Contains(columns, "id") {
		t.column = flexilite.IDColumn
	} else if t.column = slices.Index(columns, m[1]); t.column < 0 {
		return whereTerm{}, fmt.Errorf("unknown column %q", m[1])
	}
	if err := json.Unmarshal([]byte(m[3]), &t.value); err != nil {
		t.value = m[3]
	}
	return t, nil
}

// NewQueryCommand creates the query command
func NewQueryCommand(flags *globalFlags) *cobra.Command {
	var (
		where   []string
		limit   int
		explain bool
	)
	cmd := &cobra.Command{
		Use:   "query [class]",
		Short: "Select objects through the query planner",
		Long: `Select objects of a class through the query planner.

Conditions are <column><op><value> with op one of = > >= < <= and ~ (full
text match). Use "id" for the object id. Without a class the ad-hoc table of
all objects (id, class, data) is queried.`,
		Example: `  flexictl query Person --where "age>=18" --where "city=Oslo"
  flexictl query Note --where "body~quarterly report" --explain
  flexictl query --where "class=Person"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adHoc := len(args) == 0
			return flags.withConn(func(c *flexilite.Conn, _ *config.Config) error {
				var table flexilite.TableProvider
				if adHoc {
					table = c.ConnectAdHoc()
				} else {
					cd, err := c.Class(args[0])
					if err != nil {
						return err
					}
					if table, err = c.CreateOrConnect(cd.Name, nil); err != nil {
						return err
					}
				}
				return runQuery(cmd, table, where, limit, explain)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "Condition, repeatable")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of rows (0 for all)")
	cmd.Flags().BoolVar(&explain, "explain", false, "Print the chosen plan")
	return cmd
}

func runQuery(cmd *cobra.Command, table flexilite.TableProvider, where []string, limit int, explain bool) error {
	columns, err := table.Columns()
	if err != nil {
		return err
	}
	terms := make([]whereTerm, len(where))
	cons := make([]flexilite.Constraint, len(where))
	for i, w := range where {
		if terms[i], err = parseWhere(w, columns); err != nil {
			return err
		}
		cons[i] = flexilite.Constraint{Column: terms[i].column, Op: terms[i].op, Usable: true}
	}
	plan, err := table.PlanQuery(cons)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if explain {
		explainColor := color.New(color.FgYellow)
		explainColor.Fprintf(out, "plan %#x %q cost %g\n", plan.ID, plan.Str, plan.Cost)
	}

	var planArgs []any
	var residual []whereTerm
	for i, u := range plan.Usage {
		if u.ArgIndex >= 0 {
			for len(planArgs) <= u.ArgIndex {
				planArgs = append(planArgs, nil)
			}
			planArgs[u.ArgIndex] = terms[i].value
		}
		if !u.Omit {
			residual = append(residual, terms[i])
		}
	}
	for _, t := range residual {
		if t.op != flexilite.OpEQ {
			return fmt.Errorf("condition on %s with %s is not supported by this table", columnName(columns, t.column), t.op)
		}
	}

	cur, err := table.Open()
	if err != nil {
		return err
	}
	defer cur.Close()
	if err := cur.Filter(plan.ID, plan.Str, planArgs); err != nil {
		return err
	}

	withID := !slices.Contains(columns, "id")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := columns
	if withID {
		header = append([]string{"id"}, columns...)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	rows := 0
	for !cur.Eof() && (limit <= 0 || rows < limit) {
		row := make([]any, len(columns))
		for i := range columns {
			if row[i], err = cur.Column(i); err != nil {
				return err
			}
		}
		if matchResidual(residual, cur.EntityID(), row) {
			cells := make([]string, 0, len(header))
			if withID {
				cells = append(cells, fmt.Sprint(cur.EntityID()))
			}
			for _, v := range row {
				cells = append(cells, trimCell(formatCell(v), maxCellWidth))
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
			rows++
		}
		if err := cur.Next(); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	countColor := color.New(color.Faint)
	countColor.Fprintf(out, "(%d rows)\n", rows)
	return nil
}

func columnName(columns []string, col int) string {
	if col == flexilite.IDColumn {
		return "id"
	}
	return columns[col]
}

func matchResidual(terms []whereTerm, id int64, row []any) bool {
	for _, t := range terms {
		var v any = id
		if t.column != flexilite.IDColumn {
			v = row[t.column]
		}
		if formatCell(v) != formatCell(t.value) {
			return false
		}
	}
	return true
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return fmt.Sprintf("%x", v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprint(v)
	case []any, map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}

// trimCell shortens long values for tabular output.
func trimCell(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}
