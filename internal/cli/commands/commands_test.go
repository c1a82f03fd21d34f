package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flexilite "github.com/slanska/flexilite-sub000"
)

const personJSON = `{"properties":{
	"name":{"rules":{"type":"text","maxLength":40},"index":"indexed"},
	"age":{"rules":{"type":"integer"}}
}}`

type cli struct {
	t      *testing.T
	dbPath string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	color.NoColor = true
	dir := t.TempDir()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(oldWd) })
	return &cli{t: t, dbPath: filepath.Join(dir, "test.db")}
}

func (c *cli) exec(args ...string) (string, error) {
	c.t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", c.dbPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) run(args ...string) string {
	c.t.Helper()
	out, err := c.exec(args...)
	require.NoError(c.t, err, "flexictl %s\n%s", strings.Join(args, " "), out)
	return out
}

var insertedRe = regexp.MustCompile(`Inserted \S+ (\d+)`)

func (c *cli) insert(class, values string) int64 {
	c.t.Helper()
	out := c.run("object", "insert", class, values)
	m := insertedRe.FindStringSubmatch(out)
	require.NotNil(c.t, m, out)
	id, err := strconv.ParseInt(m[1], 10, 64)
	require.NoError(c.t, err)
	return id
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "flexictl", cmd.Use)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, expected := range []string{"version", "class", "prop", "object", "query", "run", "stats"} {
		assert.Contains(t, names, expected)
	}
	for _, flag := range []string{"config", "db", "engine", "mode", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	c := newCLI(t)
	out := c.run("version")
	assert.Contains(t, out, "flexictl version: dev")
	assert.Contains(t, out, "Go version:")
}

func TestClassLifecycle(t *testing.T) {
	c := newCLI(t)

	out := c.run("class", "create", "Person", personJSON)
	assert.Contains(t, out, "Created class Person")
	assert.Contains(t, out, "2 properties")

	assert.Equal(t, "Person\n", c.run("class", "list"))

	out = c.run("class", "show", "Person")
	assert.Contains(t, out, `"name"`)
	assert.Contains(t, out, `"integer"`)

	out = c.run("class", "alter", "Person", `{"properties":{"email":{"rules":{"type":"text"}}}}`)
	assert.Contains(t, out, "1 added")
	assert.Contains(t, out, "email")

	out = c.run("class", "alter", "Person", `{"properties":{"email":{"rules":{"type":"text"}}}}`)
	assert.Contains(t, out, "unchanged")

	c.run("class", "rename", "Person", "Human")
	assert.Equal(t, "Human\n", c.run("class", "list"))

	c.run("class", "drop", "Human")
	assert.Equal(t, "", c.run("class", "list"))

	_, err := c.exec("class", "show", "Human")
	require.Error(t, err)
	assert.ErrorIs(t, err, flexilite.ErrNotFound)
}

func TestClassCreateFromFile(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(t.TempDir(), "person.json")
	require.NoError(t, os.WriteFile(path, []byte(personJSON), 0o644))

	c.run("class", "create", "Person", "@"+path)
	assert.Equal(t, "Person\n", c.run("class", "list"))

	_, err := c.exec("class", "create", "Other", "@"+filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestObjectCommands(t *testing.T) {
	c := newCLI(t)
	c.run("class", "create", "Person", personJSON)

	ann := c.insert("Person", `{"name":"Ann","age":31}`)
	bob := c.insert("Person", `{"name":"Bob","age":17}`)
	assert.NotEqual(t, ann, bob)

	out := c.run("object", "get", strconv.FormatInt(ann, 10))
	assert.Contains(t, out, "Person "+strconv.FormatInt(ann, 10))
	assert.Contains(t, out, `"name": "Ann"`)
	assert.Contains(t, out, `"age": 31`)

	c.run("object", "update", strconv.FormatInt(ann, 10), `{"age":32}`)
	out = c.run("object", "get", strconv.FormatInt(ann, 10))
	assert.Contains(t, out, `"age": 32`)

	_, err := c.exec("object", "insert", "Person", `{"name":"`+strings.Repeat("x", 41)+`"}`)
	require.Error(t, err)

	out = c.run("object", "flags", strconv.FormatInt(ann, 10), "--set", "no-track-changes|weak")
	assert.Contains(t, out, "weak|no-track-changes")
	out = c.run("object", "flags", strconv.FormatInt(ann, 10), "--clear", "weak")
	assert.Contains(t, out, strconv.FormatInt(ann, 10)+"\tno-track-changes\n")
	_, err = c.exec("object", "flags", strconv.FormatInt(ann, 10), "--set", "sticky")
	assert.ErrorIs(t, err, flexilite.ErrConstraintRule)

	c.run("object", "delete", strconv.FormatInt(bob, 10))
	_, err = c.exec("object", "get", strconv.FormatInt(bob, 10))
	assert.ErrorIs(t, err, flexilite.ErrNotFound)

	_, err = c.exec("object", "get", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid object id")
}

func TestQueryCommand(t *testing.T) {
	c := newCLI(t)
	c.run("class", "create", "Person", personJSON)
	c.insert("Person", `{"name":"Ann","age":31}`)
	c.insert("Person", `{"name":"Bob","age":17}`)
	c.insert("Person", `{"name":"Cid","age":45}`)

	out := c.run("query", "Person")
	assert.Contains(t, out, "(3 rows)")

	out = c.run("query", "Person", "--where", "age>=18")
	assert.Contains(t, out, "Ann")
	assert.Contains(t, out, "Cid")
	assert.NotContains(t, out, "Bob")
	assert.Contains(t, out, "(2 rows)")

	out = c.run("query", "Person", "-w", "name=Bob", "--explain")
	assert.Contains(t, out, "plan ")
	assert.Contains(t, out, "Bob")
	assert.Contains(t, out, "(1 rows)")

	out = c.run("query", "Person", "--limit", "1")
	assert.Contains(t, out, "(1 rows)")

	_, err := c.exec("query", "Person", "--where", "height>3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown column")

	out = c.run("query", "--where", "class=Person")
	assert.Contains(t, out, "(3 rows)")
	assert.Contains(t, out, "Person")
}

func TestPropCommands(t *testing.T) {
	c := newCLI(t)
	c.run("class", "create", "Person", `{"properties":{
		"first":{"rules":{"type":"text"}},
		"last":{"rules":{"type":"text"}}
	}}`)
	id := c.insert("Person", `{"first":"Ann","last":"Lee"}`)

	c.run("prop", "create", "Person", "full", `{"rules":{"type":"text"}}`)
	c.run("prop", "merge", "Person", "full", "first", "last", "--separator", " ")
	out := c.run("object", "get", strconv.FormatInt(id, 10))
	assert.Contains(t, out, `"full": "Ann Lee"`)
	assert.NotContains(t, out, `"first"`)

	c.run("prop", "create", "Person", "given", `{"rules":{"type":"text"}}`)
	c.run("prop", "create", "Person", "family", `{"rules":{"type":"text"}}`)
	c.run("prop", "split", "Person", "full", "given", "family", "--regex", `^(\S+) (.*)$`)
	out = c.run("object", "get", strconv.FormatInt(id, 10))
	assert.Contains(t, out, `"given": "Ann"`)
	assert.Contains(t, out, `"family": "Lee"`)
	assert.NotContains(t, out, `"full"`)

	c.run("prop", "rename", "Person", "given", "firstName")
	out = c.run("object", "get", strconv.FormatInt(id, 10))
	assert.Contains(t, out, `"firstName": "Ann"`)

	c.run("prop", "drop", "Person", "family")
	out = c.run("class", "show", "Person")
	assert.NotContains(t, out, "family")

	_, err := c.exec("prop", "split", "Person", "firstName")
	require.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	c := newCLI(t)

	out := c.run("run", "list")
	for _, name := range flexilite.CommandNames() {
		assert.Contains(t, out, name)
	}

	c.run("run", "create_class", "Person", "--payload", personJSON)
	c.run("run", "rename property", "Person", "age", "years")
	out = c.run("class", "show", "Person")
	assert.Contains(t, out, "years")

	_, err := c.exec("run", "explode class", "Person")
	assert.ErrorIs(t, err, flexilite.ErrNotFound)

	_, err = c.exec("run")
	require.Error(t, err)
}

func TestStatsCommands(t *testing.T) {
	c := newCLI(t)
	c.run("class", "create", "Person", personJSON)
	id := c.insert("Person", `{"name":"Ann","age":31}`)
	c.run("object", "delete", strconv.FormatInt(id, 10))
	c.insert("Person", `{"name":"Bob","age":17}`)

	out := c.run("stats")
	assert.Contains(t, out, "Person")
	assert.Contains(t, out, "objects")

	out = c.run("stats", "buckets")
	assert.Contains(t, out, "objects")

	out = c.run("stats", "dump", "--only", "headers")
	assert.Contains(t, out, "Person #")

	_, err := c.exec("stats", "dump", "--only", "everything")
	require.Error(t, err)

	out = c.run("stats", "changes")
	assert.Contains(t, out, "insert")
	assert.Contains(t, out, "delete")

	out = c.run("stats", "changes", "--trim")
	assert.Contains(t, out, "Trimmed 3 entries")
	assert.Equal(t, "", c.run("stats", "changes"))
}

func TestInvalidModeFlag(t *testing.T) {
	c := newCLI(t)
	_, err := c.exec("--mode", "sometimes", "class", "list")
	require.Error(t, err)
}

func TestParseWhere(t *testing.T) {
	columns := []string{"name", "age"}
	tests := []struct {
		expr   string
		column int
		op     flexilite.Op
		value  any
	}{
		{"name=Ann", 0, flexilite.OpEQ, "Ann"},
		{"age >= 18", 1, flexilite.OpGE, float64(18)},
		{"age<3", 1, flexilite.OpLT, float64(3)},
		{"id=7", flexilite.IDColumn, flexilite.OpEQ, float64(7)},
		{`name~"quarterly report"`, 0, flexilite.OpMatch, "quarterly report"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			term, err := parseWhere(tt.expr, columns)
			require.NoError(t, err)
			assert.Equal(t, tt.column, term.column)
			assert.Equal(t, tt.op, term.op)
			assert.Equal(t, tt.value, term.value)
		})
	}

	_, err := parseWhere("name", columns)
	assert.Error(t, err)
	_, err = parseWhere("size=3", columns)
	assert.Error(t, err)
}

func TestFormatCell(t *testing.T) {
	assert.Equal(t, "", formatCell(nil))
	assert.Equal(t, "3", formatCell(float64(3)))
	assert.Equal(t, "2.5", formatCell(2.5))
	assert.Equal(t, `["a","b"]`, formatCell([]any{"a", "b"}))
	assert.Equal(t, "0a0b", formatCell([]byte{10, 11}))
	assert.Equal(t, "abc…", trimCell("abcdef", 3))
}
