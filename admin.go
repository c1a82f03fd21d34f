package flexilite

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
)

// CommandOptions apply to every administrative command.
type CommandOptions struct {
	Mode ValidationMode
}

type command struct {
	minIDs int
	usage  string
	run    func(c *Conn, ids []string, payload []byte, opts CommandOptions) error
}

var commands = map[string]command{
	"create class": {1, "<class> {classJSON}", func(c *Conn, ids []string, payload []byte, _ CommandOptions) error {
		_, err := c.CreateClass(ids[0], payload)
		return err
	}},
	"alter class": {1, "<class> {classJSON}", func(c *Conn, ids []string, payload []byte, opts CommandOptions) error {
		_, err := c.AlterClass(ids[0], payload, AlterOptions{Mode: opts.Mode})
		return err
	}},
	"drop class": {1, "<class>", func(c *Conn, ids []string, _ []byte, _ CommandOptions) error {
		return c.DropClass(ids[0])
	}},
	"rename class": {2, "<class> <newName>", func(c *Conn, ids []string, _ []byte, _ CommandOptions) error {
		return c.RenameClass(ids[0], ids[1])
	}},
	"create property": {2, "<class> <property> {propJSON}", func(c *Conn, ids []string, payload []byte, opts CommandOptions) error {
		_, err := c.CreateProperty(ids[0], ids[1], payload, AlterOptions{Mode: opts.Mode})
		return err
	}},
	"alter property": {2, "<class> <property> {propJSON}", func(c *Conn, ids []string, payload []byte, opts CommandOptions) error {
		_, err := c.AlterProperty(ids[0], ids[1], payload, AlterOptions{Mode: opts.Mode})
		return err
	}},
	"drop property": {2, "<class> <property>", func(c *Conn, ids []string, _ []byte, _ CommandOptions) error {
		return c.DropProperty(ids[0], ids[1])
	}},
	"rename property": {3, "<class> <property> <newName>", func(c *Conn, ids []string, _ []byte, _ CommandOptions) error {
		return c.RenameProperty(ids[0], ids[1], ids[2])
	}},
	"merge property": {3, `<class> <target> <source>... {"separator", "keepSources"}`, func(c *Conn, ids []string, payload []byte, _ CommandOptions) error {
		var p struct {
			Separator   string `json:"separator"`
			KeepSources bool   `json:"keepSources"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return err
		}
		return c.MergeProperties(ids[0], ids[2:], ids[1], MergeOptions{Separator: p.Separator, KeepSources: p.KeepSources})
	}},
	"split property": {2, `<class> <source> [<target>...] {"regex", "keepSource"}`, func(c *Conn, ids []string, payload []byte, _ CommandOptions) error {
		var p struct {
			Regex      string `json:"regex"`
			KeepSource bool   `json:"keepSource"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return err
		}
		if p.Regex == "" {
			return ruleErrf("split property needs a regex").class(ids[0]).prop(ids[1])
		}
		return c.SplitProperty(ids[0], ids[1], p.Regex, ids[2:], p.KeepSource)
	}},
	"properties to object": {4, "<class> <refProperty> <targetClass> <property>...", func(c *Conn, ids []string, _ []byte, _ CommandOptions) error {
		return c.PropertiesToObject(ids[0], ids[3:], ids[1], ids[2])
	}},
	"object to properties": {2, `<class> <refProperty> {"keepObjects"}`, func(c *Conn, ids []string, payload []byte, _ CommandOptions) error {
		var p struct {
			KeepObjects bool `json:"keepObjects"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return err
		}
		return c.ObjectToProperties(ids[0], ids[1], p.KeepObjects)
	}},
	"change object class": {2, "<objectID> <class>", func(c *Conn, ids []string, _ []byte, _ CommandOptions) error {
		id, err := strconv.ParseInt(ids[0], 10, 64)
		if err != nil {
			return ruleErrf("invalid object id %q", ids[0])
		}
		return c.ChangeObjectClass(id, ids[1])
	}},
}

func commandKey(name string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	}), " ")
}

// CommandNames lists the administrative commands.
func CommandNames() []string {
	names := make([]string, 0, len(commands))
	for k := range commands {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// CommandUsage describes the arguments of a command.
func CommandUsage(name string) (string, bool) {
	cmd, ok := commands[commandKey(name)]
	return cmd.usage, ok
}

// RunCommand runs an administrative command by name, e.g. "alter class" or
// "split_property". ids are the identifiers the command operates on; payload
// is its JSON argument.
func (c *Conn) RunCommand(name string, ids []string, payload []byte, opts CommandOptions) error {
	cmd, ok := commands[commandKey(name)]
	if !ok {
		return notFoundErrf("unknown command %q", name)
	}
	if len(ids) < cmd.minIDs {
		return ruleErrf("%s: usage: %s", commandKey(name), cmd.usage)
	}
	return cmd.run(c, ids, payload, opts)
}

func decodePayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errf(ErrConstraintRule, err, "invalid command payload")
	}
	return nil
}
