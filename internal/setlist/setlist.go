// Package setlist maps "set <dev> <cmd> [args...]" invocations onto typed
// command tables and renders the usage list the host shows for "set <dev> ?".
package setlist

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mfulz/geistbind/interfaces"
)

// Param describes one named parameter of a command.
type Param struct {
	Default  string
	Required bool
}

// Func runs a command with its resolved parameters.
type Func func(ctx context.Context, call *interfaces.Call, params map[string]string) (string, error)

// Command is one entry of a set list.
type Command struct {
	Name string
	// Args names the positional arguments following the command.
	Args   []string
	Params map[string]Param
	// Options is the host widget hint, e.g. "eco,comfort" or "slider,10,1,30".
	Options string
	Func    Func
}

// List is an ordered set list.
type List []Command

// Usage renders the "choose one of" answer for the host.
func (l List) Usage() string {
	items := make([]string, 0, len(l))
	for _, c := range l {
		switch {
		case c.Options != "":
			items = append(items, c.Name+":"+c.Options)
		case len(c.Args) > 0 || len(c.Params) > 0:
			items = append(items, c.Name)
		default:
			items = append(items, c.Name+":noArg")
		}
	}
	return "Unknown argument ?, choose one of " + strings.Join(items, " ")
}

func (l List) find(name string) (Command, bool) {
	for _, c := range l {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// Handle dispatches a Set call. call.Args holds the device name followed by
// the command and its arguments. Usage problems are returned as the result
// string, not as errors, so the host displays them.
func Handle(ctx context.Context, l List, call *interfaces.Call) (string, error) {
	args := call.Args
	if len(args) < 2 || (len(call.ArgsH) == 0 && args[1] == "?") {
		return l.Usage(), nil
	}

	cmd, ok := l.find(args[1])
	if !ok {
		return "Command not available for this device.", nil
	}

	rest := args[2:]
	if len(rest) > len(cmd.Args) {
		return fmt.Sprintf("Too many args provided. Usage: set %s %s %s",
			call.Name(), cmd.Name, strings.Join(cmd.Args, " ")), nil
	}

	params := make(map[string]string, len(cmd.Args)+len(cmd.Params))
	for i, v := range rest {
		params[cmd.Args[i]] = v
	}
	for k, v := range call.ArgsH {
		if cmd.accepts(k) {
			params[k] = v
		}
	}

	names := make([]string, 0, len(cmd.Params))
	for name := range cmd.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := params[name]; ok {
			continue
		}
		p := cmd.Params[name]
		if p.Required {
			return fmt.Sprintf("Required argument %s missing.", name), nil
		}
		params[name] = p.Default
	}

	if cmd.Func == nil {
		return "", nil
	}
	return cmd.Func(ctx, call, params)
}

func (c Command) accepts(name string) bool {
	if _, ok := c.Params[name]; ok {
		return true
	}
	for _, a := range c.Args {
		if a == name {
			return true
		}
	}
	return false
}
