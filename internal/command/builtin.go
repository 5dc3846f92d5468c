package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskd/internal/task"
)

const (
	usageList   = "list"
	usageAdd    = "add --name <name> --priority <1..5> (--in <relative> | --at <time>)"
	usageRemove = "remove (--byName <name> | --byPriority <1..5> | --byUUID <id>)"
	usageSort   = "sort (--byName | --byPriority | --byTime)"
	usageChange = "change (--Name <id> <name> | --Priority <id> <1..5> | --ExecuteAt <id> <±relative|time>)"
	usageHelp   = "help [command]"
	usageExit   = "exit"
)

func usage(u string) error { return fmt.Errorf("%w: %s", ErrUsage, u) }

func (r *Router) builtins() []Command {
	return []Command{
		{Name: "list", Aliases: []string{"ls"}, Description: "show all scheduled tasks", Usage: usageList, Handle: r.cmdList},
		{Name: "add", Description: "schedule a new task", Usage: usageAdd, Mutates: true, Handle: r.cmdAdd},
		{Name: "remove", Aliases: []string{"rm"}, Description: "remove tasks by name, priority or id", Usage: usageRemove, Mutates: true, Handle: r.cmdRemove},
		{Name: "sort", Description: "reorder the task list", Usage: usageSort, Mutates: true, Handle: r.cmdSort},
		{Name: "change", Description: "change the name, priority or execution time of a task", Usage: usageChange, Mutates: true, Handle: r.cmdChange},
		{Name: "help", Description: "show commands", Usage: usageHelp, Handle: r.cmdHelp},
		{Name: "exit", Aliases: []string{"quit"}, Description: "save and stop", Usage: usageExit, Quit: true, Handle: func(context.Context, *Request) error { return nil }},
	}
}

func (r *Router) cmdList(_ context.Context, req *Request) error {
	return r.sched.WriteList(req.Out)
}

func (r *Router) cmdHelp(_ context.Context, req *Request) error {
	name := ""
	if len(req.Args) > 0 {
		name = req.Args[0]
	}
	_, err := fmt.Fprintln(req.Out, r.Help(name))
	return err
}

func (r *Router) cmdAdd(_ context.Context, req *Request) error {
	name, ok := req.Flag("name")
	if !ok || strings.TrimSpace(name) == "" {
		return usage(usageAdd)
	}
	if err := checkName(name); err != nil {
		return err
	}
	prioRaw, ok := req.Flag("priority")
	if !ok {
		return usage(usageAdd)
	}
	prio, err := parsePriority(prioRaw)
	if err != nil {
		return err
	}

	var at time.Time
	switch {
	case req.flags.has("in"):
		d, err := ParseRelative(req.flags.words("in"))
		if err != nil {
			return err
		}
		at = req.Now.Add(d)
	case req.flags.has("at"):
		at, err = ParseAbsolute(req.flags.words("at"), r.loc)
		if err != nil {
			return err
		}
	default:
		return usage(usageAdd)
	}

	t, err := r.sched.AddNew(name, prio, at)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(req.Out, "added %s\n", t.ID())
	return err
}

func (r *Router) cmdRemove(_ context.Context, req *Request) error {
	if len(req.flags.order) != 1 {
		return usage(usageRemove)
	}
	key := req.flags.order[0]
	val := req.flags.words(key)
	if val == "" {
		return usage(usageRemove)
	}

	n := 0
	switch key {
	case "byname":
		n = r.sched.RemoveByName(val)
	case "bypriority":
		p, err := parsePriority(val)
		if err != nil {
			return err
		}
		n = r.sched.RemoveByPriority(p)
	case "byuuid", "byid":
		id, err := task.ParseID(val)
		if err != nil {
			return err
		}
		if r.sched.Remove(id) {
			n = 1
		}
	default:
		return usage(usageRemove)
	}
	_, err := fmt.Fprintf(req.Out, "removed %d\n", n)
	return err
}

func (r *Router) cmdSort(_ context.Context, req *Request) error {
	if len(req.flags.order) != 1 {
		return usage(usageSort)
	}
	switch req.flags.order[0] {
	case "byname":
		r.sched.SortByName()
	case "bypriority":
		r.sched.SortByPriority()
	case "bytime":
		r.sched.SortByTime()
	default:
		return usage(usageSort)
	}
	return nil
}

func (r *Router) cmdChange(_ context.Context, req *Request) error {
	if len(req.flags.order) != 1 {
		return usage(usageChange)
	}
	key := req.flags.order[0]
	words := req.FlagWords(key)
	if len(words) < 2 {
		return usage(usageChange)
	}
	id, err := task.ParseID(words[0])
	if err != nil {
		return err
	}
	val := strings.Join(words[1:], " ")

	var found bool
	switch key {
	case "name":
		if err := checkName(val); err != nil {
			return err
		}
		found, err = r.sched.ChangeName(id, val)
	case "priority":
		p, perr := parsePriority(val)
		if perr != nil {
			return perr
		}
		found, err = r.sched.ChangePriority(id, p)
	case "executeat":
		var at time.Time
		at, err = r.resolveExecuteAt(id, val)
		if err != nil {
			return err
		}
		if at.IsZero() {
			break
		}
		found, err = r.sched.ChangeExecuteAt(id, at)
	default:
		return usage(usageChange)
	}
	if err != nil {
		return err
	}
	if !found {
		_, err = fmt.Fprintf(req.Out, "no task %s\n", id)
		return err
	}
	_, err = fmt.Fprintf(req.Out, "changed %s\n", id)
	return err
}

// resolveExecuteAt reads val as an absolute time, or as an offset from the
// task's current execution time. A zero time means the task does not exist.
func (r *Router) resolveExecuteAt(id uuid.UUID, val string) (time.Time, error) {
	if at, err := ParseAbsolute(val, r.loc); err == nil {
		return at, nil
	}
	d, err := ParseRelative(val)
	if err != nil {
		return time.Time{}, err
	}
	cur, ok := r.sched.Get(id)
	if !ok {
		return time.Time{}, nil
	}
	return cur.ExecuteAt().Add(d), nil
}

// checkName keeps names storable as one line of the task file.
func checkName(name string) error {
	if strings.ContainsAny(name, "\t\r\n") {
		return fmt.Errorf("%w: name %q must not contain tabs or line breaks", task.ErrInvalidArgument, name)
	}
	return nil
}

func parsePriority(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: priority %q is not a number", task.ErrInvalidArgument, s)
	}
	return p, nil
}
