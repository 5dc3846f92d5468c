package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// ErrUsage marks a malformed command line. The message carries the usage text.
var ErrUsage = errors.New("usage")

// ErrUnknown is returned for a command name that is not registered.
var ErrUnknown = errors.New("unknown command")

// Scheduler is the part of the scheduler the built-in commands drive.
type Scheduler interface {
	AddNew(name string, priority int, executeAt time.Time) (task.Task, error)
	Get(id uuid.UUID) (task.Task, bool)
	Remove(id uuid.UUID) bool
	RemoveByName(name string) int
	RemoveByPriority(priority int) int
	SortByName()
	SortByPriority()
	SortByTime()
	ChangeName(id uuid.UUID, name string) (bool, error)
	ChangePriority(id uuid.UUID, priority int) (bool, error)
	ChangeExecuteAt(id uuid.UUID, at time.Time) (bool, error)
	WriteList(w io.Writer) error
}

// HandlerFunc runs one command. Output goes to req.Out.
type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Mutates triggers the save hook after a successful run.
	Mutates bool
	// Quit ends Run after the command.
	Quit   bool
	Handle HandlerFunc
}

type Request struct {
	Command string
	Args    []string
	flags   flagSet
	Out     io.Writer
	Now     time.Time
}

// Flag returns the words of flag key (lower case) joined by spaces.
func (r *Request) Flag(key string) (string, bool) {
	if !r.flags.has(key) {
		return "", false
	}
	return r.flags.words(key), true
}

// FlagWords returns the raw tokens of flag key.
func (r *Request) FlagWords(key string) []string { return r.flags.values[key] }

// Flags returns the flag names in the order given.
func (r *Request) Flags() []string { return append([]string(nil), r.flags.order...) }

type Options struct {
	Scheduler Scheduler
	Log       logx.Logger
	// Save runs after every successful mutating command. Its error is reported
	// but does not fail the command.
	Save func(ctx context.Context) error
	// Now defaults to time.Now.
	Now func() time.Time
	// Location is used for wall clock --at values (default time.Local).
	Location *time.Location
}

// Router maps command names to handlers.
type Router struct {
	log   logx.Logger
	sched Scheduler
	save  func(ctx context.Context) error
	now   func() time.Time
	loc   *time.Location

	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]*Command
}

// NewRouter returns a router with the built-in task commands registered.
func NewRouter(opts Options) *Router {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	r := &Router{
		log:   log,
		sched: opts.Scheduler,
		save:  opts.Save,
		now:   now,
		loc:   loc,
		cmds:  map[string]*Command{},
		alias: map[string]*Command{},
	}
	for _, c := range r.builtins() {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds c. Names and aliases are case-insensitive and must be unique.
func (r *Router) Register(c Command) error {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	if name == "" || c.Handle == nil {
		return errors.New("command: name and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := append([]string{name}, c.Aliases...)
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if _, ok := r.cmds[k]; ok {
			return fmt.Errorf("command: %q already registered", k)
		}
		if _, ok := r.alias[k]; ok {
			return fmt.Errorf("command: %q already registered", k)
		}
	}
	cp := c
	cp.Name = name
	r.cmds[name] = &cp
	for _, a := range c.Aliases {
		r.alias[strings.ToLower(strings.TrimSpace(a))] = &cp
	}
	return nil
}

func (r *Router) lookup(name string) (*Command, bool) {
	name = strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cmds[name]; ok {
		return c, true
	}
	c, ok := r.alias[name]
	return c, ok
}

// Exec runs one line. It reports quit=true for a quitting command. Blank lines
// are ignored.
func (r *Router) Exec(ctx context.Context, line string, out io.Writer) (quit bool, err error) {
	toks := tokenizeLine(line)
	if len(toks) == 0 {
		return false, nil
	}
	c, ok := r.lookup(toks[0])
	if !ok {
		return false, fmt.Errorf("%w %q (try help)", ErrUnknown, toks[0])
	}
	pos, flags := parseFlags(toks[1:])
	req := &Request{Command: c.Name, Args: pos, flags: flags, Out: out, Now: r.now()}

	start := time.Now()
	if err := c.Handle(ctx, req); err != nil {
		r.log.Debug("command failed", logx.String("cmd", c.Name), logx.Err(err))
		return false, err
	}
	r.log.Debug("command done", logx.String("cmd", c.Name), logx.Duration("took", time.Since(start)))

	if c.Mutates && r.save != nil {
		if err := r.save(ctx); err != nil {
			r.log.Warn("save after command failed", logx.String("cmd", c.Name), logx.Err(err))
			fmt.Fprintf(out, "warning: save failed: %v\n", err)
		}
	}
	return c.Quit, nil
}

// Run reads lines from in until a quitting command (nil), the end of input
// (io.EOF) or ctx is done. Errors are written to out as "error: ..." and the
// loop continues.
func (r *Router) Run(ctx context.Context, in io.Reader, out io.Writer, prompt string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		readErr <- err
		close(lines)
	}()

	for {
		if prompt != "" {
			fmt.Fprint(out, prompt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return <-readErr
			}
			quit, err := r.Exec(ctx, line, out)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// Help renders the command list, or the usage of one command.
func (r *Router) Help(name string) string {
	if name != "" {
		c, ok := r.lookup(name)
		if !ok {
			return fmt.Sprintf("unknown command %q", name)
		}
		s := c.Name + ": " + c.Description
		if c.Usage != "" {
			s += "\nusage: " + c.Usage
		}
		return s
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.cmds))
	for k := range r.cmds {
		names = append(names, k)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	lines := []string{"commands:"}
	for _, n := range names {
		c, _ := r.lookup(n)
		u := c.Usage
		if u == "" {
			u = c.Name
		}
		lines = append(lines, "  "+u)
	}
	return strings.Join(lines, "\n")
}
