// Package cli implements the mongorole subcommands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"unicode"

	"github.com/flynn/go-docopt"
	"github.com/flynn/mongorole/config"
	"github.com/flynn/mongorole/pkg/roleerr"
	"github.com/inconshreveable/log15"
	"github.com/mattn/go-colorable"
	"github.com/moby/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultConfigPath is where the run configuration is read from.
const DefaultConfigPath = "/etc/mongorole/mongorole.yml"

type command struct {
	usage string
	f     interface{}
}

var commands = make(map[string]*command)

// Register adds a subcommand. f is a func(*docopt.Args) error or a
// func(*docopt.Args, log15.Logger) error.
func Register(name string, f interface{}, usage string) {
	switch f.(type) {
	case func(*docopt.Args) error, func(*docopt.Args, log15.Logger) error:
	default:
		panic(fmt.Sprintf("invalid command function %s '%T'", name, f))
	}
	commands[name] = &command{usage: strings.TrimLeftFunc(usage, unicode.IsSpace), f: f}
}

// Commands returns the registered command names, sorted.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary returns the last line of the usage of name, which describes the
// command.
func Summary(name string) string {
	cmd, ok := commands[name]
	if !ok {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(cmd.usage), "\n")
	return lines[len(lines)-1]
}

// Run parses args against the usage of the named command and runs it.
func Run(name string, args []string, log log15.Logger) error {
	argv := make([]string, 1, 1+len(args))
	argv[0] = name
	argv = append(argv, args...)

	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%s is not a mongorole command. See 'mongorole help'", name)
	}
	parsedArgs, err := docopt.Parse(cmd.usage, argv, true, "", false)
	if err != nil {
		return err
	}

	switch f := cmd.f.(type) {
	case func(*docopt.Args) error:
		return f(parsedArgs)
	case func(*docopt.Args, log15.Logger) error:
		return f(parsedArgs, log.New("cmd", name))
	}
	return fmt.Errorf("unexpected command type %T", cmd.f)
}

// NewLogger returns the root logger. Records at or above level go to
// stderr, and also to a rotated logfmt file when logFile is set.
func NewLogger(level, logFile string) (log15.Logger, error) {
	lvl, err := log15.LvlFromString(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	format := log15.LogfmtFormat()
	if term.IsTerminal(os.Stderr.Fd()) {
		format = log15.TerminalFormat()
	}
	handlers := []log15.Handler{log15.StreamHandler(colorable.NewColorableStderr(), format)}
	if logFile != "" {
		handlers = append(handlers, log15.StreamHandler(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
		}, log15.LogfmtFormat()))
	}
	log := log15.New("app", "mongorole")
	log.SetHandler(log15.LvlFilterHandler(lvl, log15.MultiHandler(handlers...)))
	return log, nil
}

// loadDesired reads the run configuration at path and resolves it.
func loadDesired(path string) (*config.Desired, error) {
	ov, err := config.Load(path)
	if err != nil {
		return nil, roleerr.Config(path, "%s", err)
	}
	return config.Resolve(ov, config.Defaults)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func tabWriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 1, 2, 2, ' ', 0)
}

func listRec(w io.Writer, a ...interface{}) {
	for i, x := range a {
		fmt.Fprint(w, x)
		if i+1 < len(a) {
			w.Write([]byte{'\t'})
		} else {
			w.Write([]byte{'\n'})
		}
	}
}
