package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/flynn/go-docopt"
	"github.com/flynn/mongorole/cli"
	"github.com/flynn/mongorole/pkg/roleerr"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	usage := strings.TrimPrefix(`
usage: mongorole [-h|--help] [--version] [--log-level=<level>] [--log-file=<path>] <command> [<args>...]

Options:
  -h, --help              Show this message
  --version               Show current version
  --log-level=<level>     crit, error, warn, info or debug [default: info]
  --log-file=<path>       also write logs to a rotated file

Commands:
  help     Show usage for a specific command
` + commandList() + `
See 'mongorole help <command>' for more information on a specific command.
`, "\n")

	args, _ := docopt.Parse(usage, nil, true, Version, true)
	cmd := args.String["<command>"]
	cmdArgs := args.All["<args>"].([]string)

	if cmd == "help" {
		if len(cmdArgs) == 0 { // `mongorole help`
			fmt.Print(usage)
			return
		}
		// `mongorole help <command>`
		cmd = cmdArgs[0]
		cmdArgs = []string{"--help"}
	}

	log, err := cli.NewLogger(args.String["--log-level"], args.String["--log-file"])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := cli.Run(cmd, cmdArgs, log); err != nil {
		if err != cli.ErrRunFailed {
			log.Error("command failed", "cmd", cmd, "err", err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for configuration errors, which abort before any change,
// and 1 otherwise.
func exitCode(err error) int {
	if roleerr.IsConfig(err) {
		return 2
	}
	return 1
}

func commandList() string {
	var b strings.Builder
	for _, name := range cli.Commands() {
		fmt.Fprintf(&b, "  %-8s %s\n", name, cli.Summary(name))
	}
	return b.String()
}
