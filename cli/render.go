package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/flynn/go-docopt"
	"github.com/flynn/mongorole/host"
	"github.com/flynn/mongorole/mongodconf"
	"github.com/pkg/errors"
)

func init() {
	Register("render", runRender, `
usage: mongorole render [options]

Options:
  -c --config=<path>  run configuration [default: /etc/mongorole/mongorole.yml]
  --check             compare with the file on disk instead of printing

Print the mongod configuration file for this node.`)
}

func runRender(args *docopt.Args) error {
	d, err := loadDesired(args.String["--config"])
	if err != nil {
		return err
	}
	rendered, err := mongodconf.Render(&d.Node)
	if err != nil {
		return err
	}
	if !args.Bool["--check"] {
		_, err := os.Stdout.Write(rendered)
		return err
	}

	existing, err := host.NewFS().ReadFile(d.ConfigPath)
	switch {
	case err != nil:
		return err
	case existing == nil:
		return errors.Errorf("%s does not exist", d.ConfigPath)
	case bytes.Equal(existing, rendered):
		fmt.Printf("%s is up to date\n", d.ConfigPath)
		return nil
	}
	observed, err := mongodconf.Parse(existing)
	if err != nil {
		return errors.Wrapf(err, "%s differs and cannot be parsed", d.ConfigPath)
	}
	if diff := mongodconf.Diff(observed, &d.Node); diff != "" {
		fmt.Printf("%s differs (-observed +desired):\n%s", d.ConfigPath, diff)
	} else {
		fmt.Printf("%s differs in formatting only\n", d.ConfigPath)
	}
	return errors.Errorf("%s is out of date", d.ConfigPath)
}
