package cli

import (
	"encoding/json"
	"os"

	"github.com/flynn/go-docopt"
	"github.com/flynn/mongorole/admin"
	"github.com/flynn/mongorole/facts"
	"github.com/flynn/mongorole/host"
	"github.com/flynn/mongorole/reconcile"
	"github.com/inconshreveable/log15"
)

func init() {
	Register("facts", runFacts, `
usage: mongorole facts [options]

Options:
  -c --config=<path>  run configuration [default: /etc/mongorole/mongorole.yml]

Print what this node currently looks like, as JSON.`)
}

type nodeFacts struct {
	Host   *facts.Host   `json:"host"`
	Daemon *facts.Daemon `json:"daemon"`
}

func runFacts(args *docopt.Args, log log15.Logger) error {
	d, err := loadDesired(args.String["--config"])
	if err != nil {
		return err
	}
	fs := host.NewFS()
	runner := &host.ExecRunner{Logger: log}
	pkgs, err := host.DetectPackageManager(fs, runner)
	if err != nil {
		return err
	}
	collector := &facts.Collector{
		FS:        fs,
		Packages:  pkgs,
		Services:  &host.Systemd{Runner: runner},
		Connector: admin.NewDialer(log),
		Logger:    log,
	}

	ctx, cancel := signalContext()
	defer cancel()

	var out nodeFacts
	if out.Host, err = collector.Host(ctx, d); err != nil {
		return err
	}
	target := reconcile.LocalTarget(d).WithCredential(d.AdminCredential())
	if out.Daemon, err = collector.Daemon(ctx, target); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
