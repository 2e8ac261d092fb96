package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/flynn/go-docopt"
	"github.com/flynn/mongorole/admin"
	"github.com/flynn/mongorole/host"
	"github.com/flynn/mongorole/journal"
	"github.com/flynn/mongorole/pkg/installsource"
	"github.com/flynn/mongorole/reconcile"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

// ErrRunFailed is returned by apply when any resource failed.
var ErrRunFailed = errors.New("run failed")

func init() {
	Register("apply", runApply, `
usage: mongorole apply [options]

Options:
  -c --config=<path>       run configuration [default: /etc/mongorole/mongorole.yml]
  -j --journal=<path>      run journal [default: /var/lib/mongorole/journal.db]
  --state-dir=<dir>        install source directory [default: /var/lib/mongorole]
  --lock-timeout=<dur>     how long to wait for a concurrent run [default: 10s]
  --keep=<n>               number of runs kept in the journal [default: 100]
  -n --dry-run             report what would change without changing it

Reconcile this node with its run configuration.`)
}

func runApply(args *docopt.Args, log log15.Logger) error {
	d, err := loadDesired(args.String["--config"])
	if err != nil {
		return err
	}
	lockWait, err := time.ParseDuration(args.String["--lock-timeout"])
	if err != nil {
		return fmt.Errorf("invalid --lock-timeout: %s", err)
	}
	keep, err := strconv.Atoi(args.String["--keep"])
	if err != nil || keep < 1 {
		return fmt.Errorf("invalid --keep %q", args.String["--keep"])
	}

	j, err := journal.Open(args.String["--journal"], lockWait)
	if err == journal.ErrLocked {
		return errors.Errorf("another run against this node holds %s", args.String["--journal"])
	} else if err != nil {
		return err
	}
	defer j.Close()

	fs := host.NewFS()
	runner := &host.ExecRunner{Logger: log}
	pkgs, err := host.DetectPackageManager(fs, runner)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	r := &reconcile.Reconciler{
		Desired:   d,
		FS:        fs,
		Packages:  pkgs,
		Services:  &host.Systemd{Runner: runner},
		Connector: admin.NewDialer(log),
		StateDir:  stateDir(args.String["--state-dir"]),
		DryRun:    args.Bool["--dry-run"],
		Logger:    log,
	}
	report := r.Run(ctx)

	id, err := j.Record(report)
	if err != nil {
		log.Error("error recording run", "err", err)
	} else if removed, err := j.Prune(keep); err != nil {
		log.Error("error pruning journal", "err", err)
	} else if removed > 0 {
		log.Debug("pruned journal", "removed", removed)
	}

	printReport(os.Stdout, id, report)
	if report.Failed() {
		return ErrRunFailed
	}
	return nil
}

func stateDir(dir string) string {
	if dir == "" {
		return installsource.DefaultConfigDir
	}
	return dir
}

func printReport(out io.Writer, id uint64, r *reconcile.Report) {
	w := tabWriter(out)
	listRec(w, "RESOURCE", "OUTCOME", "DETAIL")
	for _, res := range r.Results {
		detail := res.Detail
		if res.Outcome == reconcile.Failed {
			detail = res.Error
		}
		listRec(w, res.Resource, res.Outcome, detail)
	}
	for _, res := range r.Skipped {
		listRec(w, res, "skipped", "")
	}
	w.Flush()

	t := r.Tally()
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	run := "run"
	if id > 0 {
		run = fmt.Sprintf("run %d", id)
	}
	fmt.Fprintf(out, "\n%s on %s%s: %d changed, %d unchanged, %d failed, %d skipped in %s\n",
		run, r.Node, mode, t.Changed, t.Unchanged, t.Failed, t.Skipped, units.HumanDuration(r.Duration()))
	if r.ReplicaSetState != "" {
		fmt.Fprintf(out, "replica set: %s\n", r.ReplicaSetState)
	}
	if len(r.Pending) > 0 {
		fmt.Fprintf(out, "pending members: %s\n", strings.Join(r.Pending, ", "))
	}
}
