package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/dustin/go-humanize"
	"github.com/flynn/go-docopt"
	"github.com/flynn/mongorole/journal"
	"github.com/pkg/errors"
)

func init() {
	Register("status", runStatus, `
usage: mongorole status [options]

Options:
  -j --journal=<path>  run journal [default: /var/lib/mongorole/journal.db]
  --history=<n>        list the last n runs instead of the last report

Show the last recorded run on this node.`)
}

func runStatus(args *docopt.Args) error {
	path := args.String["--journal"]
	j, err := journal.OpenReadOnly(path, time.Second)
	switch {
	case os.IsNotExist(err):
		fmt.Println("no runs recorded")
		return nil
	case err == journal.ErrLocked:
		fmt.Println("a run is in progress")
		return nil
	case err != nil:
		return err
	}
	defer j.Close()

	if h := args.String["--history"]; h != "" {
		n, err := strconv.Atoi(h)
		if err != nil || n < 1 {
			return errors.Errorf("invalid --history %q", h)
		}
		return printHistory(j, n)
	}

	last, err := j.Last()
	if err != nil {
		return err
	}
	if last == nil {
		fmt.Println("no runs recorded")
		return nil
	}
	fmt.Printf("last run started %s\n\n", humanize.Time(last.Report.Started))
	printReport(os.Stdout, last.ID, last.Report)
	return nil
}

func printHistory(j *journal.Journal, n int) error {
	entries, err := j.List(n)
	if err != nil {
		return err
	}
	w := tabWriter(os.Stdout)
	defer w.Flush()
	listRec(w, "ID", "STARTED", "DURATION", "CHANGED", "FAILED", "SKIPPED", "DRY RUN")
	for _, e := range entries {
		t := e.Report.Tally()
		listRec(w,
			e.ID,
			humanize.Time(e.Report.Started),
			units.HumanDuration(e.Report.Duration()),
			t.Changed,
			t.Failed,
			t.Skipped,
			e.Report.DryRun,
		)
	}
	return nil
}
