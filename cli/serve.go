package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/flynn/go-docopt"
	"github.com/flynn/mongorole/admin"
	"github.com/flynn/mongorole/facts"
	"github.com/flynn/mongorole/reconcile"
	"github.com/flynn/mongorole/status"
	"github.com/inconshreveable/log15"
)

func init() {
	Register("serve", runServe, `
usage: mongorole serve [options]

Options:
  -j --journal=<path>  run journal [default: /var/lib/mongorole/journal.db]
  -l --listen=<addr>   address to listen on [default: 127.0.0.1:27080]
  -c --config=<path>   run configuration, enables live daemon status

Serve the run journal over HTTP.`)
}

func runServe(args *docopt.Args, log log15.Logger) error {
	srv := &status.Server{
		JournalPath: args.String["--journal"],
		LockWait:    500 * time.Millisecond,
		Logger:      log,
	}
	if path := args.String["--config"]; path != "" {
		d, err := loadDesired(path)
		if err != nil {
			return err
		}
		collector := &facts.Collector{Connector: admin.NewDialer(log), Logger: log}
		target := reconcile.LocalTarget(d).WithCredential(d.AdminCredential())
		srv.Daemon = func(ctx context.Context) (*facts.Daemon, error) {
			return collector.Daemon(ctx, target)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := srv.ListenAndServe(ctx, args.String["--listen"]); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
