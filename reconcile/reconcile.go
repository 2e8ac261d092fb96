// Package reconcile brings a node from its observed state to the desired
// state, one ordered stage at a time, and reports a per-resource outcome.
package reconcile

import (
	"context"
	"time"

	"github.com/flynn/mongorole/admin"
	"github.com/flynn/mongorole/config"
	"github.com/flynn/mongorole/facts"
	"github.com/flynn/mongorole/host"
	"github.com/flynn/mongorole/pkg/roleerr"
	"github.com/flynn/mongorole/replset"
	"github.com/inconshreveable/log15"
)

// Reconciler applies one node's desired state.
type Reconciler struct {
	Desired   *config.Desired
	FS        *host.FS
	Packages  host.PackageManager
	Services  host.ServiceManager
	Connector admin.Connector
	// StateDir holds the install source record. Empty disables it.
	StateDir string
	DryRun   bool
	Logger   log15.Logger
}

// run is the state of a single Reconciler.Run.
type run struct {
	*Reconciler
	ctx    context.Context
	log    log15.Logger
	report *Report
	host   *facts.Host
	local  admin.Target
	boot   *replset.Bootstrapper

	// restartFor lists why the daemon must be restarted.
	restartFor []string
}

type stage struct {
	name  string
	fatal bool
	// enabled is nil for stages that always run.
	enabled   func(*run) bool
	resources func(*run) []string
	// apply records results and reports whether every resource succeeded.
	apply func(*run) bool
}

var stages = []stage{
	{name: "package", fatal: true, resources: packageResources, apply: (*run).pkg},
	{name: "tuning", enabled: tuningEnabled, resources: tuningResources, apply: (*run).tuning},
	{name: "directories", fatal: true, resources: dirResources, apply: (*run).directories},
	{name: "keyfile", fatal: true, enabled: keyfileEnabled, resources: keyfileResources, apply: (*run).keyfile},
	{name: "config", fatal: true, resources: configResources, apply: (*run).configFile},
	{name: "service", fatal: true, resources: serviceResources, apply: (*run).service},
	{name: "replset", fatal: true, enabled: replsetEnabled, resources: replsetResources, apply: (*run).initialize},
	{name: "users", enabled: usersEnabled, resources: userResources, apply: (*run).users},
	{name: "members", enabled: replsetEnabled, resources: memberResources, apply: (*run).members},
}

// Run reconciles the node and returns the report. Failures are recorded
// in the report rather than returned.
func (r *Reconciler) Run(ctx context.Context) *Report {
	d := r.Desired
	rn := &run{
		Reconciler: r,
		ctx:        ctx,
		log:        r.Logger.New("fn", "Run", "node", d.Host),
		report:     &Report{Node: d.Host, DryRun: r.DryRun, Started: time.Now()},
		local:      LocalTarget(d),
	}
	defer func() { rn.report.Finished = time.Now() }()
	rn.log.Info("starting run", "version", d.Version, "dry_run", r.DryRun)

	collector := &facts.Collector{FS: r.FS, Packages: r.Packages, Services: r.Services, Connector: r.Connector, Logger: r.Logger}
	var err error
	if rn.host, err = collector.Host(ctx, d); err != nil {
		rn.fail("host", err)
		rn.skip(stages)
		return rn.report
	}

	for i, st := range stages {
		if st.enabled != nil && !st.enabled(rn) {
			continue
		}
		log := rn.log.New("stage", st.name)
		log.Debug("starting stage")
		if ok := st.apply(rn); !ok && st.fatal {
			log.Error("stage failed, skipping remaining stages")
			rn.skip(stages[i+1:])
			break
		}
	}
	if rn.boot != nil {
		rn.report.ReplicaSetState = rn.boot.State().String()
	}
	t := rn.report.Tally()
	rn.log.Info("run finished", "unchanged", t.Unchanged, "changed", t.Changed, "failed", t.Failed, "skipped", t.Skipped, "pending", t.Pending)
	return rn.report
}

func (r *run) skip(rest []stage) {
	for _, st := range rest {
		if st.enabled != nil && !st.enabled(r) {
			continue
		}
		r.report.Skipped = append(r.report.Skipped, st.resources(r)...)
	}
}

func (r *run) unchanged(resource, detail string) {
	r.log.Info("unchanged", "resource", resource, "detail", detail)
	r.report.add(Result{Resource: resource, Outcome: Unchanged, Detail: detail})
}

func (r *run) changed(resource, detail string) {
	r.log.Info("changed", "resource", resource, "detail", detail)
	r.report.add(Result{Resource: resource, Outcome: Changed, Detail: detail})
}

func (r *run) fail(resource string, err error) {
	r.log.Error("failed", "resource", resource, "err", err)
	r.report.add(Result{Resource: resource, Outcome: Failed, Error: err.Error(), Kind: roleerr.KindOf(err)})
}

// would picks the dry run or the applied wording of a change.
func (r *run) would(do, done string) string {
	if r.DryRun {
		return "would " + do
	}
	return done
}

func (r *run) needRestart(reason string) {
	r.restartFor = append(r.restartFor, reason)
}

// needsDaemon reports whether later stages talk to the daemon.
func (r *run) needsDaemon() bool {
	return r.Desired.ReplicaSet != nil || len(r.Desired.Users.All()) > 0
}

// LocalTarget returns the loopback address of the node's own daemon, or
// the first bind address when the daemon does not listen on loopback.
func LocalTarget(d *config.Desired) admin.Target {
	t := admin.Target{Host: "127.0.0.1", Port: d.Node.Net.Port, TLS: d.ClientTLS}
	for _, ip := range d.Node.Net.BindIP {
		switch ip {
		case "127.0.0.1", "0.0.0.0", "localhost", "::", "*":
			return t
		}
	}
	for _, ip := range d.Node.Net.BindIP {
		if ip == "::1" {
			t.Host = ip
			return t
		}
	}
	if len(d.Node.Net.BindIP) > 0 {
		t.Host = d.Node.Net.BindIP[0]
	}
	return t
}
