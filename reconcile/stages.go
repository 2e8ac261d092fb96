package reconcile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/flynn/mongorole/admin"
	"github.com/flynn/mongorole/config"
	"github.com/flynn/mongorole/host"
	"github.com/flynn/mongorole/keyfile"
	"github.com/flynn/mongorole/mongodconf"
	"github.com/flynn/mongorole/pkg/installsource"
	"github.com/flynn/mongorole/pkg/roleerr"
	"github.com/flynn/mongorole/replset"
	"github.com/pkg/errors"
)

const (
	dataDirMode  = 0750
	otherDirMode = 0755
	keyfileMode  = 0400
	configMode   = 0644
)

func packageResources(r *run) []string { return []string{"package:" + r.Desired.Package.Name} }

func (r *run) pkg() bool {
	p := r.Desired.Package
	res := "package:" + p.Name
	installed := r.host.PackageVersion

	want := p.Version
	if want == "" && installed == "" && r.StateDir != "" {
		// reinstall what this node ran before
		if rec, err := installsource.Load(r.StateDir); err == nil && rec.Matches(p.Source, p.Name) {
			want = rec.Version
		}
	}
	if host.VersionMatches(installed, want) {
		r.unchanged(res, installed)
		return true
	}
	if r.DryRun {
		r.changed(res, "would install "+versionLabel(want))
		return true
	}

	if err := r.Packages.Install(r.ctx, p.Name, want); err != nil {
		r.fail(res, roleerr.Apply(res, err))
		return false
	}
	version, err := r.Packages.Installed(r.ctx, p.Name)
	if err != nil {
		r.fail(res, roleerr.Observation(res, err))
		return false
	}
	if !host.VersionMatches(version, want) {
		r.fail(res, roleerr.Apply(res, errors.Errorf("installed version %q does not satisfy %q", version, want)))
		return false
	}
	if r.StateDir != "" {
		rec := installsource.New(p.Source, p.Name, r.Packages.Name(), version)
		if err := installsource.Save(r.StateDir, rec); err != nil {
			r.log.Warn("failed to record install source", "err", err)
		}
	}
	if installed != "" {
		r.needRestart("package")
	}
	r.changed(res, "installed "+version)
	return true
}

func versionLabel(v string) string {
	if v == "" {
		return "latest"
	}
	return v
}

func tuningEnabled(r *run) bool       { return r.Desired.Tuning.DisableTHP }
func tuningResources(r *run) []string { return []string{"tuning:thp"} }

func (r *run) tuning() bool {
	const res = "tuning:thp"
	switch {
	case r.host.THP == nil:
		r.unchanged(res, "unsupported")
		return true
	case r.host.THP.Disabled():
		r.unchanged(res, "never")
		return true
	case r.DryRun:
		r.changed(res, "would disable")
		return true
	}
	if err := host.DisableTHP(r.FS); err != nil {
		r.fail(res, roleerr.Apply(res, err))
		return false
	}
	r.changed(res, "disabled")
	return true
}

type dir struct {
	path string
	mode os.FileMode
}

func (r *run) dirs() []dir {
	n := r.Desired.Node
	dirs := []dir{{n.Storage.DBPath, dataDirMode}}
	seen := map[string]bool{n.Storage.DBPath: true}
	add := func(file string) {
		p := filepath.Dir(file)
		if file == "" || seen[p] {
			return
		}
		seen[p] = true
		dirs = append(dirs, dir{p, otherDirMode})
	}
	if n.SystemLog.Destination == "file" {
		add(n.SystemLog.Path)
	}
	add(n.ProcessManagement.PIDFilePath)
	return dirs
}

func dirResources(r *run) []string {
	var res []string
	for _, d := range r.dirs() {
		res = append(res, "directory:"+d.path)
	}
	return res
}

func (r *run) directories() bool {
	ok := true
	for _, d := range r.dirs() {
		res := "directory:" + d.path
		if r.DryRun {
			info, err := r.FS.Stat(d.path)
			if err != nil {
				r.fail(res, roleerr.Observation(res, err))
				ok = false
				continue
			}
			owned := true
			if info != nil {
				if owned, err = r.FS.OwnedBy(info, r.Desired.DaemonUser); err != nil {
					r.fail(res, roleerr.Observation(res, err))
					ok = false
					continue
				}
			}
			if info == nil || info.Mode != d.mode || !owned {
				r.changed(res, "would create or fix")
			} else {
				r.unchanged(res, "")
			}
			continue
		}
		changed, err := r.FS.EnsureDir(d.path, d.mode, r.Desired.DaemonUser)
		switch {
		case err != nil:
			r.fail(res, roleerr.Apply(res, err))
			ok = false
		case changed:
			r.changed(res, "created or fixed")
		default:
			r.unchanged(res, "")
		}
	}
	return ok
}

func keyfileEnabled(r *run) bool       { return r.Desired.Keyfile != nil }
func keyfileResources(r *run) []string { return []string{"keyfile:" + r.Desired.Keyfile.Path} }

// keyfile writes the keyfile when it is missing. Existing content is only
// replaced when Force is set, so a node never silently drops out of its
// set because of a differing keyfile.
func (r *run) keyfile() bool {
	k := r.Desired.Keyfile
	res := "keyfile:" + k.Path
	existing := r.host.Keyfile

	detail := ""
	switch {
	case len(existing) == 0:
		// an empty keyfile counts as missing
		detail = "created"
	case keyfile.Fingerprint(existing) != keyfile.Fingerprint(k.Content):
		if !k.Force {
			r.unchanged(res, "content differs, not replaced without force")
			return true
		}
		detail = "replaced"
	default:
		owned, err := r.FS.OwnedBy(r.host.KeyfileInfo, r.Desired.DaemonUser)
		if err != nil {
			r.fail(res, roleerr.Observation(res, err))
			return false
		}
		if r.host.KeyfileInfo.Mode == keyfileMode && owned {
			r.unchanged(res, keyfile.Fingerprint(existing)[:16])
			return true
		}
		// same content, wrong permissions
		detail = "permissions fixed"
		k = &config.Keyfile{Path: k.Path, Content: existing}
	}

	if r.DryRun {
		r.changed(res, "would be "+detail)
		return true
	}
	if err := r.FS.WriteFile(k.Path, k.Content, keyfileMode, r.Desired.DaemonUser); err != nil {
		r.fail(res, roleerr.Apply(res, err))
		return false
	}
	if detail != "permissions fixed" {
		r.needRestart("keyfile")
	}
	r.changed(res, detail)
	return true
}

func configResources(r *run) []string { return []string{"file:" + r.Desired.ConfigPath} }

func (r *run) configFile() bool {
	res := "file:" + r.Desired.ConfigPath
	rendered, err := mongodconf.Render(&r.Desired.Node)
	if err != nil {
		r.fail(res, roleerr.Apply(res, err))
		return false
	}
	existing := r.host.ConfigFile
	if bytes.Equal(existing, rendered) {
		r.unchanged(res, "")
		return true
	}

	detail := "created"
	if existing != nil {
		detail = "updated"
		if old, err := mongodconf.Parse(existing); err == nil {
			diff := mongodconf.Diff(old, &r.Desired.Node)
			r.log.Debug("config differs", "path", r.Desired.ConfigPath, "diff", diff)
			if diff == "" {
				detail = "reformatted"
			}
		}
	}
	if r.DryRun {
		r.changed(res, "would be "+detail)
		return true
	}
	if err := r.FS.WriteFile(r.Desired.ConfigPath, rendered, configMode, ""); err != nil {
		r.fail(res, roleerr.Apply(res, err))
		return false
	}
	if existing != nil {
		r.needRestart("config")
	}
	r.changed(res, detail)
	return true
}

func serviceResources(r *run) []string {
	if !r.Desired.Service.Manage {
		return []string{"daemon:" + r.local.Addr()}
	}
	return []string{"service:" + r.Desired.Service.Name}
}

func (r *run) service() bool {
	svc := r.Desired.Service
	res := "service:" + svc.Name
	if svc.Manage {
		state, err := r.Services.Status(r.ctx, svc.Name)
		if err != nil {
			r.fail(res, roleerr.Observation(res, err))
			return false
		}
		var actions []string
		if !state.Enabled {
			actions = append(actions, "enabled")
			if !r.DryRun {
				if err := r.Services.Enable(r.ctx, svc.Name); err != nil {
					r.fail(res, roleerr.Apply(res, err))
					return false
				}
			}
		}
		switch {
		case !state.Active:
			actions = append(actions, "started")
			if !r.DryRun {
				err = r.Services.Start(r.ctx, svc.Name)
			}
		case len(r.restartFor) > 0:
			actions = append(actions, "restarted for "+strings.Join(r.restartFor, ", "))
			if !r.DryRun {
				err = r.Services.Restart(r.ctx, svc.Name)
			}
		}
		if err != nil {
			r.fail(res, roleerr.Apply(res, err))
			return false
		}
		if r.DryRun || !r.needsDaemon() {
			if len(actions) > 0 {
				r.changed(res, r.would("be "+strings.Join(actions, ", "), strings.Join(actions, ", ")))
			} else {
				r.unchanged(res, "running")
			}
			return true
		}
		if err := r.waitReady(); err != nil {
			r.fail(res, err)
			return false
		}
		if len(actions) > 0 {
			r.changed(res, strings.Join(actions, ", "))
		} else {
			r.unchanged(res, "running")
		}
		return true
	}

	if r.DryRun || !r.needsDaemon() {
		return true
	}
	if err := r.waitReady(); err != nil {
		r.fail("daemon:"+r.local.Addr(), err)
		return false
	}
	return true
}

// waitReady waits for the daemon to answer. Authentication errors count as
// an answer.
func (r *run) waitReady() error {
	res := "daemon:" + r.local.Addr()
	err := r.Desired.Service.ReadyWait.RunContext(r.ctx, func() error {
		sess, err := r.Connector.Connect(r.ctx, r.local)
		if err != nil {
			return err
		}
		defer sess.Close(r.ctx)
		if err := sess.Ping(r.ctx); err != nil && !admin.IsAuthError(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return roleerr.Apply(res, errors.Wrap(err, "daemon did not become ready"))
	}
	return nil
}

func replsetEnabled(r *run) bool { return r.Desired.ReplicaSet != nil }

func replsetResources(r *run) []string {
	return []string{"replset:" + r.Desired.ReplicaSet.Name}
}

func (r *run) bootstrapper() *replset.Bootstrapper {
	if r.boot == nil {
		r.boot = &replset.Bootstrapper{
			Set:        r.Desired.ReplicaSet,
			Connector:  r.Connector,
			Local:      r.local,
			Credential: r.Desired.AdminCredential(),
			DryRun:     r.DryRun,
			Logger:     r.Logger,
		}
	}
	return r.boot
}

func (r *run) initialize() bool {
	res := "replset:" + r.Desired.ReplicaSet.Name
	if r.DryRun && !r.daemonReachable() {
		if r.Desired.ReplicaSet.Master {
			r.changed(res, "would initiate")
		} else {
			r.unchanged(res, "daemon not running")
		}
		return true
	}
	initiated, err := r.bootstrapper().Initialize(r.ctx)
	switch {
	case err != nil:
		r.fail(res, err)
		return false
	case initiated:
		r.changed(res, r.would("initiate", "initiated"))
	default:
		r.unchanged(res, r.boot.State().String())
	}
	return true
}

func memberResources(r *run) []string {
	var res []string
	for _, m := range r.Desired.ReplicaSet.Members {
		res = append(res, "member:"+m.Addr())
	}
	return res
}

func (r *run) members() bool {
	if r.boot == nil || r.boot.State() != replset.MemberRegistration {
		// dry run against a stopped daemon
		for _, res := range memberResources(r) {
			r.unchanged(res, "not observed")
		}
		return true
	}
	reg, err := r.boot.Register(r.ctx)
	if reg == nil {
		for _, res := range memberResources(r) {
			r.fail(res, err)
		}
		return false
	}
	done := make(map[string]bool)
	for _, addr := range reg.Present {
		r.unchanged("member:"+addr, "present")
		done[addr] = true
	}
	for _, addr := range reg.Added {
		r.changed("member:"+addr, r.would("add", "added"))
		done[addr] = true
	}
	for _, addr := range reg.Pending {
		r.unchanged("member:"+addr, "pending, daemon not reachable")
		r.report.Pending = append(r.report.Pending, addr)
		done[addr] = true
	}
	for _, addr := range reg.Removed {
		r.changed("member:"+addr, r.would("remove", "removed"))
	}
	if err == nil {
		return true
	}
	if reg.Failed != "" {
		r.fail("member:"+reg.Failed, err)
		done[reg.Failed] = true
	}
	// members after the failing one were never attempted
	for _, m := range r.Desired.ReplicaSet.Members {
		if !done[m.Addr()] {
			r.fail("member:"+m.Addr(), errors.WithMessage(err, "not attempted"))
		}
	}
	return false
}

func (r *run) daemonReachable() bool {
	sess, err := r.Connector.Connect(r.ctx, r.local)
	if err != nil {
		return false
	}
	defer sess.Close(r.ctx)
	err = sess.Ping(r.ctx)
	return err == nil || admin.IsAuthError(err)
}
