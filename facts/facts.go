// Package facts gathers the observed state of a node: what is installed,
// what is on disk and what the daemon reports about itself.
package facts

import (
	"context"

	"github.com/flynn/mongorole/admin"
	"github.com/flynn/mongorole/config"
	"github.com/flynn/mongorole/host"
	"github.com/flynn/mongorole/pkg/roleerr"
	"github.com/inconshreveable/log15"
)

// Host is the observed state of the machine.
type Host struct {
	Identity       *host.Identity    `json:"identity,omitempty"`
	PackageVersion string            `json:"package_version"`
	Service        host.ServiceState `json:"service"`
	ConfigFile     []byte            `json:"-"`
	Keyfile        []byte            `json:"-"`
	KeyfileInfo    *host.FileInfo    `json:"keyfile,omitempty"`
	THP            *host.THPState    `json:"thp,omitempty"`
}

// Daemon is the observed state of mongod.
type Daemon struct {
	Reachable bool `json:"reachable"`
	// Authenticated is true when the admin credential was accepted.
	Authenticated bool                 `json:"authenticated"`
	Hello         *admin.Hello         `json:"hello,omitempty"`
	Users         []admin.UserInfo     `json:"users,omitempty"`
	Config        *admin.ReplSetConfig `json:"replset_config,omitempty"`
	// Status is the member health as seen by this daemon.
	Status *admin.ReplSetStatus `json:"replset_status,omitempty"`
}

// Collector reads facts. It never changes anything.
type Collector struct {
	FS        *host.FS
	Packages  host.PackageManager
	Services  host.ServiceManager
	Connector admin.Connector
	Logger    log15.Logger
}

// Host collects host facts for d.
func (c *Collector) Host(ctx context.Context, d *config.Desired) (*Host, error) {
	log := c.Logger.New("fn", "Host")
	h := &Host{}
	var err error

	if h.Identity, err = host.Identify(c.FS); err != nil {
		return nil, roleerr.Observation("identity", err)
	}
	if h.PackageVersion, err = c.Packages.Installed(ctx, d.Package.Name); err != nil {
		return nil, roleerr.Observation("package:"+d.Package.Name, err)
	}
	if d.Service.Manage {
		if h.Service, err = c.Services.Status(ctx, d.Service.Name); err != nil {
			return nil, roleerr.Observation("service:"+d.Service.Name, err)
		}
	}
	if h.ConfigFile, err = c.FS.ReadFile(d.ConfigPath); err != nil {
		return nil, roleerr.Observation("file:"+d.ConfigPath, err)
	}
	if d.Keyfile != nil {
		if h.Keyfile, err = c.FS.ReadFile(d.Keyfile.Path); err != nil {
			return nil, roleerr.Observation("keyfile:"+d.Keyfile.Path, err)
		}
		if h.KeyfileInfo, err = c.FS.Stat(d.Keyfile.Path); err != nil {
			return nil, roleerr.Observation("keyfile:"+d.Keyfile.Path, err)
		}
	}
	if h.THP, err = host.ReadTHP(c.FS); err != nil {
		return nil, roleerr.Observation("tuning:thp", err)
	}
	log.Debug("collected host facts", "package", h.PackageVersion, "active", h.Service.Active)
	return h, nil
}

// Daemon collects facts from the daemon at t. The credential on t is tried
// first; when it is rejected the daemon is queried unauthenticated, which
// still answers hello. A daemon that does not answer is reported with
// Reachable false rather than an error.
func (c *Collector) Daemon(ctx context.Context, t admin.Target) (*Daemon, error) {
	log := c.Logger.New("fn", "Daemon", "addr", t.Addr())
	d := &Daemon{}

	sess, err := c.Connector.Connect(ctx, t)
	if err != nil {
		return nil, roleerr.Observation("daemon", err)
	}
	err = sess.Ping(ctx)
	if admin.IsAuthError(err) && t.Credential != nil {
		log.Debug("credential rejected, retrying unauthenticated", "err", err)
		sess.Close(ctx)
		if sess, err = c.Connector.Connect(ctx, t.WithCredential(nil)); err != nil {
			return nil, roleerr.Observation("daemon", err)
		}
		err = sess.Ping(ctx)
	} else if err == nil {
		d.Authenticated = t.Credential != nil
	}
	defer sess.Close(ctx)
	if admin.IsUnreachable(err) {
		log.Debug("daemon unreachable", "err", err)
		return d, nil
	} else if err != nil {
		return nil, roleerr.Observation("daemon", err)
	}
	d.Reachable = true

	if d.Hello, err = sess.Hello(ctx); err != nil {
		return nil, roleerr.Observation("hello", err)
	}
	if d.Hello.SetName != "" {
		if d.Config, err = sess.ReplSetGetConfig(ctx); err != nil && !admin.IsAuthError(err) {
			return nil, roleerr.Observation("replset", err)
		}
		if d.Status, err = sess.ReplSetGetStatus(ctx); err != nil && !admin.IsAuthError(err) {
			return nil, roleerr.Observation("replset", err)
		}
	}
	users, err := sess.UsersInfo(ctx, "", "")
	switch {
	case err == nil:
		d.Users = users
	case admin.IsAuthError(err), admin.IsCode(err, admin.CodeNotPrimaryOrSecondary):
		log.Debug("users not readable", "err", err)
	default:
		return nil, roleerr.Observation("users", err)
	}
	return d, nil
}
