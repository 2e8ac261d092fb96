package facts

import (
	"context"
	"testing"

	. "github.com/flynn/go-check"
	"github.com/flynn/mongorole/admin"
	"github.com/flynn/mongorole/admin/admintest"
	"github.com/flynn/mongorole/config"
	"github.com/flynn/mongorole/host"
	"github.com/flynn/mongorole/host/hosttest"
	"github.com/inconshreveable/log15"
)

func Test(t *testing.T) { TestingT(t) }

type FactsSuite struct{}

var _ = Suite(&FactsSuite{})

var ctx = context.Background()

func discard() log15.Logger {
	l := log15.New()
	l.SetHandler(log15.DiscardHandler())
	return l
}

func (FactsSuite) TestHost(c *C) {
	fs := &host.FS{Root: c.MkDir()}
	pkgs := hosttest.NewPackages()
	pkgs.Versions["mongodb-org"] = "7.0.12"
	svcs := hosttest.NewServices()
	svcs.States["mongod"] = host.ServiceState{Active: true, Enabled: true}
	c.Assert(fs.WriteFile("/etc/mongod.conf", []byte("net: {}\n"), 0644, ""), IsNil)
	c.Assert(fs.WriteFile("/etc/mongodb-keyfile", []byte("abcdef\n"), 0400, ""), IsNil)

	col := &Collector{FS: fs, Packages: pkgs, Services: svcs, Logger: discard()}
	d := &config.Desired{
		Package:    config.Package{Name: "mongodb-org"},
		Service:    config.Service{Name: "mongod", Manage: true},
		ConfigPath: "/etc/mongod.conf",
		Keyfile:    &config.Keyfile{Path: "/etc/mongodb-keyfile"},
	}
	h, err := col.Host(ctx, d)
	c.Assert(err, IsNil)
	c.Assert(h.PackageVersion, Equals, "7.0.12")
	c.Assert(h.Service.Active, Equals, true)
	c.Assert(string(h.ConfigFile), Equals, "net: {}\n")
	c.Assert(string(h.Keyfile), Equals, "abcdef\n")
	c.Assert(h.KeyfileInfo.Mode.Perm().String(), Equals, "-r--------")
	c.Assert(h.THP, IsNil)
	c.Assert(h.Identity, NotNil)

	d.Keyfile.Path = "/missing"
	h, err = col.Host(ctx, d)
	c.Assert(err, IsNil)
	c.Assert(h.Keyfile, IsNil)
	c.Assert(h.KeyfileInfo, IsNil)
}

func (FactsSuite) TestDaemon(c *C) {
	cl := admintest.NewCluster()
	col := &Collector{Connector: cl.Connector("a.db:27017"), Logger: discard()}
	cred := &config.Credential{Username: "root", Password: "pw", Source: "admin"}
	local := admin.Target{Host: "127.0.0.1", Port: 27017, Credential: cred}

	d, err := col.Daemon(ctx, local)
	c.Assert(err, IsNil)
	c.Assert(d.Reachable, Equals, false)

	cl.AddNode("a.db:27017", "rs0", "key")
	d, err = col.Daemon(ctx, local)
	c.Assert(err, IsNil)
	c.Assert(d.Reachable, Equals, true)
	c.Assert(d.Authenticated, Equals, false)
	c.Assert(d.Hello.IsReplicaSet, Equals, true)
	c.Assert(d.Users, HasLen, 0)

	a, err := cl.Connector("a.db:27017").Connect(ctx, local.WithCredential(nil))
	c.Assert(err, IsNil)
	c.Assert(a.ReplSetInitiate(ctx, admin.ReplSetConfig{ID: "rs0", Members: []admin.ReplSetMember{{Host: "a.db:27017", Priority: 1}}}), IsNil)
	c.Assert(a.CreateUser(ctx, config.User{Name: "root", Password: "pw", Database: "admin", Roles: []config.RoleRef{{Role: "root", DB: "admin"}}}), IsNil)

	d, err = col.Daemon(ctx, local)
	c.Assert(err, IsNil)
	c.Assert(d.Authenticated, Equals, true)
	c.Assert(d.Hello.SetName, Equals, "rs0")
	c.Assert(d.Config.Hosts(), DeepEquals, []string{"a.db:27017"})
	c.Assert(d.Status, NotNil)
	c.Assert(d.Status.MyState, Equals, admin.Primary)
	c.Assert(d.Status.Members, HasLen, 1)
	c.Assert(d.Users, HasLen, 1)

	// a wrong password still yields hello data
	d, err = col.Daemon(ctx, local.WithCredential(&config.Credential{Username: "root", Password: "bad", Source: "admin"}))
	c.Assert(err, IsNil)
	c.Assert(d.Reachable, Equals, true)
	c.Assert(d.Authenticated, Equals, false)
	c.Assert(d.Hello.SetName, Equals, "rs0")
	c.Assert(d.Config, IsNil)
	c.Assert(d.Status, IsNil)
	c.Assert(d.Users, IsNil)
}
