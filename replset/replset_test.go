package replset

import (
	"context"
	"testing"
	"time"

	. "github.com/flynn/go-check"
	"github.com/flynn/mongorole/admin"
	"github.com/flynn/mongorole/admin/admintest"
	"github.com/flynn/mongorole/config"
	"github.com/flynn/mongorole/pkg/attempt"
	"github.com/flynn/mongorole/pkg/roleerr"
	"github.com/inconshreveable/log15"
)

// Hook gocheck up to the "go test" runner
func Test(t *testing.T) { TestingT(t) }

type BootstrapSuite struct{}

var _ = Suite(&BootstrapSuite{})

var ctx = context.Background()

var (
	nodeA = config.Member{Host: "a.db", Port: 27017, Role: config.RolePrimary}
	nodeB = config.Member{Host: "b.db", Port: 27017, Role: config.RoleReplica}
	nodeC = config.Member{Host: "c.db", Port: 27017, Role: config.RoleArbiter}
)

var primaryWait = attempt.Strategy{Total: time.Second, Delay: time.Millisecond}

func discard() log15.Logger {
	l := log15.New()
	l.SetHandler(log15.DiscardHandler())
	return l
}

func bootstrapper(cl *admintest.Cluster, self config.Member, cred *config.Credential, members ...config.Member) *Bootstrapper {
	if len(members) == 0 {
		members = []config.Member{nodeA, nodeB, nodeC}
	}
	return &Bootstrapper{
		Set: &config.ReplicaSet{
			Name:        "rs0",
			Master:      self.Role == config.RolePrimary,
			Self:        self,
			Members:     members,
			Login:       nodeA,
			PrimaryWait: primaryWait,
		},
		Connector:  cl.Connector(self.Addr()),
		Local:      admin.Target{Host: "127.0.0.1", Port: self.Port},
		Credential: cred,
		Logger:     discard(),
	}
}

func assertMembers(c *C, cfg *admin.ReplSetConfig, want map[string]bool) {
	c.Assert(cfg.Members, HasLen, len(want))
	for _, m := range cfg.Members {
		arbiter, ok := want[m.Host]
		c.Assert(ok, Equals, true, Commentf("unexpected member %s", m.Host))
		c.Assert(m.ArbiterOnly, Equals, arbiter)
		if arbiter {
			c.Assert(m.Priority, Equals, float64(0))
		} else {
			c.Assert(m.Priority, Equals, float64(1))
		}
	}
}

var wantABC = map[string]bool{"a.db:27017": false, "b.db:27017": false, "c.db:27017": true}

func (BootstrapSuite) TestBootstrapFromEmpty(c *C) {
	cl := admintest.NewCluster()
	cl.ElectAfter = 2
	for _, m := range []config.Member{nodeA, nodeB, nodeC} {
		cl.AddNode(m.Addr(), "rs0", "")
	}

	b := bootstrapper(cl, nodeA, nil)
	c.Assert(b.State(), Equals, Uninitialized)
	initiated, err := b.Initialize(ctx)
	c.Assert(err, IsNil)
	c.Assert(initiated, Equals, true)
	c.Assert(b.State(), Equals, MemberRegistration)

	reg, err := b.Register(ctx)
	c.Assert(err, IsNil)
	c.Assert(reg.Added, DeepEquals, []string{"b.db:27017", "c.db:27017"})
	c.Assert(reg.Present, DeepEquals, []string{"a.db:27017"})
	c.Assert(reg.Pending, HasLen, 0)
	c.Assert(b.State(), Equals, Stable)

	cfg := cl.Config("a.db:27017")
	assertMembers(c, cfg, wantABC)
	c.Assert(cfg.Version, Equals, 3)
	c.Assert(cfg.Member("c.db:27017").ID, Equals, 2)
	c.Assert(cl.Initiates, Equals, 1)
	c.Assert(cl.Reconfigs, Equals, 2)

	// a second run against the stable set changes nothing
	b = bootstrapper(cl, nodeA, nil)
	reg, err = b.Run(ctx)
	c.Assert(err, IsNil)
	c.Assert(reg.Added, HasLen, 0)
	c.Assert(reg.Present, HasLen, 3)
	c.Assert(b.State(), Equals, Stable)
	c.Assert(cl.Initiates, Equals, 1)
	c.Assert(cl.Reconfigs, Equals, 2)

	// so does a run from a member
	b = bootstrapper(cl, nodeB, nil)
	reg, err = b.Run(ctx)
	c.Assert(err, IsNil)
	c.Assert(reg.Added, HasLen, 0)
	c.Assert(b.State(), Equals, Stable)
	c.Assert(cl.Reconfigs, Equals, 2)
}

func (BootstrapSuite) TestRegistrationOrder(c *C) {
	cl := admintest.NewCluster()
	cl.AddNode(nodeA.Addr(), "rs0", "")

	b := bootstrapper(cl, nodeA, nil)
	reg, err := b.Run(ctx)
	c.Assert(err, IsNil)
	c.Assert(reg.Pending, DeepEquals, []string{"b.db:27017", "c.db:27017"})
	c.Assert(b.State(), Equals, MemberRegistration)

	// the arbiter comes up and registers before the replica
	cl.AddNode(nodeC.Addr(), "rs0", "")
	b = bootstrapper(cl, nodeC, nil)
	reg, err = b.Run(ctx)
	c.Assert(err, IsNil)
	c.Assert(reg.Added, DeepEquals, []string{"c.db:27017"})
	c.Assert(reg.Pending, DeepEquals, []string{"b.db:27017"})
	c.Assert(b.State(), Equals, MemberRegistration)

	cl.AddNode(nodeB.Addr(), "rs0", "")
	b = bootstrapper(cl, nodeB, nil)
	reg, err = b.Run(ctx)
	c.Assert(err, IsNil)
	c.Assert(reg.Added, DeepEquals, []string{"b.db:27017"})
	c.Assert(b.State(), Equals, Stable)

	cfg := cl.Config("a.db:27017")
	assertMembers(c, cfg, wantABC)
	c.Assert(cfg.Member("c.db:27017").ID, Equals, 1)
	c.Assert(cfg.Member("b.db:27017").ID, Equals, 2)
	c.Assert(cl.Initiates, Equals, 1)
}

func (BootstrapSuite) TestSetNameMismatch(c *C) {
	cl := admintest.NewCluster()
	cl.AddNode(nodeA.Addr(), "other", "")
	a, _ := cl.Connector(nodeA.Addr()).Connect(ctx, admin.Target{Host: "127.0.0.1", Port: 27017})
	c.Assert(a.ReplSetInitiate(ctx, admin.ReplSetConfig{ID: "other", Members: []admin.ReplSetMember{{Host: nodeA.Addr()}}}), IsNil)

	b := bootstrapper(cl, nodeA, nil)
	_, err := b.Initialize(ctx)
	c.Assert(roleerr.IsReplicaSetInconsistent(err), Equals, true)
	c.Assert(b.State(), Equals, Failed)
	c.Assert(b.Err(), Equals, err)
	c.Assert(cl.Initiates, Equals, 1)
}

func (BootstrapSuite) TestPrimaryTimeout(c *C) {
	cl := admintest.NewCluster()
	cl.ElectAfter = 1 << 20
	cl.AddNode(nodeA.Addr(), "rs0", "")

	b := bootstrapper(cl, nodeA, nil, nodeA)
	b.Set.PrimaryWait = attempt.Strategy{Total: 20 * time.Millisecond, Delay: 5 * time.Millisecond}
	_, err := b.Initialize(ctx)
	c.Assert(roleerr.IsReplicaSetInitTimeout(err), Equals, true)
	c.Assert(b.State(), Equals, Failed)

	_, err = b.Register(ctx)
	c.Assert(err, ErrorMatches, "replset: Register called in state failed")
}

func (BootstrapSuite) TestNotReplicating(c *C) {
	cl := admintest.NewCluster()
	cl.AddNode(nodeA.Addr(), "", "")
	b := bootstrapper(cl, nodeA, nil)
	_, err := b.Initialize(ctx)
	c.Assert(roleerr.IsObservation(err), Equals, true)

	b = bootstrapper(cl, nodeA, nil)
	_, err = b.Initialize(ctx)
	c.Assert(err, ErrorMatches, ".*not running with replication enabled")
}

func (BootstrapSuite) TestMasterNotRun(c *C) {
	cl := admintest.NewCluster()
	cl.AddNode(nodeA.Addr(), "rs0", "")
	cl.AddNode(nodeB.Addr(), "rs0", "")

	b := bootstrapper(cl, nodeB, nil)
	initiated, err := b.Initialize(ctx)
	c.Assert(err, IsNil)
	c.Assert(initiated, Equals, false)
	c.Assert(b.State(), Equals, MemberRegistration)

	_, err = b.Register(ctx)
	c.Assert(roleerr.IsObservation(err), Equals, true)
	c.Assert(err, ErrorMatches, ".*initial master has not run")
	c.Assert(cl.Initiates, Equals, 0)

	cl.SetDown(nodeA.Addr(), true)
	b = bootstrapper(cl, nodeB, nil)
	_, err = b.Run(ctx)
	c.Assert(roleerr.IsObservation(err), Equals, true)
}

func (BootstrapSuite) TestKeyfileMismatch(c *C) {
	cl := admintest.NewCluster()
	cl.AddNode(nodeA.Addr(), "rs0", "key-one")
	cl.AddNode(nodeB.Addr(), "rs0", "key-two")
	cred := &config.Credential{Username: "root", Password: "pw", Source: "admin"}

	b := bootstrapper(cl, nodeA, cred, nodeA, nodeB)
	_, err := b.Initialize(ctx)
	c.Assert(err, IsNil)
	a, _ := cl.Connector(nodeA.Addr()).Connect(ctx, b.Local)
	c.Assert(a.CreateUser(ctx, config.User{Name: "root", Password: "pw", Database: "admin", Roles: []config.RoleRef{{Role: "root", DB: "admin"}}}), IsNil)

	_, err = b.Register(ctx)
	c.Assert(roleerr.IsReplicaSetInconsistent(err), Equals, true)
	c.Assert(admin.IsCode(err, admin.CodeNodeNotFound), Equals, true)
	c.Assert(b.State(), Equals, Failed)

	// wrong credentials surface the same way
	b = bootstrapper(cl, nodeB, &config.Credential{Username: "root", Password: "nope", Source: "admin"}, nodeA, nodeB)
	b.Set.Master = false
	_, err = b.Run(ctx)
	c.Assert(roleerr.IsReplicaSetInconsistent(err), Equals, true)
}

func (BootstrapSuite) TestArbiterRoleMismatch(c *C) {
	cl := admintest.NewCluster()
	for _, m := range []config.Member{nodeA, nodeB, nodeC} {
		cl.AddNode(m.Addr(), "rs0", "")
	}
	_, err := bootstrapper(cl, nodeA, nil).Run(ctx)
	c.Assert(err, IsNil)

	dataC := nodeC
	dataC.Role = config.RoleReplica
	b := bootstrapper(cl, nodeA, nil, nodeA, nodeB, dataC)
	_, err = b.Run(ctx)
	c.Assert(roleerr.IsReplicaSetInconsistent(err), Equals, true)
	c.Assert(err, ErrorMatches, ".*c.db:27017 has arbiterOnly=true but desired role is replica")
}

func (BootstrapSuite) TestPrune(c *C) {
	cl := admintest.NewCluster()
	for _, m := range []config.Member{nodeA, nodeB, nodeC} {
		cl.AddNode(m.Addr(), "rs0", "")
	}
	_, err := bootstrapper(cl, nodeA, nil).Run(ctx)
	c.Assert(err, IsNil)

	// without prune an extra live member is left alone
	b := bootstrapper(cl, nodeA, nil, nodeA, nodeB)
	reg, err := b.Run(ctx)
	c.Assert(err, IsNil)
	c.Assert(reg.Removed, HasLen, 0)
	c.Assert(cl.Config("a.db:27017").Members, HasLen, 3)

	b = bootstrapper(cl, nodeA, nil, nodeA, nodeB)
	b.Set.Prune = true
	reg, err = b.Run(ctx)
	c.Assert(err, IsNil)
	c.Assert(reg.Removed, DeepEquals, []string{"c.db:27017"})
	c.Assert(cl.Config("a.db:27017").Hosts(), DeepEquals, []string{"a.db:27017", "b.db:27017"})
	c.Assert(b.State(), Equals, Stable)
}

func (BootstrapSuite) TestFollowsPrimary(c *C) {
	cl := admintest.NewCluster()
	for _, m := range []config.Member{nodeA, nodeB, nodeC} {
		cl.AddNode(m.Addr(), "rs0", "")
	}
	_, err := bootstrapper(cl, nodeA, nil, nodeA, nodeB).Run(ctx)
	c.Assert(err, IsNil)

	// c registers through b, which names a as primary
	b := bootstrapper(cl, nodeC, nil)
	b.Set.Login = nodeB
	reg, err := b.Run(ctx)
	c.Assert(err, IsNil)
	c.Assert(reg.Added, DeepEquals, []string{"c.db:27017"})
	assertMembers(c, cl.Config("a.db:27017"), wantABC)
}

func (BootstrapSuite) TestReconfigRetry(c *C) {
	cl := admintest.NewCluster()
	cl.AddNode(nodeA.Addr(), "rs0", "")
	cl.AddNode(nodeB.Addr(), "rs0", "")
	cl.FailReconfig = &admin.CommandError{Code: admin.CodeCurrentConfigNotCommittedYet, Name: "CurrentConfigNotCommittedYet"}

	b := bootstrapper(cl, nodeA, nil, nodeA, nodeB)
	reg, err := b.Run(ctx)
	c.Assert(err, IsNil)
	c.Assert(reg.Added, DeepEquals, []string{"b.db:27017"})
	c.Assert(cl.Reconfigs, Equals, 1)

	cl.AddNode(nodeC.Addr(), "rs0", "")
	cl.FailReconfig = &admin.CommandError{Code: 8, Name: "UnknownError", Message: "boom"}
	_, err = bootstrapper(cl, nodeA, nil).Run(ctx)
	c.Assert(roleerr.IsApply(err), Equals, true)
}

// failingReconfigs fails the nth reconfig sent through it.
type failingReconfigs struct {
	admin.Connector
	n     int
	calls int
	err   error
}

func (f *failingReconfigs) Connect(ctx context.Context, t admin.Target) (admin.Admin, error) {
	a, err := f.Connector.Connect(ctx, t)
	if err != nil {
		return nil, err
	}
	return &failingSession{Admin: a, f: f}, nil
}

type failingSession struct {
	admin.Admin
	f *failingReconfigs
}

func (s *failingSession) ReplSetReconfig(ctx context.Context, cfg admin.ReplSetConfig) error {
	s.f.calls++
	if s.f.calls == s.f.n {
		return s.f.err
	}
	return s.Admin.ReplSetReconfig(ctx, cfg)
}

func (BootstrapSuite) TestPartialRegistration(c *C) {
	cl := admintest.NewCluster()
	for _, m := range []config.Member{nodeA, nodeB, nodeC} {
		cl.AddNode(m.Addr(), "rs0", "")
	}
	b := bootstrapper(cl, nodeA, nil)
	b.Connector = &failingReconfigs{Connector: b.Connector, n: 2, err: &admin.CommandError{Code: 8, Name: "UnknownError", Message: "boom"}}

	reg, err := b.Run(ctx)
	c.Assert(roleerr.IsApply(err), Equals, true)
	c.Assert(reg, NotNil)
	c.Assert(reg.Present, DeepEquals, []string{"a.db:27017"})
	c.Assert(reg.Added, DeepEquals, []string{"b.db:27017"})
	c.Assert(reg.Failed, Equals, "c.db:27017")
	c.Assert(b.State(), Equals, Failed)
	c.Assert(cl.Config("a.db:27017").Hosts(), DeepEquals, []string{"a.db:27017", "b.db:27017"})

	// the next run picks up where this one stopped
	b = bootstrapper(cl, nodeA, nil)
	reg, err = b.Run(ctx)
	c.Assert(err, IsNil)
	c.Assert(reg.Added, DeepEquals, []string{"c.db:27017"})
	c.Assert(b.State(), Equals, Stable)
}

type recordingConnector struct {
	admin.Connector
	targets []admin.Target
}

func (r *recordingConnector) Connect(ctx context.Context, t admin.Target) (admin.Admin, error) {
	r.targets = append(r.targets, t)
	return r.Connector.Connect(ctx, t)
}

func (BootstrapSuite) TestRemoteTargetsUseLocalTLS(c *C) {
	cl := admintest.NewCluster()
	for _, m := range []config.Member{nodeA, nodeB} {
		cl.AddNode(m.Addr(), "rs0", "")
	}
	_, err := bootstrapper(cl, nodeA, nil, nodeA).Run(ctx)
	c.Assert(err, IsNil)

	tls := &config.TLS{CAFile: "/etc/ssl/mongo-ca.pem"}
	b := bootstrapper(cl, nodeB, nil, nodeA, nodeB)
	b.Local.TLS = tls
	rec := &recordingConnector{Connector: b.Connector}
	b.Connector = rec
	_, err = b.Run(ctx)
	c.Assert(err, IsNil)
	c.Assert(len(rec.targets) > 1, Equals, true)
	for _, t := range rec.targets {
		c.Assert(t.TLS, Equals, tls, Commentf("%s", t.Addr()))
	}
}

func (BootstrapSuite) TestDryRun(c *C) {
	cl := admintest.NewCluster()
	cl.AddNode(nodeA.Addr(), "rs0", "")
	b := bootstrapper(cl, nodeA, nil)
	b.DryRun = true
	initiated, err := b.Initialize(ctx)
	c.Assert(err, IsNil)
	c.Assert(initiated, Equals, true)
	reg, err := b.Register(ctx)
	c.Assert(err, IsNil)
	c.Assert(reg.Present, DeepEquals, []string{"a.db:27017"})
	c.Assert(reg.Added, DeepEquals, []string{"b.db:27017", "c.db:27017"})
	c.Assert(cl.Initiates, Equals, 0)
	c.Assert(cl.Config("a.db:27017"), IsNil)
}

func (BootstrapSuite) TestStateString(c *C) {
	c.Assert(MemberRegistration.String(), Equals, "member-registration")
	c.Assert(State(42).String(), Equals, "state(42)")
}
