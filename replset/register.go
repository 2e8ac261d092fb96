package replset

import (
	"context"
	"net"
	"strconv"

	"github.com/flynn/mongorole/admin"
	"github.com/flynn/mongorole/config"
	"github.com/flynn/mongorole/pkg/roleerr"
	"github.com/pkg/errors"
)

// Register adds the desired members missing from the live configuration,
// one reconfig per member, and removes undesired members when pruning is
// enabled. The machine moves to Stable once every desired member is
// present; members whose daemon is not reachable yet stay pending and the
// machine stays in MemberRegistration.
//
// When a reconfig fails partway, the returned Registration holds the
// members handled before the failure and names the failing one, alongside
// the error.
func (b *Bootstrapper) Register(ctx context.Context) (*Registration, error) {
	log := b.Logger.New("fn", "Register", "set", b.Set.Name)
	if b.state != MemberRegistration {
		return nil, errors.Errorf("replset: Register called in state %s", b.state)
	}
	if b.initiatePlanned {
		return b.plannedRegistration(), nil
	}

	sess, hello, err := b.primarySession(ctx)
	if err != nil {
		return nil, b.fail(err)
	}
	defer sess.Close(ctx)

	cfg, err := b.liveConfig(ctx, sess)
	if err != nil {
		return nil, b.fail(err)
	}
	if err := b.checkRoles(cfg); err != nil {
		return nil, b.fail(err)
	}

	reg := &Registration{}
	for _, m := range b.Set.Members {
		addr := m.Addr()
		if cfg.Member(addr) != nil {
			reg.Present = append(reg.Present, addr)
			continue
		}
		if addr != b.Set.Self.Addr() && !b.waitingForSet(ctx, m) {
			log.Info("member not reachable yet, leaving it pending", "member", addr)
			reg.Pending = append(reg.Pending, addr)
			continue
		}
		if b.DryRun {
			log.Info("would add member", "member", addr, "role", m.Role)
			reg.Added = append(reg.Added, addr)
			continue
		}

		next := cfg.Clone()
		next.Version = cfg.Version + 1
		next.Members = append(next.Members, newMember(cfg.NextID(), m))
		log.Info("adding member", "member", addr, "role", m.Role, "id", cfg.NextID(), "version", next.Version)
		if err := b.reconfig(ctx, sess, next); err != nil {
			reg.Failed = addr
			return reg, b.fail(err)
		}
		if cfg, err = b.liveConfig(ctx, sess); err != nil {
			// applied, but the result cannot be confirmed
			reg.Failed = addr
			return reg, b.fail(err)
		}
		reg.Added = append(reg.Added, addr)
	}

	if b.Set.Prune {
		if cfg, err = b.prune(ctx, sess, cfg, hello.Me, reg); err != nil {
			return reg, b.fail(err)
		}
	}

	if b.DryRun {
		return reg, nil
	}
	for _, m := range b.Set.Members {
		if cfg.Member(m.Addr()) == nil && !contains(reg.Pending, m.Addr()) {
			return nil, b.fail(roleerr.Inconsistent(b.Set.Name, errors.Errorf("member %s missing from live configuration after registration", m.Addr())))
		}
	}
	if len(reg.Pending) == 0 {
		log.Info("replica set stable", "members", len(cfg.Members), "version", cfg.Version)
		b.state = Stable
	}
	return reg, nil
}

// plannedRegistration is the dry run answer for a set that does not exist
// yet: the seed would be present and every other member added.
func (b *Bootstrapper) plannedRegistration() *Registration {
	reg := &Registration{}
	for _, m := range b.Set.Members {
		if m.Addr() == b.Set.Self.Addr() {
			reg.Present = append(reg.Present, m.Addr())
		} else {
			reg.Added = append(reg.Added, m.Addr())
		}
	}
	return reg
}

// Run drives the machine from Uninitialized as far as it can go in one
// pass.
func (b *Bootstrapper) Run(ctx context.Context) (*Registration, error) {
	if _, err := b.Initialize(ctx); err != nil {
		return nil, err
	}
	return b.Register(ctx)
}

// primarySession connects to the writable primary through the login
// member, following the primary it names when the login member is not
// primary itself.
func (b *Bootstrapper) primarySession(ctx context.Context) (admin.Admin, *admin.Hello, error) {
	target := b.Local
	if !b.Set.Master {
		target = b.remote(b.Set.Login.Host, b.Set.Login.Port)
	}
	target = target.WithCredential(b.Credential)

	for redirects := 0; ; redirects++ {
		sess, hello, err := b.hello(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case hello.SetName == "":
			sess.Close(ctx)
			return nil, nil, roleerr.Observation("replset:"+b.Set.Name,
				errors.Errorf("%s has no replica set configuration, the initial master has not run", target.Addr()))
		case hello.SetName != b.Set.Name:
			sess.Close(ctx)
			return nil, nil, roleerr.Inconsistent(b.Set.Name, errors.Errorf("%s is a member of replica set %q", target.Addr(), hello.SetName))
		case hello.IsWritablePrimary:
			return sess, hello, nil
		case hello.Primary != "" && hello.Primary != target.Addr() && redirects == 0:
			sess.Close(ctx)
			host, port, err := splitAddr(hello.Primary)
			if err != nil {
				return nil, nil, roleerr.Observation("replset:"+b.Set.Name, err)
			}
			b.Logger.Info("following primary", "from", target.Addr(), "to", hello.Primary)
			target = b.remote(host, port).WithCredential(b.Credential)
			continue
		}
		// an election is in progress
		if err := b.waitPrimary(ctx, sess); err != nil {
			sess.Close(ctx)
			return nil, nil, roleerr.InitTimeout(b.Set.Name, err)
		}
		return sess, hello, nil
	}
}

func (b *Bootstrapper) hello(ctx context.Context, t admin.Target) (admin.Admin, *admin.Hello, error) {
	sess, err := b.Connector.Connect(ctx, t)
	if err != nil {
		return nil, nil, roleerr.Observation("replset:"+b.Set.Name, err)
	}
	hello, err := sess.Hello(ctx)
	if err != nil {
		sess.Close(ctx)
		if admin.IsAuthError(err) {
			return nil, nil, roleerr.Inconsistent(b.Set.Name, err)
		}
		return nil, nil, roleerr.Observation("replset:"+b.Set.Name, err)
	}
	return sess, hello, nil
}

func (b *Bootstrapper) liveConfig(ctx context.Context, sess admin.Admin) (*admin.ReplSetConfig, error) {
	cfg, err := sess.ReplSetGetConfig(ctx)
	switch {
	case admin.IsAuthError(err):
		return nil, roleerr.Inconsistent(b.Set.Name, err)
	case err != nil:
		return nil, roleerr.Observation("replset:"+b.Set.Name, err)
	case cfg.ID != b.Set.Name:
		return nil, roleerr.Inconsistent(b.Set.Name, errors.Errorf("live configuration is for replica set %q", cfg.ID))
	}
	return cfg, nil
}

// checkRoles fails when a live member's arbiter flag contradicts its
// desired role. Changing a member between arbiter and data bearing needs
// a remove and re-add, which is left to the operator.
func (b *Bootstrapper) checkRoles(cfg *admin.ReplSetConfig) error {
	for _, m := range b.Set.Members {
		live := cfg.Member(m.Addr())
		if live == nil {
			continue
		}
		if live.ArbiterOnly != (m.Role == config.RoleArbiter) {
			return roleerr.Inconsistent(b.Set.Name, errors.Errorf("member %s has arbiterOnly=%t but desired role is %s", m.Addr(), live.ArbiterOnly, m.Role))
		}
	}
	return nil
}

// waitingForSet reports whether m's daemon answers and waits for a replica
// set configuration.
func (b *Bootstrapper) waitingForSet(ctx context.Context, m config.Member) bool {
	sess, err := b.Connector.Connect(ctx, b.remote(m.Host, m.Port))
	if err != nil {
		return false
	}
	defer sess.Close(ctx)
	hello, err := sess.Hello(ctx)
	if err != nil {
		b.Logger.Debug("member hello failed", "member", m.Addr(), "err", err)
		return false
	}
	return hello.IsReplicaSet && hello.SetName == ""
}

// reconfig applies cfg, retrying while the previous configuration is
// still propagating.
func (b *Bootstrapper) reconfig(ctx context.Context, sess admin.Admin, cfg admin.ReplSetConfig) error {
	var permanent error
	err := b.Set.PrimaryWait.RunContext(ctx, func() error {
		err := sess.ReplSetReconfig(ctx, cfg)
		if admin.IsCode(err, admin.CodeConfigurationInProgress, admin.CodeCurrentConfigNotCommittedYet) {
			return err
		}
		permanent = err
		return nil
	})
	if err == nil {
		err = permanent
	}
	switch {
	case err == nil:
		return nil
	case admin.IsAuthError(err), admin.IsCode(err, admin.CodeNodeNotFound):
		// a member with a different keyfile cannot join the quorum check
		return roleerr.Inconsistent(b.Set.Name, err)
	default:
		return roleerr.Apply("replset:"+b.Set.Name, err)
	}
}

// prune removes live members that are not desired, one reconfig each. The
// seed, the member answering as primary and the last member are never
// removed.
func (b *Bootstrapper) prune(ctx context.Context, sess admin.Admin, cfg *admin.ReplSetConfig, me string, reg *Registration) (*admin.ReplSetConfig, error) {
	desired := make(map[string]bool, len(b.Set.Members))
	seed := ""
	for _, m := range b.Set.Members {
		desired[m.Addr()] = true
		if m.Role == config.RolePrimary {
			seed = m.Addr()
		}
	}
	for _, host := range cfg.Hosts() {
		if desired[host] || host == seed || host == me || len(cfg.Members) <= 1 {
			continue
		}
		if b.DryRun {
			reg.Removed = append(reg.Removed, host)
			continue
		}
		next := cfg.Clone()
		next.Version = cfg.Version + 1
		next.Members = next.Members[:0]
		for _, m := range cfg.Clone().Members {
			if m.Host != host {
				next.Members = append(next.Members, m)
			}
		}
		b.Logger.Info("removing member", "member", host, "version", next.Version)
		if err := b.reconfig(ctx, sess, next); err != nil {
			reg.Failed = host
			return nil, err
		}
		var err error
		if cfg, err = b.liveConfig(ctx, sess); err != nil {
			reg.Failed = host
			return nil, err
		}
		reg.Removed = append(reg.Removed, host)
	}
	return cfg, nil
}

// remote targets another member with the TLS settings of the local
// target.
func (b *Bootstrapper) remote(host string, port int) admin.Target {
	return admin.Target{Host: host, Port: port, TLS: b.Local.TLS}
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, errors.Errorf("invalid port in %q", addr)
	}
	return host, port, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
