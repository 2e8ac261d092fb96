// Package replset drives a replica set from nothing to the desired
// membership: the initial master initiates the set with itself as the only
// member, then members are added one reconfig at a time.
package replset

import (
	"context"
	"fmt"

	"github.com/flynn/mongorole/admin"
	"github.com/flynn/mongorole/config"
	"github.com/flynn/mongorole/pkg/roleerr"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

type State int

const (
	Uninitialized State = iota
	Initializing
	MemberRegistration
	Stable
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case MemberRegistration:
		return "member-registration"
	case Stable:
		return "stable"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Registration is what Register did to the live configuration.
type Registration struct {
	Added   []string
	Removed []string
	// Pending members are desired but could not be added yet because
	// their daemon is not reachable.
	Pending []string
	Present []string
	// Failed is the member whose reconfig failed. It is only set together
	// with an error from Register; the lists above then hold what was
	// done before the failure.
	Failed string
}

// Bootstrapper runs the replica set state machine for one node. It is not
// safe for concurrent use, and each run uses a new Bootstrapper.
type Bootstrapper struct {
	Set       *config.ReplicaSet
	Connector admin.Connector
	// Local reaches this node's daemon over loopback.
	Local      admin.Target
	Credential *config.Credential
	DryRun     bool
	Logger     log15.Logger

	state State
	err   error
	// initiatePlanned is set by a dry run that would have initiated.
	initiatePlanned bool
}

func (b *Bootstrapper) State() State { return b.state }

// Err returns the error that moved the machine to Failed.
func (b *Bootstrapper) Err() error { return b.err }

func (b *Bootstrapper) fail(err error) error {
	b.state = Failed
	b.err = err
	b.Logger.Error("replica set bootstrap failed", "set", b.Set.Name, "err", err)
	return err
}

// Initialize moves the machine out of Uninitialized. On the initial master
// it initiates the set and waits for this node to become writable primary.
// It reports whether the set was initiated by this call.
func (b *Bootstrapper) Initialize(ctx context.Context) (bool, error) {
	log := b.Logger.New("fn", "Initialize", "set", b.Set.Name)
	if b.state != Uninitialized {
		return false, errors.Errorf("replset: Initialize called in state %s", b.state)
	}

	sess, err := b.Connector.Connect(ctx, b.Local)
	if err != nil {
		return false, b.fail(roleerr.Observation("replset:"+b.Set.Name, err))
	}
	defer sess.Close(ctx)

	hello, err := sess.Hello(ctx)
	if err != nil {
		return false, b.fail(roleerr.Observation("replset:"+b.Set.Name, err))
	}
	switch {
	case hello.SetName == b.Set.Name:
		log.Info("replica set already initialized, skipping initiate")
		b.state = MemberRegistration
		return false, nil
	case hello.SetName != "":
		return false, b.fail(roleerr.Inconsistent(b.Set.Name, errors.Errorf("daemon is a member of replica set %q", hello.SetName)))
	case !hello.IsReplicaSet:
		return false, b.fail(roleerr.Observation("replset:"+b.Set.Name, errors.New("daemon is not running with replication enabled")))
	case !b.Set.Master:
		log.Info("replica set not initialized locally, waiting for registration")
		b.state = MemberRegistration
		return false, nil
	}

	b.state = Initializing
	if b.DryRun {
		log.Info("would initiate replica set")
		b.initiatePlanned = true
		b.state = MemberRegistration
		return true, nil
	}

	log.Info("initiating replica set", "seed", b.Set.Self.Addr())
	err = sess.ReplSetInitiate(ctx, admin.ReplSetConfig{
		ID:      b.Set.Name,
		Version: 1,
		Members: []admin.ReplSetMember{newMember(0, b.Set.Self)},
	})
	if err != nil && !admin.IsCode(err, admin.CodeAlreadyInitialized) {
		return false, b.fail(roleerr.Apply("replset:"+b.Set.Name, err))
	}

	if err := b.waitPrimary(ctx, sess); err != nil {
		return false, b.fail(roleerr.InitTimeout(b.Set.Name, err))
	}
	log.Info("replica set initiated")
	b.state = MemberRegistration
	return true, nil
}

// waitPrimary polls hello until the session's daemon reports itself as
// writable primary.
func (b *Bootstrapper) waitPrimary(ctx context.Context, sess admin.Admin) error {
	return b.Set.PrimaryWait.RunContext(ctx, func() error {
		hello, err := sess.Hello(ctx)
		if err != nil {
			return err
		}
		if !hello.IsWritablePrimary {
			return errors.New("not yet primary")
		}
		return nil
	})
}

func newMember(id int, m config.Member) admin.ReplSetMember {
	member := admin.ReplSetMember{ID: id, Host: m.Addr(), Priority: 1}
	if m.Role == config.RoleArbiter {
		member.ArbiterOnly = true
		member.Priority = 0
	}
	return member
}
