// Package admintest provides an in-memory set of mongod daemons that
// implements admin.Connector for tests.
package admintest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flynn/mongorole/admin"
	"github.com/flynn/mongorole/config"
	"github.com/pkg/errors"
)

// Cluster is a set of fake daemons addressed by host:port.
type Cluster struct {
	mtx   sync.Mutex
	nodes map[string]*Node

	// ElectAfter is the number of hello calls a freshly initiated node
	// answers as secondary before reporting itself primary.
	ElectAfter int

	Initiates int
	Reconfigs int
	// FailReconfig, when set, is returned by the next reconfig instead of
	// applying it.
	FailReconfig error
}

// Node is one fake daemon.
type Node struct {
	Addr    string
	SetName string
	Auth    bool
	Keyfile string
	Down    bool

	config  *admin.ReplSetConfig
	primary bool
	pending int
	data    *dataset
}

type dataset struct {
	users map[string]*config.User
}

func newDataset() *dataset {
	return &dataset{users: make(map[string]*config.User)}
}

func NewCluster() *Cluster {
	return &Cluster{nodes: make(map[string]*Node)}
}

// AddNode registers a daemon started with the given set name and keyfile
// content. Auth is enabled when keyfile is non-empty.
func (c *Cluster) AddNode(addr, setName, keyfile string) *Node {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	n := &Node{Addr: addr, SetName: setName, Keyfile: keyfile, Auth: keyfile != "", data: newDataset()}
	c.nodes[addr] = n
	return n
}

// Node returns the daemon at addr, or nil.
func (c *Cluster) Node(addr string) *Node {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.nodes[addr]
}

// Restart applies a new daemon configuration to the node at addr, the way
// a service restart picks up a rewritten config file. Replica set state
// and users survive.
func (c *Cluster) Restart(addr, setName, keyfile string, auth bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	n, ok := c.nodes[addr]
	if !ok {
		n = &Node{Addr: addr, data: newDataset()}
		c.nodes[addr] = n
	}
	n.SetName, n.Keyfile, n.Auth, n.Down = setName, keyfile, auth, false
}

// SetDown marks the node at addr as unreachable.
func (c *Cluster) SetDown(addr string, down bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if n, ok := c.nodes[addr]; ok {
		n.Down = down
	}
}

// Config returns a copy of the replica set configuration held by addr.
func (c *Cluster) Config(addr string) *admin.ReplSetConfig {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	n, ok := c.nodes[addr]
	if !ok || n.config == nil {
		return nil
	}
	cfg := n.config.Clone()
	return &cfg
}

// Users returns the ids of the users visible on addr, sorted.
func (c *Cluster) Users(addr string) []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	n, ok := c.nodes[addr]
	if !ok {
		return nil
	}
	var ids []string
	for id := range n.data.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetPassword changes a stored password behind the reconciler's back.
func (c *Cluster) SetPassword(addr, db, name, password string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if u, ok := c.nodes[addr].data.users[db+"."+name]; ok {
		u.Password = password
	}
}

// Connector returns a connector that resolves loopback targets to the
// node at local, the way a process on that host would reach its own
// daemon.
func (c *Cluster) Connector(local string) admin.Connector {
	return &connector{cluster: c, local: local}
}

type connector struct {
	cluster *Cluster
	local   string
}

func (c *connector) Connect(ctx context.Context, t admin.Target) (admin.Admin, error) {
	addr := t.Addr()
	if t.IsLoopback() {
		addr = c.local
	}
	return &session{cluster: c.cluster, addr: addr, target: t}, nil
}

type session struct {
	cluster *Cluster
	addr    string
	target  admin.Target
}

func cmdErr(code int, name, format string, args ...interface{}) error {
	return &admin.CommandError{Code: code, Name: name, Message: fmt.Sprintf(format, args...)}
}

// node returns the addressed node with the cluster lock held. Callers must
// unlock.
func (s *session) node() (*Node, error) {
	s.cluster.mtx.Lock()
	n, ok := s.cluster.nodes[s.addr]
	if !ok || n.Down {
		s.cluster.mtx.Unlock()
		return nil, errors.WithMessage(admin.ErrUnreachable, s.addr)
	}
	if cred := s.target.Credential; cred != nil {
		source := cred.Source
		if source == "" {
			source = "admin"
		}
		u, ok := n.data.users[source+"."+cred.Username]
		if !ok || u.Password != cred.Password {
			s.cluster.mtx.Unlock()
			return nil, cmdErr(admin.CodeAuthenticationFailed, "AuthenticationFailed", "Authentication failed.")
		}
	}
	return n, nil
}

// authorized reports whether an unauthenticated session may run privileged
// commands.
func (s *session) authorized(n *Node) error {
	if !n.Auth || s.target.Credential != nil {
		return nil
	}
	if s.target.IsLoopback() && len(n.data.users) == 0 {
		return nil
	}
	return cmdErr(admin.CodeUnauthorized, "Unauthorized", "command requires authentication")
}

func (s *session) Ping(ctx context.Context) error {
	_, err := s.node()
	if err != nil {
		return err
	}
	s.cluster.mtx.Unlock()
	return nil
}

func (s *session) Hello(ctx context.Context) (*admin.Hello, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	defer s.cluster.mtx.Unlock()

	h := &admin.Hello{Me: n.Addr}
	switch {
	case n.SetName == "":
		h.IsWritablePrimary = true
	case n.config == nil:
		h.IsReplicaSet = true
	default:
		if n.pending > 0 {
			n.pending--
			if n.pending == 0 {
				n.primary = true
			}
		}
		h.SetName = n.config.ID
		h.SetVersion = n.config.Version
		for _, m := range n.config.Members {
			if m.ArbiterOnly {
				h.Arbiters = append(h.Arbiters, m.Host)
				if m.Host == n.Addr {
					h.ArbiterOnly = true
				}
			} else {
				h.Hosts = append(h.Hosts, m.Host)
			}
		}
		for _, other := range s.cluster.nodes {
			if other.primary && other.config != nil && other.config.ID == n.config.ID {
				h.Primary = other.Addr
			}
		}
		h.IsWritablePrimary = n.primary
		h.Secondary = !n.primary && !h.ArbiterOnly
	}
	return h, nil
}

func (s *session) replNode() (*Node, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	if err := s.authorized(n); err != nil {
		s.cluster.mtx.Unlock()
		return nil, err
	}
	if n.SetName == "" {
		s.cluster.mtx.Unlock()
		return nil, cmdErr(admin.CodeNoReplicationEnabled, "NoReplicationEnabled", "not running with --replSet")
	}
	return n, nil
}

func (s *session) ReplSetGetConfig(ctx context.Context) (*admin.ReplSetConfig, error) {
	n, err := s.replNode()
	if err != nil {
		return nil, err
	}
	defer s.cluster.mtx.Unlock()
	if n.config == nil {
		return nil, cmdErr(admin.CodeNotYetInitialized, "NotYetInitialized", "no replset config has been received")
	}
	cfg := n.config.Clone()
	return &cfg, nil
}

func (s *session) ReplSetGetStatus(ctx context.Context) (*admin.ReplSetStatus, error) {
	n, err := s.replNode()
	if err != nil {
		return nil, err
	}
	defer s.cluster.mtx.Unlock()
	if n.config == nil {
		return nil, cmdErr(admin.CodeNotYetInitialized, "NotYetInitialized", "no replset config has been received")
	}
	status := &admin.ReplSetStatus{Set: n.config.ID}
	for _, m := range n.config.Members {
		state, health := admin.Secondary, 1.0
		if other, ok := s.cluster.nodes[m.Host]; !ok || other.Down {
			state, health = admin.Down, 0
		} else if m.ArbiterOnly {
			state = admin.Arbiter
		} else if other.primary {
			state = admin.Primary
		}
		if m.Host == n.Addr {
			status.MyState = state
		}
		status.Members = append(status.Members, admin.ReplSetStatusMember{ID: m.ID, Name: m.Host, Health: health, State: state})
	}
	return status, nil
}

func (s *session) ReplSetInitiate(ctx context.Context, cfg admin.ReplSetConfig) error {
	n, err := s.replNode()
	if err != nil {
		return err
	}
	defer s.cluster.mtx.Unlock()
	if n.config != nil {
		return cmdErr(admin.CodeAlreadyInitialized, "AlreadyInitialized", "already initialized")
	}
	if cfg.ID != n.SetName {
		return cmdErr(admin.CodeInvalidReplicaSetConfig, "InvalidReplicaSetConfig",
			"Attempting to initiate a replica set with name %s, but command line reports %s", cfg.ID, n.SetName)
	}
	if cfg.Member(n.Addr) == nil {
		return cmdErr(admin.CodeInvalidReplicaSetConfig, "InvalidReplicaSetConfig", "No host described in new configuration for this node")
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	stored := cfg.Clone()
	n.config = &stored
	s.cluster.Initiates++
	n.pending = s.cluster.ElectAfter
	if n.pending == 0 {
		n.primary = true
	}
	return nil
}

func (s *session) ReplSetReconfig(ctx context.Context, cfg admin.ReplSetConfig) error {
	n, err := s.replNode()
	if err != nil {
		return err
	}
	defer s.cluster.mtx.Unlock()
	if n.config == nil {
		return cmdErr(admin.CodeNotYetInitialized, "NotYetInitialized", "no replset config has been received")
	}
	if !n.primary {
		return cmdErr(admin.CodeNotWritablePrimary, "NotWritablePrimary", "replSetReconfig should only be run on a writable PRIMARY")
	}
	if cfg.ID != n.config.ID {
		return cmdErr(admin.CodeInvalidReplicaSetConfig, "InvalidReplicaSetConfig", "set name may not change")
	}
	if cfg.Version <= n.config.Version {
		return cmdErr(admin.CodeNewConfigIncompatible, "NewReplicaSetConfigurationIncompatible",
			"version field value of %d is not greater than the current version %d", cfg.Version, n.config.Version)
	}
	if err := s.cluster.FailReconfig; err != nil {
		s.cluster.FailReconfig = nil
		return err
	}
	for _, m := range cfg.Members {
		if n.config.Member(m.Host) != nil {
			continue
		}
		other, ok := s.cluster.nodes[m.Host]
		if !ok || other.Down || other.SetName != cfg.ID || other.Keyfile != n.Keyfile {
			return cmdErr(admin.CodeNodeNotFound, "NodeNotFound",
				"Quorum check failed because not enough voting nodes responded; required 2 but only the following 1 voting nodes responded: %s", n.Addr)
		}
	}

	stored := cfg.Clone()
	for _, old := range n.config.Members {
		if stored.Member(old.Host) == nil {
			if other, ok := s.cluster.nodes[old.Host]; ok {
				other.config, other.primary = nil, false
				other.data = newDataset()
			}
		}
	}
	for _, m := range stored.Members {
		other, ok := s.cluster.nodes[m.Host]
		if !ok {
			continue
		}
		cp := stored.Clone()
		other.config = &cp
		other.data = n.data
	}
	s.cluster.Reconfigs++
	return nil
}

func (s *session) UsersInfo(ctx context.Context, db, name string) ([]admin.UserInfo, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	defer s.cluster.mtx.Unlock()
	if err := s.authorized(n); err != nil {
		return nil, err
	}
	var out []admin.UserInfo
	for id, u := range n.data.users {
		if name != "" && (u.Name != name || u.Database != db) {
			continue
		}
		out = append(out, admin.UserInfo{ID: id, User: u.Name, DB: u.Database, Roles: append([]config.RoleRef(nil), u.Roles...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *session) writable(n *Node) error {
	if n.SetName != "" && !n.primary {
		return cmdErr(admin.CodeNotWritablePrimary, "NotWritablePrimary", "not primary")
	}
	return nil
}

func (s *session) CreateUser(ctx context.Context, u config.User) error {
	n, err := s.node()
	if err != nil {
		return err
	}
	defer s.cluster.mtx.Unlock()
	if err := s.authorized(n); err != nil {
		return err
	}
	if err := s.writable(n); err != nil {
		return err
	}
	id := u.ID()
	if _, ok := n.data.users[id]; ok {
		return cmdErr(admin.CodeUserAlreadyExists, "Location51003", "User \"%s@%s\" already exists", u.Name, u.Database)
	}
	u.Roles = append([]config.RoleRef(nil), u.Roles...)
	n.data.users[id] = &u
	return nil
}

func (s *session) UpdateUser(ctx context.Context, u config.User) error {
	n, err := s.node()
	if err != nil {
		return err
	}
	defer s.cluster.mtx.Unlock()
	if err := s.authorized(n); err != nil {
		return err
	}
	if err := s.writable(n); err != nil {
		return err
	}
	existing, ok := n.data.users[u.ID()]
	if !ok {
		return cmdErr(admin.CodeUserNotFound, "UserNotFound", "Could not find user \"%s\" for db \"%s\"", u.Name, u.Database)
	}
	existing.Password = u.Password
	existing.Roles = append([]config.RoleRef(nil), u.Roles...)
	return nil
}

func (s *session) Close(ctx context.Context) error { return nil }
