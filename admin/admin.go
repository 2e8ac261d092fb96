// Package admin is the interface to a mongod admin database used to
// observe and change replica set membership and users.
package admin

import (
	"context"
	"net"
	"strconv"

	"github.com/flynn/mongorole/config"
)

// Target identifies a daemon to connect to.
type Target struct {
	Host string
	Port int
	// Credential is nil for unauthenticated connections.
	Credential *config.Credential
	TLS        *config.TLS
}

func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// IsLoopback reports whether the target is reached through the loopback
// interface, which is where the localhost exception applies.
func (t Target) IsLoopback() bool {
	if t.Host == "localhost" {
		return true
	}
	ip := net.ParseIP(t.Host)
	return ip != nil && ip.IsLoopback()
}

// WithCredential returns a copy of t that authenticates with cred.
func (t Target) WithCredential(cred *config.Credential) Target {
	t.Credential = cred
	return t
}

// Connector opens admin sessions.
type Connector interface {
	Connect(ctx context.Context, t Target) (Admin, error)
}

// Admin is a session against one daemon. Connecting is lazy: problems
// reaching or authenticating against the daemon surface from the first
// command.
type Admin interface {
	Ping(ctx context.Context) error
	Hello(ctx context.Context) (*Hello, error)
	ReplSetGetConfig(ctx context.Context) (*ReplSetConfig, error)
	ReplSetGetStatus(ctx context.Context) (*ReplSetStatus, error)
	ReplSetInitiate(ctx context.Context, cfg ReplSetConfig) error
	ReplSetReconfig(ctx context.Context, cfg ReplSetConfig) error
	// UsersInfo returns the named user in db, or every user on every
	// database when name is empty.
	UsersInfo(ctx context.Context, db, name string) ([]UserInfo, error)
	CreateUser(ctx context.Context, u config.User) error
	UpdateUser(ctx context.Context, u config.User) error
	Close(ctx context.Context) error
}

// Hello is the subset of the hello response the role acts on.
type Hello struct {
	IsWritablePrimary bool     `bson:"isWritablePrimary" json:"is_writable_primary"`
	Secondary         bool     `bson:"secondary" json:"secondary"`
	ArbiterOnly       bool     `bson:"arbiterOnly" json:"arbiter_only"`
	SetName           string   `bson:"setName" json:"set_name,omitempty"`
	SetVersion        int      `bson:"setVersion" json:"set_version,omitempty"`
	Hosts             []string `bson:"hosts" json:"hosts,omitempty"`
	Arbiters          []string `bson:"arbiters" json:"arbiters,omitempty"`
	Primary           string   `bson:"primary" json:"primary,omitempty"`
	Me                string   `bson:"me" json:"me,omitempty"`
	// IsReplicaSet is set by a daemon started with a set name whose set
	// has not been initiated yet.
	IsReplicaSet bool `bson:"isreplicaset" json:"is_replica_set,omitempty"`
}

// UserInfo is one entry of a usersInfo response.
type UserInfo struct {
	ID    string           `bson:"_id" json:"id"`
	User  string           `bson:"user" json:"user"`
	DB    string           `bson:"db" json:"db"`
	Roles []config.RoleRef `bson:"roles" json:"roles"`
}

// SameRoles reports whether a and b grant the same roles, ignoring order.
func SameRoles(a, b []config.RoleRef) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[config.RoleRef]int, len(a))
	for _, r := range a {
		seen[r]++
	}
	for _, r := range b {
		if seen[r] == 0 {
			return false
		}
		seen[r]--
	}
	return true
}
