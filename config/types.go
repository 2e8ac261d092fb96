package config

import (
	"net"
	"strconv"

	"github.com/flynn/mongorole/pkg/attempt"
)

// Role is the role of a member in the desired replica set.
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
	RoleArbiter Role = "arbiter"
)

func (r Role) valid() bool {
	switch r {
	case RolePrimary, RoleReplica, RoleArbiter:
		return true
	}
	return false
}

// DataBearing reports whether members with this role hold data.
func (r Role) DataBearing() bool { return r != RoleArbiter }

// Member is one entry of the desired replica set membership.
type Member struct {
	Host string `yaml:"host" toml:"host" json:"host"`
	Port int    `yaml:"port" toml:"port" json:"port"`
	Role Role   `yaml:"role" toml:"role" json:"role"`
}

// Addr returns the host:port string used as the member identity.
func (m Member) Addr() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// NodeConfig is the resolved set of daemon options for one node.
type NodeConfig struct {
	Net                NetConfig
	Storage            StorageConfig
	Security           SecurityConfig
	SystemLog          SystemLogConfig
	Replication        ReplicationConfig
	ProcessManagement  ProcessManagementConfig
	OperationProfiling OperationProfilingConfig
	SetParameter       map[string]string
}

type NetConfig struct {
	BindIP                 []string
	Port                   int
	MaxIncomingConnections int
}

type StorageConfig struct {
	DBPath         string
	Engine         string
	Journal        *bool
	DirectoryPerDB bool
	CacheSizeGB    float64
}

type SecurityConfig struct {
	Authorization bool
	KeyFile       string
}

type SystemLogConfig struct {
	// Destination is "file" or "syslog".
	Destination string
	Path        string
	LogAppend   bool
}

type ReplicationConfig struct {
	ReplSetName string
	OplogSizeMB int
}

type ProcessManagementConfig struct {
	Fork        bool
	PIDFilePath string
}

type OperationProfilingConfig struct {
	Mode              string
	SlowOpThresholdMs int
}

// RoleRef grants a role on a database.
type RoleRef struct {
	Role string `yaml:"role" toml:"role" json:"role" bson:"role"`
	DB   string `yaml:"db" toml:"db" json:"db" bson:"db"`
}

// User is a database user managed by the reconciler.
type User struct {
	Name     string
	Password string
	Database string
	Roles    []RoleRef
}

// ID returns the "db.name" identity used in reports.
func (u User) ID() string { return u.Database + "." + u.Name }

// PasswordPolicy controls whether existing users get their password
// re-applied.
type PasswordPolicy string

const (
	PasswordOnCreate PasswordPolicy = "on_create"
	PasswordAlways   PasswordPolicy = "always"
)

// TLS configures TLS for admin connections. A nil *TLS means plain TCP.
type TLS struct {
	// CAFile is a PEM bundle used instead of the system roots.
	CAFile string
	// Insecure skips certificate verification.
	Insecure bool
}

// Credential authenticates against the admin interface.
type Credential struct {
	Username string
	Password string
	Source   string
}

type Package struct {
	Name string
	// Version is a release series ("4.4") or an exact version ("4.4.18").
	// Empty means any installed version is acceptable.
	Version string
	// Source is "official" or "distro".
	Source string
}

type Service struct {
	Name      string
	Manage    bool
	ReadyWait attempt.Strategy
}

type Keyfile struct {
	Path    string
	Content []byte
	Force   bool
}

type Users struct {
	Admin          *User
	PasswordUpdate PasswordPolicy
	Others         []User
}

// All returns the admin user first, followed by the other users.
func (u Users) All() []User {
	var all []User
	if u.Admin != nil {
		all = append(all, *u.Admin)
	}
	return append(all, u.Others...)
}

type ReplicaSet struct {
	Name string
	// Master marks this node as the one that initializes the set.
	Master  bool
	Self    Member
	Members []Member
	// Login is the member the non-master nodes register through.
	Login       Member
	Credential  *Credential
	Prune       bool
	PrimaryWait attempt.Strategy
}

type Tuning struct {
	DisableTHP bool
}

// Desired is the fully resolved desired state of one node.
type Desired struct {
	Version    string
	Host       string
	Node       NodeConfig
	Package    Package
	Service    Service
	DaemonUser string
	ConfigPath string
	Keyfile    *Keyfile
	Users      Users
	ReplicaSet *ReplicaSet
	Tuning     Tuning
	// ClientTLS is used for every admin connection the role opens.
	ClientTLS *TLS
}

// AdminCredential returns the credential used to manage users and the
// replica set, or nil when none is configured.
func (d *Desired) AdminCredential() *Credential {
	if d.Users.Admin != nil {
		return &Credential{Username: d.Users.Admin.Name, Password: d.Users.Admin.Password, Source: d.Users.Admin.Database}
	}
	if d.ReplicaSet != nil {
		return d.ReplicaSet.Credential
	}
	return nil
}
