package config

import (
	"io/ioutil"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/flynn/mongorole/keyfile"
	"github.com/flynn/mongorole/pkg/attempt"
	"github.com/flynn/mongorole/pkg/roleerr"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

const (
	primaryPollDelay = time.Second
	readyPollDelay   = time.Second
	minCacheSizeGB   = 0.25
)

// Resolve merges ov over the defaults for ov.Version in table and returns
// the desired state of the node. It fails with a ConfigError when the
// combination cannot be resolved.
func Resolve(ov *Overrides, table DefaultTable) (*Desired, error) {
	if ov.Version == "" {
		return nil, roleerr.Config("version", "no MongoDB version configured")
	}
	vd, ok := table.Lookup(ov.Version)
	if !ok {
		return nil, roleerr.Config("version", "no defaults for MongoDB %s (known: %s)", ov.Version, strings.Join(table.Versions(), ", "))
	}

	d := &Desired{
		Version:    ov.Version,
		Host:       ov.Host,
		DaemonUser: stringOr(ov.DaemonUser, DefaultDaemonUser),
		ConfigPath: stringOr(ov.ConfigPath, DefaultConfigPath),
		Tuning:     Tuning{DisableTHP: boolOr(ov.Tuning.DisableTHP, true)},
	}

	var err error
	if d.ClientTLS, err = resolveClientTLS(ov); err != nil {
		return nil, err
	}
	if d.Package, err = resolvePackage(ov, vd); err != nil {
		return nil, err
	}
	if d.Service, err = resolveService(ov); err != nil {
		return nil, err
	}
	if err = resolveNode(ov, vd, &d.Node); err != nil {
		return nil, err
	}
	if d.Users, err = resolveUsers(ov); err != nil {
		return nil, err
	}
	if d.ReplicaSet, err = resolveReplicaSet(ov, d); err != nil {
		return nil, err
	}
	if d.Keyfile, err = resolveKeyfile(ov, d); err != nil {
		return nil, err
	}
	if d.Keyfile != nil {
		d.Node.Security.KeyFile = d.Keyfile.Path
	}
	if d.Node.Security.Authorization && d.AdminCredential() == nil {
		return nil, roleerr.Config("users.admin", "authorization is enabled but no admin user or client credentials are configured")
	}
	return d, nil
}

func resolvePackage(ov *Overrides, vd VersionDefaults) (Package, error) {
	p := Package{
		Version: stringOr(ov.Package.Version, ov.Version),
		Source:  stringOr(ov.Package.Source, DefaultPackageSource),
	}
	switch p.Source {
	case "official":
		p.Name = stringOr(ov.Package.Name, vd.PackageName)
	case "distro":
		p.Name = stringOr(ov.Package.Name, "mongodb")
	default:
		return p, roleerr.Config("package.source", "unknown package source %q (want official or distro)", p.Source)
	}
	return p, nil
}

func resolveService(ov *Overrides) (Service, error) {
	ready, err := durationOr(ov.Service.ReadyTimeout, DefaultReadyTimeout)
	if err != nil {
		return Service{}, roleerr.Config("service.ready_timeout", "%s", err)
	}
	return Service{
		Name:      stringOr(ov.Service.Name, DefaultServiceName),
		Manage:    boolOr(ov.Service.Manage, true),
		ReadyWait: attempt.Strategy{Total: ready, Delay: readyPollDelay},
	}, nil
}

func resolveNode(ov *Overrides, vd VersionDefaults, n *NodeConfig) error {
	n.Net = NetConfig{
		BindIP:                 ov.Net.BindIP,
		Port:                   intOr(ov.Net.Port, DefaultPort),
		MaxIncomingConnections: intOr(ov.Net.MaxConns, DefaultMaxConns),
	}
	if len(n.Net.BindIP) == 0 {
		n.Net.BindIP = []string{DefaultBindIP}
	}
	if n.Net.Port <= 0 || n.Net.Port > 65535 {
		return roleerr.Config("net.port", "port %d out of range", n.Net.Port)
	}

	n.Storage = StorageConfig{
		DBPath:         stringOr(ov.Storage.DBPath, DefaultDBPath),
		Engine:         stringOr(ov.Storage.Engine, vd.DefaultEngine()),
		DirectoryPerDB: boolOr(ov.Storage.DirectoryPerDB, false),
	}
	if !vd.supportsEngine(n.Storage.Engine) {
		return roleerr.Config("storage.engine", "engine %q is not supported by MongoDB %s", n.Storage.Engine, ov.Version)
	}
	switch {
	case ov.Storage.Journal != nil && !vd.JournalToggle:
		return roleerr.Config("storage.journal", "MongoDB %s does not allow disabling the journal", ov.Version)
	case ov.Storage.Journal != nil:
		n.Storage.Journal = boolPtr(*ov.Storage.Journal)
	case vd.JournalToggle:
		n.Storage.Journal = boolPtr(true)
	}
	if ov.Storage.CacheSize != nil {
		if n.Storage.Engine != EngineWiredTiger {
			return roleerr.Config("storage.cache_size", "cache size only applies to the %s engine", EngineWiredTiger)
		}
		gb, err := parseCacheSize(*ov.Storage.CacheSize)
		if err != nil {
			return roleerr.Config("storage.cache_size", "%s", err)
		}
		n.Storage.CacheSizeGB = gb
	}

	n.Security = SecurityConfig{Authorization: boolOr(ov.Security.Authorization, false)}

	n.SystemLog = SystemLogConfig{
		Destination: stringOr(ov.SystemLog.Destination, "file"),
		LogAppend:   boolOr(ov.SystemLog.LogAppend, true),
	}
	switch n.SystemLog.Destination {
	case "file":
		n.SystemLog.Path = stringOr(ov.SystemLog.Path, DefaultLogPath)
	case "syslog":
	default:
		return roleerr.Config("system_log.destination", "unknown log destination %q (want file or syslog)", n.SystemLog.Destination)
	}

	n.Replication = ReplicationConfig{
		ReplSetName: stringOr(ov.Replication.SetName, ""),
		OplogSizeMB: intOr(ov.Replication.OplogSizeMB, 0),
	}

	n.ProcessManagement = ProcessManagementConfig{
		Fork:        boolOr(ov.ProcessManagement.Fork, false),
		PIDFilePath: stringOr(ov.ProcessManagement.PIDFilePath, DefaultPIDFile),
	}

	n.OperationProfiling = OperationProfilingConfig{
		Mode:              stringOr(ov.OperationProfiling.Mode, DefaultProfilingMode),
		SlowOpThresholdMs: intOr(ov.OperationProfiling.SlowOpThresholdMs, DefaultSlowOpMs),
	}
	switch n.OperationProfiling.Mode {
	case "off", "slowOp", "all":
	default:
		return roleerr.Config("operation_profiling.mode", "unknown profiling mode %q", n.OperationProfiling.Mode)
	}

	if len(ov.SetParameters) > 0 {
		n.SetParameter = make(map[string]string, len(ov.SetParameters))
		for k, v := range ov.SetParameters {
			n.SetParameter[k] = v
		}
	}
	return nil
}

func resolveUsers(ov *Overrides) (Users, error) {
	u := Users{PasswordUpdate: PasswordPolicy(stringOr(ov.Users.PasswordUpdate, string(PasswordOnCreate)))}
	switch u.PasswordUpdate {
	case PasswordOnCreate, PasswordAlways:
	default:
		return u, roleerr.Config("users.password_update", "unknown password update policy %q (want on_create or always)", u.PasswordUpdate)
	}

	seen := make(map[string]bool)
	add := func(field string, o UserOverride, defaultRoles []RoleRef) (User, error) {
		user := User{Name: o.Name, Password: o.Password, Database: o.Database, Roles: o.Roles}
		if user.Database == "" {
			user.Database = "admin"
		}
		if len(user.Roles) == 0 {
			user.Roles = defaultRoles
		}
		switch {
		case user.Name == "":
			return user, roleerr.Config(field, "user has no name")
		case user.Password == "":
			return user, roleerr.Config(field, "user %s has no password", user.Name)
		case len(user.Roles) == 0:
			return user, roleerr.Config(field, "user %s has no roles", user.Name)
		case seen[user.ID()]:
			return user, roleerr.Config(field, "user %s is configured twice", user.ID())
		}
		seen[user.ID()] = true
		return user, nil
	}

	if a := ov.Users.Admin; a != nil {
		o := *a
		if o.Name == "" {
			o.Name = DefaultAdminUser
		}
		admin, err := add("users.admin", o, []RoleRef{{Role: "root", DB: "admin"}})
		if err != nil {
			return u, err
		}
		u.Admin = &admin
	}
	for _, o := range ov.Users.Oplog {
		user, err := add("users.oplog", o, []RoleRef{{Role: "read", DB: "local"}})
		if err != nil {
			return u, err
		}
		u.Others = append(u.Others, user)
	}
	for _, o := range ov.Users.Extra {
		user, err := add("users.extra", o, nil)
		if err != nil {
			return u, err
		}
		u.Others = append(u.Others, user)
	}
	return u, nil
}

func resolveReplicaSet(ov *Overrides, d *Desired) (*ReplicaSet, error) {
	r := ov.Replication
	name := d.Node.Replication.ReplSetName
	if name == "" {
		if len(r.Members) > 0 || (r.Master != nil && *r.Master) {
			return nil, roleerr.Config("replication.set_name", "replica set members configured without a set name")
		}
		return nil, nil
	}
	if d.Host == "" {
		return nil, roleerr.Config("host", "replication requires the advertised host of this node")
	}

	self := Member{Host: d.Host, Port: d.Node.Net.Port}
	members := append([]Member(nil), r.Members...)
	if len(members) == 0 {
		members = []Member{{Host: self.Host, Port: self.Port, Role: RolePrimary}}
	}

	var primary *Member
	seen := make(map[string]bool, len(members))
	found := false
	for i, m := range members {
		if m.Port == 0 {
			members[i].Port = DefaultPort
			m.Port = DefaultPort
		}
		if m.Role == "" {
			members[i].Role = RoleReplica
			m.Role = RoleReplica
		}
		if !m.Role.valid() {
			return nil, roleerr.Config("replication.members", "member %s has unknown role %q", m.Addr(), m.Role)
		}
		if seen[m.Addr()] {
			return nil, roleerr.Config("replication.members", "member %s is listed twice", m.Addr())
		}
		seen[m.Addr()] = true
		if m.Role == RolePrimary {
			if primary != nil {
				return nil, roleerr.Config("replication.members", "more than one primary member (%s and %s)", primary.Addr(), m.Addr())
			}
			primary = &members[i]
		}
		if m.Addr() == self.Addr() {
			self.Role = m.Role
			found = true
		}
	}
	if primary == nil {
		return nil, roleerr.Config("replication.members", "no member has role primary")
	}
	if !found {
		return nil, roleerr.Config("replication.members", "this node (%s) is not in the member list", self.Addr())
	}

	master := boolOr(r.Master, self.Role == RolePrimary)
	switch {
	case master && self.Role != RolePrimary:
		return nil, roleerr.Config("replication.master", "%s is flagged as initial master but its member role is %s", self.Addr(), self.Role)
	case !master && self.Role == RolePrimary:
		return nil, roleerr.Config("replication.master", "%s is the primary member but is not flagged as initial master", self.Addr())
	}

	wait, err := durationOr(r.PrimaryTimeout, DefaultPrimaryTimeout)
	if err != nil {
		return nil, roleerr.Config("replication.primary_timeout", "%s", err)
	}

	rs := &ReplicaSet{
		Name:        name,
		Master:      master,
		Self:        self,
		Members:     members,
		Login:       *primary,
		Prune:       boolOr(r.Prune, false),
		PrimaryWait: attempt.Strategy{Total: wait, Delay: primaryPollDelay},
	}
	if r.LoginHost != nil {
		rs.Login = Member{Host: *r.LoginHost, Port: intOr(r.LoginPort, DefaultPort), Role: RolePrimary}
	}

	if d.Users.Admin == nil && (d.Node.Security.Authorization || r.ClientCredentials != nil) {
		path := stringOr(r.ClientCredentials, DefaultClientCredentials)
		cred, err := LoadClientCredentials(path)
		if err != nil {
			return nil, roleerr.Config("replication.client_credentials", "%s", err)
		}
		rs.Credential = cred
	}
	return rs, nil
}

func resolveClientTLS(ov *Overrides) (*TLS, error) {
	c := ov.Client
	if !boolOr(c.TLS, false) {
		if c.TLSCAFile != nil || c.TLSInsecure != nil {
			return nil, roleerr.Config("client.tls", "tls_ca_file and tls_insecure need tls enabled")
		}
		return nil, nil
	}
	t := &TLS{Insecure: boolOr(c.TLSInsecure, false)}
	if c.TLSCAFile != nil {
		path, err := homedir.Expand(*c.TLSCAFile)
		if err != nil {
			return nil, roleerr.Config("client.tls_ca_file", "%s", err)
		}
		t.CAFile = path
	}
	return t, nil
}

func resolveKeyfile(ov *Overrides, d *Desired) (*Keyfile, error) {
	if !d.Node.Security.Authorization || d.ReplicaSet == nil {
		return nil, nil
	}
	k := &Keyfile{
		Path:  stringOr(ov.Security.KeyfilePath, DefaultKeyfilePath),
		Force: boolOr(ov.Security.ForceKeyfileUpdate, false),
	}
	switch {
	case ov.Security.KeyfileContent != nil:
		k.Content = []byte(*ov.Security.KeyfileContent)
	case ov.Security.KeyfileSource != nil:
		data, err := ioutil.ReadFile(*ov.Security.KeyfileSource)
		if err != nil {
			return nil, roleerr.Config("security.keyfile_source", "%s", err)
		}
		k.Content = data
	default:
		return nil, roleerr.Config("security.keyfile_content", "replication with authorization requires keyfile content or a keyfile source")
	}
	if err := keyfile.Validate(k.Content); err != nil {
		return nil, roleerr.Config("security.keyfile_content", "%s", err)
	}
	return k, nil
}

func parseCacheSize(s string) (float64, error) {
	gb, err := strconv.ParseFloat(s, 64)
	if err != nil {
		b, berr := humanize.ParseBytes(s)
		if berr != nil {
			return 0, berr
		}
		gb = math.Round(float64(b)/(1<<30)*100) / 100
	}
	if gb < minCacheSizeGB {
		return 0, errors.Errorf("cache size %s is below the %.2fGB minimum", s, minCacheSizeGB)
	}
	return gb, nil
}

func stringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func boolPtr(b bool) *bool { return &b }

func durationOr(p *string, def time.Duration) (time.Duration, error) {
	if p == nil {
		return def, nil
	}
	return time.ParseDuration(*p)
}
