package config

import (
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Overrides is the operator supplied run configuration. Nil pointers and
// empty slices fall back to the defaults of the selected version.
type Overrides struct {
	Version    string  `yaml:"version" toml:"version"`
	Host       string  `yaml:"host" toml:"host"`
	DaemonUser *string `yaml:"daemon_user" toml:"daemon_user"`
	ConfigPath *string `yaml:"config_path" toml:"config_path"`

	Package            PackageOverrides            `yaml:"package" toml:"package"`
	Service            ServiceOverrides            `yaml:"service" toml:"service"`
	Net                NetOverrides                `yaml:"net" toml:"net"`
	Storage            StorageOverrides            `yaml:"storage" toml:"storage"`
	Security           SecurityOverrides           `yaml:"security" toml:"security"`
	SystemLog          SystemLogOverrides          `yaml:"system_log" toml:"system_log"`
	Replication        ReplicationOverrides        `yaml:"replication" toml:"replication"`
	ProcessManagement  ProcessManagementOverrides  `yaml:"process_management" toml:"process_management"`
	OperationProfiling OperationProfilingOverrides `yaml:"operation_profiling" toml:"operation_profiling"`
	SetParameters      map[string]string           `yaml:"set_parameters" toml:"set_parameters"`
	Users              UsersOverrides              `yaml:"users" toml:"users"`
	Tuning             TuningOverrides             `yaml:"tuning" toml:"tuning"`
	Client             ClientOverrides             `yaml:"client" toml:"client"`
}

type PackageOverrides struct {
	Name    *string `yaml:"name" toml:"name"`
	Version *string `yaml:"version" toml:"version"`
	Source  *string `yaml:"source" toml:"source"`
}

type ServiceOverrides struct {
	Name         *string `yaml:"name" toml:"name"`
	Manage       *bool   `yaml:"manage" toml:"manage"`
	ReadyTimeout *string `yaml:"ready_timeout" toml:"ready_timeout"`
}

type NetOverrides struct {
	BindIP   []string `yaml:"bind_ip" toml:"bind_ip"`
	Port     *int     `yaml:"port" toml:"port"`
	MaxConns *int     `yaml:"max_conns" toml:"max_conns"`
}

type StorageOverrides struct {
	DBPath         *string `yaml:"dbpath" toml:"dbpath"`
	Engine         *string `yaml:"engine" toml:"engine"`
	Journal        *bool   `yaml:"journal" toml:"journal"`
	DirectoryPerDB *bool   `yaml:"directory_per_db" toml:"directory_per_db"`
	// CacheSize is a WiredTiger cache size such as "1.5GiB" or "2"
	// (gigabytes).
	CacheSize *string `yaml:"cache_size" toml:"cache_size"`
}

type SecurityOverrides struct {
	Authorization      *bool   `yaml:"authorization" toml:"authorization"`
	KeyfilePath        *string `yaml:"keyfile_path" toml:"keyfile_path"`
	KeyfileContent     *string `yaml:"keyfile_content" toml:"keyfile_content"`
	KeyfileSource      *string `yaml:"keyfile_source" toml:"keyfile_source"`
	ForceKeyfileUpdate *bool   `yaml:"force_keyfile_update" toml:"force_keyfile_update"`
}

type SystemLogOverrides struct {
	Destination *string `yaml:"destination" toml:"destination"`
	Path        *string `yaml:"path" toml:"path"`
	LogAppend   *bool   `yaml:"log_append" toml:"log_append"`
}

type ReplicationOverrides struct {
	SetName           *string  `yaml:"set_name" toml:"set_name"`
	OplogSizeMB       *int     `yaml:"oplog_size_mb" toml:"oplog_size_mb"`
	Master            *bool    `yaml:"master" toml:"master"`
	LoginHost         *string  `yaml:"login_host" toml:"login_host"`
	LoginPort         *int     `yaml:"login_port" toml:"login_port"`
	Members           []Member `yaml:"members" toml:"members"`
	Prune             *bool    `yaml:"prune" toml:"prune"`
	PrimaryTimeout    *string  `yaml:"primary_timeout" toml:"primary_timeout"`
	ClientCredentials *string  `yaml:"client_credentials" toml:"client_credentials"`
}

type ProcessManagementOverrides struct {
	Fork        *bool   `yaml:"fork" toml:"fork"`
	PIDFilePath *string `yaml:"pid_file" toml:"pid_file"`
}

type OperationProfilingOverrides struct {
	Mode              *string `yaml:"mode" toml:"mode"`
	SlowOpThresholdMs *int    `yaml:"slow_op_threshold_ms" toml:"slow_op_threshold_ms"`
}

type UserOverride struct {
	Name     string    `yaml:"name" toml:"name"`
	Password string    `yaml:"password" toml:"password"`
	Database string    `yaml:"database" toml:"database"`
	Roles    []RoleRef `yaml:"roles" toml:"roles"`
}

type UsersOverrides struct {
	Admin          *UserOverride  `yaml:"admin" toml:"admin"`
	PasswordUpdate *string        `yaml:"password_update" toml:"password_update"`
	Oplog          []UserOverride `yaml:"oplog" toml:"oplog"`
	Extra          []UserOverride `yaml:"extra" toml:"extra"`
}

// ClientOverrides configure how the role connects to daemons.
type ClientOverrides struct {
	TLS         *bool   `yaml:"tls" toml:"tls"`
	TLSCAFile   *string `yaml:"tls_ca_file" toml:"tls_ca_file"`
	TLSInsecure *bool   `yaml:"tls_insecure" toml:"tls_insecure"`
}

type TuningOverrides struct {
	DisableTHP *bool `yaml:"disable_thp" toml:"disable_thp"`
}

// Load reads overrides from a YAML or TOML file, chosen by extension.
func Load(path string) (*Overrides, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(filepath.Ext(path), data)
}

// Decode parses overrides in the format named by ext (".toml", ".yml",
// ".yaml" or ".json").
func Decode(ext string, data []byte) (*Overrides, error) {
	ov := &Overrides{}
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), ov); err != nil {
			return nil, errors.Wrap(err, "decoding toml run config")
		}
	case ".yml", ".yaml", ".json", "":
		if err := yaml.UnmarshalStrict(data, ov); err != nil {
			return nil, errors.Wrap(err, "decoding yaml run config")
		}
	default:
		return nil, errors.Errorf("unknown run config format %q", ext)
	}
	return ov, nil
}
