// Package mongodconf renders a NodeConfig as a mongod YAML configuration
// file and parses such files back.
//
// Rendering is deterministic: the same NodeConfig always produces the same
// bytes, so comparing rendered output with the file on disk is a valid
// change check.
package mongodconf

import (
	"bytes"
	"strings"

	"github.com/flynn/mongorole/config"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Header is written at the top of every rendered file.
const Header = "# Managed by mongorole. Local changes are overwritten.\n"

type file struct {
	SystemLog          systemLog          `yaml:"systemLog"`
	Storage            storage            `yaml:"storage"`
	ProcessManagement  processManagement  `yaml:"processManagement"`
	Net                network            `yaml:"net"`
	Security           security           `yaml:"security"`
	OperationProfiling operationProfiling `yaml:"operationProfiling"`
	Replication        *replication       `yaml:"replication,omitempty"`
	SetParameter       map[string]string  `yaml:"setParameter,omitempty"`
}

type systemLog struct {
	Destination string `yaml:"destination"`
	Path        string `yaml:"path,omitempty"`
	LogAppend   bool   `yaml:"logAppend"`
}

type storage struct {
	DBPath         string      `yaml:"dbPath"`
	Engine         string      `yaml:"engine"`
	Journal        *journal    `yaml:"journal,omitempty"`
	DirectoryPerDB bool        `yaml:"directoryPerDB,omitempty"`
	WiredTiger     *wiredTiger `yaml:"wiredTiger,omitempty"`
}

type journal struct {
	Enabled bool `yaml:"enabled"`
}

type wiredTiger struct {
	EngineConfig engineConfig `yaml:"engineConfig"`
}

type engineConfig struct {
	CacheSizeGB float64 `yaml:"cacheSizeGB"`
}

type processManagement struct {
	Fork        bool   `yaml:"fork"`
	PIDFilePath string `yaml:"pidFilePath,omitempty"`
}

type network struct {
	Port                   int    `yaml:"port"`
	BindIP                 string `yaml:"bindIp"`
	MaxIncomingConnections int    `yaml:"maxIncomingConnections,omitempty"`
}

type security struct {
	Authorization string `yaml:"authorization"`
	KeyFile       string `yaml:"keyFile,omitempty"`
}

type operationProfiling struct {
	Mode              string `yaml:"mode"`
	SlowOpThresholdMs int    `yaml:"slowOpThresholdMs"`
}

type replication struct {
	ReplSetName string `yaml:"replSetName"`
	OplogSizeMB int    `yaml:"oplogSizeMB,omitempty"`
}

// Render returns the configuration file text for n.
func Render(n *config.NodeConfig) ([]byte, error) {
	f := file{
		SystemLog: systemLog{
			Destination: n.SystemLog.Destination,
			Path:        n.SystemLog.Path,
			LogAppend:   n.SystemLog.LogAppend,
		},
		Storage: storage{
			DBPath:         n.Storage.DBPath,
			Engine:         n.Storage.Engine,
			DirectoryPerDB: n.Storage.DirectoryPerDB,
		},
		ProcessManagement: processManagement{
			Fork:        n.ProcessManagement.Fork,
			PIDFilePath: n.ProcessManagement.PIDFilePath,
		},
		Net: network{
			Port:                   n.Net.Port,
			BindIP:                 strings.Join(n.Net.BindIP, ","),
			MaxIncomingConnections: n.Net.MaxIncomingConnections,
		},
		Security: security{
			Authorization: "disabled",
			KeyFile:       n.Security.KeyFile,
		},
		OperationProfiling: operationProfiling{
			Mode:              n.OperationProfiling.Mode,
			SlowOpThresholdMs: n.OperationProfiling.SlowOpThresholdMs,
		},
		SetParameter: n.SetParameter,
	}
	if n.Storage.Journal != nil {
		f.Storage.Journal = &journal{Enabled: *n.Storage.Journal}
	}
	if n.Storage.CacheSizeGB > 0 {
		f.Storage.WiredTiger = &wiredTiger{EngineConfig: engineConfig{CacheSizeGB: n.Storage.CacheSizeGB}}
	}
	if n.Security.Authorization {
		f.Security.Authorization = "enabled"
	}
	if n.Replication.ReplSetName != "" {
		f.Replication = &replication{
			ReplSetName: n.Replication.ReplSetName,
			OplogSizeMB: n.Replication.OplogSizeMB,
		}
	}

	body, err := yaml.Marshal(&f)
	if err != nil {
		return nil, errors.Wrap(err, "rendering mongod config")
	}
	var buf bytes.Buffer
	buf.WriteString(Header)
	buf.Write(body)
	return buf.Bytes(), nil
}

// Parse reads configuration text produced by Render.
func Parse(data []byte) (*config.NodeConfig, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parsing mongod config")
	}
	n := &config.NodeConfig{
		Net: config.NetConfig{
			Port:                   f.Net.Port,
			MaxIncomingConnections: f.Net.MaxIncomingConnections,
		},
		Storage: config.StorageConfig{
			DBPath:         f.Storage.DBPath,
			Engine:         f.Storage.Engine,
			DirectoryPerDB: f.Storage.DirectoryPerDB,
		},
		Security: config.SecurityConfig{
			KeyFile: f.Security.KeyFile,
		},
		SystemLog: config.SystemLogConfig{
			Destination: f.SystemLog.Destination,
			Path:        f.SystemLog.Path,
			LogAppend:   f.SystemLog.LogAppend,
		},
		ProcessManagement: config.ProcessManagementConfig{
			Fork:        f.ProcessManagement.Fork,
			PIDFilePath: f.ProcessManagement.PIDFilePath,
		},
		OperationProfiling: config.OperationProfilingConfig{
			Mode:              f.OperationProfiling.Mode,
			SlowOpThresholdMs: f.OperationProfiling.SlowOpThresholdMs,
		},
		SetParameter: f.SetParameter,
	}
	for _, ip := range strings.Split(f.Net.BindIP, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			n.Net.BindIP = append(n.Net.BindIP, ip)
		}
	}
	if f.Storage.Journal != nil {
		enabled := f.Storage.Journal.Enabled
		n.Storage.Journal = &enabled
	}
	if f.Storage.WiredTiger != nil {
		n.Storage.CacheSizeGB = f.Storage.WiredTiger.EngineConfig.CacheSizeGB
	}
	switch f.Security.Authorization {
	case "enabled":
		n.Security.Authorization = true
	case "disabled", "":
	default:
		return nil, errors.Errorf("unknown security.authorization value %q", f.Security.Authorization)
	}
	if f.Replication != nil {
		n.Replication = config.ReplicationConfig{
			ReplSetName: f.Replication.ReplSetName,
			OplogSizeMB: f.Replication.OplogSizeMB,
		}
	}
	return n, nil
}

// Diff returns a human readable difference from observed to desired, or
// "" when they are equal.
func Diff(observed, desired *config.NodeConfig) string {
	return cmp.Diff(observed, desired)
}
