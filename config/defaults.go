package config

import (
	"sort"
	"strings"
	"time"
)

const (
	DefaultPort           = 27017
	DefaultBindIP         = "127.0.0.1"
	DefaultDBPath         = "/data/db"
	DefaultLogPath        = "/var/log/mongodb/mongod.log"
	DefaultPIDFile        = "/var/run/mongodb/mongod.pid"
	DefaultConfigPath     = "/etc/mongod.conf"
	DefaultKeyfilePath    = "/etc/mongodb-keyfile"
	DefaultDaemonUser     = "mongod"
	DefaultServiceName    = "mongod"
	DefaultPackageSource  = "official"
	DefaultMaxConns       = 65536
	DefaultProfilingMode  = "off"
	DefaultSlowOpMs       = 100
	DefaultAdminUser      = "siteRootAdmin"
	DefaultPrimaryTimeout = time.Minute
	DefaultReadyTimeout   = time.Minute

	EngineWiredTiger = "wiredTiger"
	EngineMMAPv1     = "mmapv1"
)

// VersionDefaults holds the defaults and capabilities of one MongoDB
// release series.
type VersionDefaults struct {
	// Engines lists the supported storage engines, default first.
	Engines []string
	// JournalToggle reports whether storage.journal.enabled is accepted.
	JournalToggle bool
	PackageName   string
}

// DefaultEngine returns the engine used when none is configured.
func (v VersionDefaults) DefaultEngine() string { return v.Engines[0] }

func (v VersionDefaults) supportsEngine(e string) bool {
	for _, s := range v.Engines {
		if s == e {
			return true
		}
	}
	return false
}

// DefaultTable maps a release series ("4.4") to its defaults.
type DefaultTable map[string]VersionDefaults

// Lookup returns the defaults for version, which may be a series or an
// exact version.
func (t DefaultTable) Lookup(version string) (VersionDefaults, bool) {
	d, ok := t[Series(version)]
	return d, ok
}

// Versions returns the known series in sorted order.
func (t DefaultTable) Versions() []string {
	vs := make([]string, 0, len(t))
	for v := range t {
		vs = append(vs, v)
	}
	sort.Strings(vs)
	return vs
}

// Series returns the major.minor prefix of a version string.
func Series(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return version
	}
	return parts[0] + "." + parts[1]
}

var legacyEngines = []string{EngineWiredTiger, EngineMMAPv1}
var modernEngines = []string{EngineWiredTiger}

// Defaults is the built-in table of supported release series.
var Defaults = DefaultTable{
	"3.6": {Engines: legacyEngines, JournalToggle: true, PackageName: "mongodb-org"},
	"4.0": {Engines: legacyEngines, JournalToggle: true, PackageName: "mongodb-org"},
	"4.2": {Engines: modernEngines, JournalToggle: true, PackageName: "mongodb-org"},
	"4.4": {Engines: modernEngines, JournalToggle: true, PackageName: "mongodb-org"},
	"5.0": {Engines: modernEngines, JournalToggle: true, PackageName: "mongodb-org"},
	"6.0": {Engines: modernEngines, JournalToggle: true, PackageName: "mongodb-org"},
	"7.0": {Engines: modernEngines, JournalToggle: false, PackageName: "mongodb-org"},
	"8.0": {Engines: modernEngines, JournalToggle: false, PackageName: "mongodb-org"},
}
