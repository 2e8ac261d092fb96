package mongodconf

import (
	"strings"
	"testing"

	. "github.com/flynn/go-check"
	"github.com/flynn/mongorole/config"
)

func Test(t *testing.T) { TestingT(t) }

type RenderSuite struct{}

var _ = Suite(&RenderSuite{})

func boolPtr(b bool) *bool { return &b }

func fullConfig() *config.NodeConfig {
	return &config.NodeConfig{
		Net: config.NetConfig{BindIP: []string{"127.0.0.1", "10.0.0.5"}, Port: 27018, MaxIncomingConnections: 65536},
		Storage: config.StorageConfig{
			DBPath:         "/data/db",
			Engine:         "wiredTiger",
			Journal:        boolPtr(true),
			DirectoryPerDB: true,
			CacheSizeGB:    1.5,
		},
		Security:           config.SecurityConfig{Authorization: true, KeyFile: "/etc/mongodb-keyfile"},
		SystemLog:          config.SystemLogConfig{Destination: "file", Path: "/var/log/mongodb/mongod.log", LogAppend: true},
		Replication:        config.ReplicationConfig{ReplSetName: "rs0", OplogSizeMB: 1024},
		ProcessManagement:  config.ProcessManagementConfig{PIDFilePath: "/var/run/mongodb/mongod.pid"},
		OperationProfiling: config.OperationProfilingConfig{Mode: "slowOp", SlowOpThresholdMs: 200},
		SetParameter:       map[string]string{"b": "2", "a": "1", "enableLocalhostAuthBypass": "false"},
	}
}

func minimalConfig() *config.NodeConfig {
	return &config.NodeConfig{
		Net:                config.NetConfig{BindIP: []string{"127.0.0.1"}, Port: 27017},
		Storage:            config.StorageConfig{DBPath: "/data/db", Engine: "wiredTiger"},
		SystemLog:          config.SystemLogConfig{Destination: "syslog"},
		OperationProfiling: config.OperationProfilingConfig{Mode: "off", SlowOpThresholdMs: 100},
	}
}

func (RenderSuite) TestRoundTrip(c *C) {
	for _, n := range []*config.NodeConfig{fullConfig(), minimalConfig()} {
		out, err := Render(n)
		c.Assert(err, IsNil)
		parsed, err := Parse(out)
		c.Assert(err, IsNil)
		c.Assert(parsed, DeepEquals, n, Commentf("%s", Diff(parsed, n)))
		c.Assert(Diff(parsed, n), Equals, "")
	}
}

func (RenderSuite) TestDeterministic(c *C) {
	first, err := Render(fullConfig())
	c.Assert(err, IsNil)
	for i := 0; i < 20; i++ {
		out, err := Render(fullConfig())
		c.Assert(err, IsNil)
		c.Assert(string(out), Equals, string(first))
	}
}

func (RenderSuite) TestLayout(c *C) {
	out, err := Render(fullConfig())
	c.Assert(err, IsNil)
	text := string(out)
	c.Assert(strings.HasPrefix(text, Header), Equals, true)
	for _, want := range []string{
		"  bindIp: 127.0.0.1,10.0.0.5\n",
		"  authorization: enabled\n",
		"  keyFile: /etc/mongodb-keyfile\n",
		"  replSetName: rs0\n",
		"      cacheSizeGB: 1.5\n",
	} {
		c.Assert(strings.Contains(text, want), Equals, true, Commentf("missing %q in\n%s", want, text))
	}
	c.Assert(strings.Index(text, "  a: \"1\"") < strings.Index(text, "  b: \"2\""), Equals, true)

	out, err = Render(minimalConfig())
	c.Assert(err, IsNil)
	text = string(out)
	c.Assert(strings.Contains(text, "replication:"), Equals, false)
	c.Assert(strings.Contains(text, "authorization: disabled"), Equals, true)
	c.Assert(strings.Contains(text, "journal:"), Equals, false)
}

func (RenderSuite) TestDiff(c *C) {
	a, b := fullConfig(), fullConfig()
	b.Net.Port = 27019
	c.Assert(Diff(a, b), Not(Equals), "")
	c.Assert(strings.Contains(Diff(a, b), "27019"), Equals, true)
}

func (RenderSuite) TestParseRejectsUnknownAuthorization(c *C) {
	_, err := Parse([]byte("security:\n  authorization: maybe\n"))
	c.Assert(err, ErrorMatches, `unknown security.authorization value "maybe"`)
}
