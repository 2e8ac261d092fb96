package config

import (
	"io/ioutil"
	"path/filepath"

	. "github.com/flynn/go-check"
)

type LoadSuite struct{}

var _ = Suite(&LoadSuite{})

const yamlRunConfig = `
version: "4.4"
host: a.db
net:
  bind_ip: [0.0.0.0]
  port: 27018
storage:
  dbpath: /srv/mongo
  cache_size: 1GiB
replication:
  set_name: rs0
  members:
    - {host: a.db, port: 27018, role: primary}
    - {host: b.db, port: 27018, role: arbiter}
set_parameters:
  enableLocalhostAuthBypass: "false"
`

const tomlRunConfig = `
version = "4.4"
host = "a.db"

[net]
bind_ip = ["0.0.0.0"]
port = 27018

[storage]
dbpath = "/srv/mongo"
cache_size = "1GiB"

[replication]
set_name = "rs0"

[[replication.members]]
host = "a.db"
port = 27018
role = "primary"

[[replication.members]]
host = "b.db"
port = 27018
role = "arbiter"

[set_parameters]
enableLocalhostAuthBypass = "false"
`

func (LoadSuite) TestYAMLAndTOMLAgree(c *C) {
	dir := c.MkDir()
	yamlPath := filepath.Join(dir, "run.yml")
	tomlPath := filepath.Join(dir, "run.toml")
	c.Assert(ioutil.WriteFile(yamlPath, []byte(yamlRunConfig), 0644), IsNil)
	c.Assert(ioutil.WriteFile(tomlPath, []byte(tomlRunConfig), 0644), IsNil)

	fromYAML, err := Load(yamlPath)
	c.Assert(err, IsNil)
	fromTOML, err := Load(tomlPath)
	c.Assert(err, IsNil)

	a, err := Resolve(fromYAML, Defaults)
	c.Assert(err, IsNil)
	b, err := Resolve(fromTOML, Defaults)
	c.Assert(err, IsNil)
	c.Assert(a, DeepEquals, b)
	c.Assert(a.Node.Net.Port, Equals, 27018)
	c.Assert(a.Node.Storage.CacheSizeGB, Equals, 1.0)
	c.Assert(a.Node.SetParameter, DeepEquals, map[string]string{"enableLocalhostAuthBypass": "false"})
	c.Assert(a.ReplicaSet.Members[1].Role, Equals, RoleArbiter)
}

func (LoadSuite) TestUnknownField(c *C) {
	_, err := Decode(".yaml", []byte("version: \"4.4\"\nbogus: 1\n"))
	c.Assert(err, NotNil)
}

func (LoadSuite) TestUnknownFormat(c *C) {
	_, err := Decode(".ini", []byte(""))
	c.Assert(err, ErrorMatches, `unknown run config format ".ini"`)
}
