package host_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/flynn/go-check"
	"github.com/flynn/mongorole/host"
	"github.com/flynn/mongorole/host/hosttest"
)

func Test(t *testing.T) { TestingT(t) }

type HostSuite struct{}

var _ = Suite(&HostSuite{})

var ctx = context.Background()

func newFS(c *C) *host.FS {
	return &host.FS{Root: c.MkDir()}
}

func (HostSuite) TestWriteFile(c *C) {
	fs := newFS(c)
	c.Assert(fs.WriteFile("/etc/mongod.conf", []byte("a: 1\n"), 0644, "mongod"), IsNil)
	data, err := fs.ReadFile("/etc/mongod.conf")
	c.Assert(err, IsNil)
	c.Assert(string(data), Equals, "a: 1\n")

	info, err := fs.Stat("/etc/mongod.conf")
	c.Assert(err, IsNil)
	c.Assert(info.Mode, Equals, os.FileMode(0644))
	c.Assert(info.IsDir, Equals, false)

	c.Assert(fs.WriteFile("/etc/mongod.conf", []byte("a: 2\n"), 0400, ""), IsNil)
	data, _ = fs.ReadFile("/etc/mongod.conf")
	c.Assert(string(data), Equals, "a: 2\n")
	info, _ = fs.Stat("/etc/mongod.conf")
	c.Assert(info.Mode, Equals, os.FileMode(0400))

	// no temp files are left behind
	entries, err := os.ReadDir(fs.Path("/etc"))
	c.Assert(err, IsNil)
	c.Assert(entries, HasLen, 1)

	missing, err := fs.ReadFile("/nope")
	c.Assert(err, IsNil)
	c.Assert(missing, IsNil)
	st, err := fs.Stat("/nope")
	c.Assert(err, IsNil)
	c.Assert(st, IsNil)
}

func (HostSuite) TestEnsureDir(c *C) {
	fs := newFS(c)
	changed, err := fs.EnsureDir("/data/db", 0750, "mongod")
	c.Assert(err, IsNil)
	c.Assert(changed, Equals, true)

	changed, err = fs.EnsureDir("/data/db", 0750, "mongod")
	c.Assert(err, IsNil)
	c.Assert(changed, Equals, false)

	changed, err = fs.EnsureDir("/data/db", 0755, "mongod")
	c.Assert(err, IsNil)
	c.Assert(changed, Equals, true)

	c.Assert(fs.WriteFile("/data/file", nil, 0644, ""), IsNil)
	_, err = fs.EnsureDir("/data/file", 0755, "")
	c.Assert(err, ErrorMatches, ".*not a directory")

	info, _ := fs.Stat("/data/db")
	ok, err := fs.OwnedBy(info, "mongod")
	c.Assert(err, IsNil)
	c.Assert(ok, Equals, true)
}

func (HostSuite) TestTHP(c *C) {
	fs := newFS(c)
	state, err := host.ReadTHP(fs)
	c.Assert(err, IsNil)
	c.Assert(state, IsNil)

	c.Assert(fs.WriteFile(host.THPEnabledPath, []byte("[always] madvise never\n"), 0644, ""), IsNil)
	c.Assert(fs.WriteFile(host.THPDefragPath, []byte("always defer defer+madvise [madvise] never\n"), 0644, ""), IsNil)
	state, err = host.ReadTHP(fs)
	c.Assert(err, IsNil)
	c.Assert(*state, Equals, host.THPState{Enabled: "always", Defrag: "madvise"})
	c.Assert(state.Disabled(), Equals, false)

	c.Assert(host.DisableTHP(fs), IsNil)
	state, err = host.ReadTHP(fs)
	c.Assert(err, IsNil)
	c.Assert(state.Disabled(), Equals, true)
}

func (HostSuite) TestVersions(c *C) {
	c.Assert(host.NormalizeVersion("1:3.6.3-0ubuntu1"), Equals, "3.6.3")
	c.Assert(host.NormalizeVersion("7.0.12\n"), Equals, "7.0.12")

	for _, t := range []struct {
		installed, want string
		match           bool
	}{
		{"7.0.12", "", true},
		{"", "", false},
		{"7.0.12", "7.0", true},
		{"7.0.12", "7", true},
		{"7.01.1", "7.0", false},
		{"7.0.12", "7.0.12", true},
		{"7.0.12", "7.0.1", false},
		{"6.0.3", "7.0", false},
	} {
		c.Assert(host.VersionMatches(t.installed, t.want), Equals, t.match, Commentf("%+v", t))
	}
}

func (HostSuite) TestApt(c *C) {
	r := hosttest.NewRunner()
	apt := &host.Apt{Runner: r}
	r.Responses["dpkg-query -W -f=${Status}|${Version} mongodb-org-server"] = hosttest.Response{Output: "install ok installed|7.0.12-1"}
	r.Responses["dpkg-query -W -f=${Status}|${Version} missing"] = hosttest.Response{Output: "dpkg-query: no packages found matching missing", Exit: 1}
	r.Responses["dpkg-query -W -f=${Status}|${Version} removed"] = hosttest.Response{Output: "deinstall ok config-files|7.0.1"}

	v, err := apt.Installed(ctx, "mongodb-org-server")
	c.Assert(err, IsNil)
	c.Assert(v, Equals, "7.0.12")
	v, err = apt.Installed(ctx, "missing")
	c.Assert(err, IsNil)
	c.Assert(v, Equals, "")
	v, err = apt.Installed(ctx, "removed")
	c.Assert(err, IsNil)
	c.Assert(v, Equals, "")

	c.Assert(apt.Install(ctx, "mongodb-org", "7.0"), IsNil)
	c.Assert(apt.Install(ctx, "mongodb-org", ""), IsNil)
	c.Assert(r.Commands[3:], DeepEquals, []string{
		"apt-get install -y -q --allow-downgrades mongodb-org=7.0.*",
		"apt-get install -y -q --allow-downgrades mongodb-org",
	})
}

func (HostSuite) TestYum(c *C) {
	r := hosttest.NewRunner()
	yum := &host.Yum{Runner: r, Binary: "dnf"}
	r.Responses["rpm -q --qf %{VERSION} mongodb-org-server"] = hosttest.Response{Output: "6.0.5"}
	r.Responses["rpm -q --qf %{VERSION} missing"] = hosttest.Response{Output: "package missing is not installed", Exit: 1}
	r.Responses["dnf install"] = hosttest.Response{Output: "No match for argument", Exit: 1}

	v, err := yum.Installed(ctx, "mongodb-org-server")
	c.Assert(err, IsNil)
	c.Assert(v, Equals, "6.0.5")
	v, err = yum.Installed(ctx, "missing")
	c.Assert(err, IsNil)
	c.Assert(v, Equals, "")

	err = yum.Install(ctx, "mongodb-org", "6.0.5")
	c.Assert(err, ErrorMatches, `error running "dnf install -y -q mongodb-org-6.0.5": exit status 1: "No match for argument"`)
}

func (HostSuite) TestDetect(c *C) {
	r := hosttest.NewRunner()
	fs := newFS(c)
	c.Assert(fs.WriteFile("/etc/os-release", []byte("NAME=\"Ubuntu\"\nID=ubuntu\nID_LIKE=debian\nVERSION_ID=\"22.04\"\n"), 0644, ""), IsNil)
	pm, err := host.DetectPackageManager(fs, r)
	c.Assert(err, IsNil)
	c.Assert(pm.Name(), Equals, "apt")

	c.Assert(fs.WriteFile("/etc/os-release", []byte("ID=\"rocky\"\nID_LIKE=\"rhel centos fedora\"\n"), 0644, ""), IsNil)
	pm, err = host.DetectPackageManager(fs, r)
	c.Assert(err, IsNil)
	c.Assert(pm.Name(), Equals, "yum")
	c.Assert(fs.WriteFile("/usr/bin/dnf", nil, 0755, ""), IsNil)
	pm, err = host.DetectPackageManager(fs, r)
	c.Assert(err, IsNil)
	c.Assert(pm.Name(), Equals, "dnf")

	c.Assert(fs.WriteFile("/etc/os-release", []byte("ID=alpine\n"), 0644, ""), IsNil)
	_, err = host.DetectPackageManager(fs, r)
	c.Assert(err, ErrorMatches, `unsupported distribution "alpine"`)

	id, err := host.Identify(fs)
	c.Assert(err, IsNil)
	c.Assert(id.Distro, Equals, "alpine")
	c.Assert(id.Arch, Not(Equals), "")
}

func (HostSuite) TestSystemd(c *C) {
	r := hosttest.NewRunner()
	sd := &host.Systemd{Runner: r}
	r.Responses["systemctl is-active mongod"] = hosttest.Response{Output: "inactive\n", Exit: 3}
	r.Responses["systemctl is-enabled mongod"] = hosttest.Response{Output: "enabled\n"}

	st, err := sd.Status(ctx, "mongod")
	c.Assert(err, IsNil)
	c.Assert(st, Equals, host.ServiceState{Active: false, Enabled: true})

	c.Assert(sd.Restart(ctx, "mongod"), IsNil)
	c.Assert(r.Commands[len(r.Commands)-1], Equals, "systemctl restart mongod")
}

func (HostSuite) TestExecRunner(c *C) {
	r := &host.ExecRunner{}
	dir := c.MkDir()
	out, err := r.Run(ctx, host.Command{Name: "sh", Args: []string{"-c", "echo $FOO; exit 3"}, Env: []string{"FOO=bar"}})
	c.Assert(string(out), Equals, "bar\n")
	exitOut, ok := host.ExitOutput(err)
	c.Assert(ok, Equals, true)
	c.Assert(string(exitOut), Equals, "bar\n")

	_, err = r.Run(ctx, host.Command{Name: filepath.Join(dir, "missing")})
	c.Assert(err, NotNil)
	_, ok = host.ExitOutput(err)
	c.Assert(ok, Equals, false)
}
