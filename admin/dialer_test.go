package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	. "github.com/flynn/go-check"
	"github.com/flynn/mongorole/config"
	"github.com/flynn/mongorole/pkg/attempt"
)

// DialerSuite runs against a real mongod when MONGOD_BIN names one.
type DialerSuite struct {
	bin   string
	procs []*exec.Cmd
}

var _ = Suite(&DialerSuite{})

func (s *DialerSuite) SetUpSuite(c *C) {
	s.bin = os.Getenv("MONGOD_BIN")
	if s.bin == "" {
		c.Skip("MONGOD_BIN not set")
	}
}

var queryAttempts = attempt.Strategy{
	Min:   5,
	Total: 30 * time.Second,
	Delay: 200 * time.Millisecond,
}

func freePort(c *C) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, IsNil)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func (s *DialerSuite) startMongod(c *C, port int) {
	dir := c.MkDir()
	cmd := exec.Command(s.bin,
		"--dbpath", dir,
		"--port", strconv.Itoa(port),
		"--bind_ip", "127.0.0.1",
		"--replSet", "rs0",
		"--logpath", filepath.Join(dir, "mongod.log"),
	)
	c.Assert(cmd.Start(), IsNil)
	s.procs = append(s.procs, cmd)
}

func (s *DialerSuite) TearDownTest(c *C) {
	for _, cmd := range s.procs {
		cmd.Process.Kill()
		cmd.Wait()
	}
	s.procs = nil
}

func (s *DialerSuite) TestInitiateAndUsers(c *C) {
	port := freePort(c)
	s.startMongod(c, port)

	ctx := context.Background()
	target := Target{Host: "127.0.0.1", Port: port}
	a, err := NewDialer(nil).Connect(ctx, target)
	c.Assert(err, IsNil)
	defer a.Close(ctx)

	c.Assert(queryAttempts.Run(func() error { return a.Ping(ctx) }), IsNil)

	_, err = a.ReplSetGetConfig(ctx)
	c.Assert(IsCode(err, CodeNotYetInitialized), Equals, true, Commentf("%v", err))

	err = a.ReplSetInitiate(ctx, ReplSetConfig{
		ID:      "rs0",
		Version: 1,
		Members: []ReplSetMember{{ID: 0, Host: target.Addr(), Priority: 1}},
	})
	c.Assert(err, IsNil)

	err = queryAttempts.Run(func() error {
		h, err := a.Hello(ctx)
		if err != nil {
			return err
		}
		if !h.IsWritablePrimary {
			return errors.New("not primary")
		}
		return nil
	})
	c.Assert(err, IsNil)

	cfg, err := a.ReplSetGetConfig(ctx)
	c.Assert(err, IsNil)
	c.Assert(cfg.ID, Equals, "rs0")
	c.Assert(cfg.Hosts(), DeepEquals, []string{target.Addr()})

	u := config.User{Name: "admin", Password: "secret", Database: "admin", Roles: []config.RoleRef{{Role: "root", DB: "admin"}}}
	c.Assert(a.CreateUser(ctx, u), IsNil)
	err = a.CreateUser(ctx, u)
	c.Assert(IsCode(err, CodeUserAlreadyExists), Equals, true, Commentf("%v", err))

	users, err := a.UsersInfo(ctx, "admin", "admin")
	c.Assert(err, IsNil)
	c.Assert(users, HasLen, 1)
	c.Assert(SameRoles(users[0].Roles, u.Roles), Equals, true)

	bad, err := NewDialer(nil).Connect(ctx, target.WithCredential(&config.Credential{Username: "admin", Password: "wrong", Source: "admin"}))
	c.Assert(err, IsNil)
	defer bad.Close(ctx)
	err = bad.Ping(ctx)
	c.Assert(IsAuthError(err), Equals, true, Commentf("%v", err))
}

func (s *DialerSuite) TestUnreachable(c *C) {
	ctx := context.Background()
	d := NewDialer(nil)
	d.ConnectTimeout = 500 * time.Millisecond
	a, err := d.Connect(ctx, Target{Host: "127.0.0.1", Port: freePort(c)})
	c.Assert(err, IsNil)
	defer a.Close(ctx)
	err = a.Ping(ctx)
	c.Assert(IsUnreachable(err), Equals, true, Commentf("%s", fmt.Sprint(err)))
}
