// Package hosttest provides in-memory package and service managers and a
// scripted command runner.
package hosttest

import (
	"context"
	"strings"
	"sync"

	"github.com/flynn/mongorole/host"
)

// Packages is a fake host.PackageManager.
type Packages struct {
	mtx sync.Mutex
	// Versions maps package name to installed version.
	Versions map[string]string
	// Available is the version installed for a series request.
	Available map[string]string
	// InstallErr fails every install when set.
	InstallErr error
	Installs   []string
}

func NewPackages() *Packages {
	return &Packages{Versions: make(map[string]string), Available: make(map[string]string)}
}

func (p *Packages) Name() string { return "fake" }

func (p *Packages) Installed(ctx context.Context, name string) (string, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.Versions[name], nil
}

func (p *Packages) Install(ctx context.Context, name, version string) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.Installs = append(p.Installs, name+"="+version)
	if p.InstallErr != nil {
		return p.InstallErr
	}
	installed := version
	if v, ok := p.Available[version]; ok {
		installed = v
	}
	if installed == "" {
		installed = "0.0.0"
	}
	p.Versions[name] = installed
	return nil
}

// Services is a fake host.ServiceManager. OnRestart, when set, is called
// for every start and restart so tests can apply rendered configuration to
// a fake daemon.
type Services struct {
	mtx      sync.Mutex
	States   map[string]host.ServiceState
	Restarts int
	Starts   int
	StartErr error

	OnRestart func(name string)
}

func NewServices() *Services {
	return &Services{States: make(map[string]host.ServiceState)}
}

func (s *Services) Status(ctx context.Context, name string) (host.ServiceState, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.States[name], nil
}

func (s *Services) Enable(ctx context.Context, name string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	st := s.States[name]
	st.Enabled = true
	s.States[name] = st
	return nil
}

func (s *Services) Start(ctx context.Context, name string) error {
	s.mtx.Lock()
	if s.StartErr != nil {
		s.mtx.Unlock()
		return s.StartErr
	}
	st := s.States[name]
	st.Active = true
	s.States[name] = st
	s.Starts++
	s.mtx.Unlock()
	s.notify(name)
	return nil
}

func (s *Services) Restart(ctx context.Context, name string) error {
	s.mtx.Lock()
	if s.StartErr != nil {
		s.mtx.Unlock()
		return s.StartErr
	}
	st := s.States[name]
	st.Active = true
	s.States[name] = st
	s.Restarts++
	s.mtx.Unlock()
	s.notify(name)
	return nil
}

func (s *Services) notify(name string) {
	if s.OnRestart != nil {
		s.OnRestart(name)
	}
}

// Response is a scripted result for a command prefix.
type Response struct {
	Output string
	// Exit, when non-zero, makes the command fail with a host.ExitError.
	Exit int
}

// Runner records commands and answers them from Responses, keyed by the
// longest matching command line prefix.
type Runner struct {
	mtx       sync.Mutex
	Responses map[string]Response
	Commands  []string
}

func NewRunner() *Runner {
	return &Runner{Responses: make(map[string]Response)}
}

func (r *Runner) Run(ctx context.Context, cmd host.Command) ([]byte, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	line := cmd.String()
	r.Commands = append(r.Commands, line)
	var best string
	for prefix := range r.Responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	res, ok := r.Responses[best]
	if !ok {
		return nil, nil
	}
	if res.Exit != 0 {
		return []byte(res.Output), &host.ExitError{Command: line, Code: res.Exit, Output: []byte(res.Output)}
	}
	return []byte(res.Output), nil
}
