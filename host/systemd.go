package host

import (
	"context"
	"strings"
)

// ServiceState is the observed state of a system service.
type ServiceState struct {
	Active  bool
	Enabled bool
}

// ServiceManager controls system services.
type ServiceManager interface {
	Status(ctx context.Context, name string) (ServiceState, error)
	Enable(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
}

// Systemd controls services with systemctl.
type Systemd struct {
	Runner Runner
}

func (s *Systemd) query(ctx context.Context, verb, name string) (string, error) {
	out, err := s.Runner.Run(ctx, Command{Name: "systemctl", Args: []string{verb, name}})
	if err != nil {
		// is-active and is-enabled exit non-zero for negative answers
		exitOut, ok := ExitOutput(err)
		if !ok {
			return "", err
		}
		out = exitOut
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *Systemd) Status(ctx context.Context, name string) (ServiceState, error) {
	var state ServiceState
	active, err := s.query(ctx, "is-active", name)
	if err != nil {
		return state, err
	}
	enabled, err := s.query(ctx, "is-enabled", name)
	if err != nil {
		return state, err
	}
	state.Active = active == "active"
	state.Enabled = enabled == "enabled" || enabled == "enabled-runtime" || enabled == "static"
	return state, nil
}

func (s *Systemd) run(ctx context.Context, verb, name string) error {
	_, err := s.Runner.Run(ctx, Command{Name: "systemctl", Args: []string{verb, name}})
	return err
}

func (s *Systemd) Enable(ctx context.Context, name string) error  { return s.run(ctx, "enable", name) }
func (s *Systemd) Start(ctx context.Context, name string) error   { return s.run(ctx, "start", name) }
func (s *Systemd) Restart(ctx context.Context, name string) error { return s.run(ctx, "restart", name) }
