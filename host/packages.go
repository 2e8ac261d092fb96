package host

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/pkg/errors"
)

// PackageManager installs and inspects system packages.
type PackageManager interface {
	// Installed returns the installed upstream version of name, or "" when
	// it is not installed.
	Installed(ctx context.Context, name string) (string, error)
	// Install installs name at version, which may be empty, a release
	// series ("7.0") or an exact version ("7.0.12").
	Install(ctx context.Context, name, version string) error
	Name() string
}

// Apt manages packages on Debian derived systems.
type Apt struct {
	Runner Runner
}

func (a *Apt) Name() string { return "apt" }

func (a *Apt) Installed(ctx context.Context, name string) (string, error) {
	out, err := a.Runner.Run(ctx, Command{Name: "dpkg-query", Args: []string{"-W", "-f=${Status}|${Version}", name}})
	if err != nil {
		if _, ok := ExitOutput(err); ok {
			// dpkg-query exits 1 for unknown packages
			return "", nil
		}
		return "", err
	}
	parts := strings.SplitN(strings.TrimSpace(string(out)), "|", 2)
	if len(parts) != 2 || !strings.HasSuffix(parts[0], " installed") {
		return "", nil
	}
	return NormalizeVersion(parts[1]), nil
}

func (a *Apt) Install(ctx context.Context, name, version string) error {
	spec := name
	if version != "" {
		spec = name + "=" + versionGlob(version)
	}
	_, err := a.Runner.Run(ctx, Command{
		Name: "apt-get",
		Args: []string{"install", "-y", "-q", "--allow-downgrades", spec},
		Env:  []string{"DEBIAN_FRONTEND=noninteractive"},
	})
	return err
}

// Yum manages packages on Red Hat derived systems with yum or dnf.
type Yum struct {
	Runner Runner
	// Binary is "yum" or "dnf".
	Binary string
}

func (y *Yum) Name() string { return y.Binary }

func (y *Yum) Installed(ctx context.Context, name string) (string, error) {
	out, err := y.Runner.Run(ctx, Command{Name: "rpm", Args: []string{"-q", "--qf", "%{VERSION}", name}})
	if err != nil {
		if _, ok := ExitOutput(err); ok {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (y *Yum) Install(ctx context.Context, name, version string) error {
	spec := name
	if version != "" {
		spec = name + "-" + versionGlob(version)
	}
	_, err := y.Runner.Run(ctx, Command{Name: y.Binary, Args: []string{"install", "-y", "-q", spec}})
	return err
}

func versionGlob(version string) string {
	if isSeries(version) {
		return version + ".*"
	}
	return version
}

func isSeries(version string) bool {
	return strings.Count(version, ".") < 2
}

// NormalizeVersion strips a Debian epoch and revision, so "1:3.6.3-0ubuntu1"
// becomes "3.6.3".
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.Index(v, ":"); i >= 0 {
		v = v[i+1:]
	}
	if i := strings.Index(v, "-"); i >= 0 {
		v = v[:i]
	}
	return v
}

// VersionMatches reports whether installed satisfies want. An empty want
// accepts any installed version and a series matches every patch release.
func VersionMatches(installed, want string) bool {
	if installed == "" {
		return false
	}
	if want == "" {
		return true
	}
	if isSeries(want) {
		return installed == want || strings.HasPrefix(installed, want+".")
	}
	return installed == want
}

// OSRelease is the parsed content of /etc/os-release.
type OSRelease map[string]string

// ParseOSRelease parses the KEY=value lines of an os-release file.
func ParseOSRelease(data []byte) OSRelease {
	rel := make(OSRelease)
	s := bufio.NewScanner(bytes.NewReader(data))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		rel[kv[0]] = strings.Trim(kv[1], `"'`)
	}
	return rel
}

// Family returns "debian", "rhel" or "" for the distribution.
func (r OSRelease) Family() string {
	ids := append([]string{r["ID"]}, strings.Fields(r["ID_LIKE"])...)
	for _, id := range ids {
		switch id {
		case "debian", "ubuntu":
			return "debian"
		case "rhel", "centos", "fedora", "rocky", "almalinux", "amzn", "ol":
			return "rhel"
		}
	}
	return ""
}

// DetectPackageManager picks the package manager for the distribution
// described by /etc/os-release.
func DetectPackageManager(fs *FS, r Runner) (PackageManager, error) {
	data, err := fs.ReadFile("/etc/os-release")
	if err != nil {
		return nil, err
	}
	rel := ParseOSRelease(data)
	switch rel.Family() {
	case "debian":
		return &Apt{Runner: r}, nil
	case "rhel":
		bin := "yum"
		if info, _ := fs.Stat("/usr/bin/dnf"); info != nil {
			bin = "dnf"
		}
		return &Yum{Runner: r, Binary: bin}, nil
	}
	return nil, errors.Errorf("unsupported distribution %q", rel["ID"])
}
