package host

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Transparent huge page controls.
const (
	THPEnabledPath = "/sys/kernel/mm/transparent_hugepage/enabled"
	THPDefragPath  = "/sys/kernel/mm/transparent_hugepage/defrag"
)

// THPState is the selected value of each huge page control.
type THPState struct {
	Enabled string `json:"enabled"`
	Defrag  string `json:"defrag"`
}

// Disabled reports whether both controls are set to "never".
func (s THPState) Disabled() bool {
	return s.Enabled == "never" && s.Defrag == "never"
}

// ReadTHP returns nil, nil when the kernel does not expose the controls.
func ReadTHP(fs *FS) (*THPState, error) {
	enabled, err := fs.ReadFile(THPEnabledPath)
	if err != nil || enabled == nil {
		return nil, err
	}
	defrag, err := fs.ReadFile(THPDefragPath)
	if err != nil || defrag == nil {
		return nil, err
	}
	return &THPState{Enabled: selected(string(enabled)), Defrag: selected(string(defrag))}, nil
}

// selected extracts the bracketed choice from "always madvise [never]".
func selected(s string) string {
	s = strings.TrimSpace(s)
	start, end := strings.Index(s, "["), strings.Index(s, "]")
	if start < 0 || end < start {
		return s
	}
	return s[start+1 : end]
}

// DisableTHP writes "never" to both controls. Kernel control files are
// written in place.
func DisableTHP(fs *FS) error {
	for _, p := range []string{THPEnabledPath, THPDefragPath} {
		if err := writeInPlace(fs.Path(p), "never"); err != nil {
			return errors.Wrapf(err, "writing %s", p)
		}
	}
	return nil
}

func writeInPlace(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
