// Package version reports the build version of swarm.
package version

import (
	_ "embed"
	"runtime"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// override is set at link time with -ldflags "-X .../version.override=v1.2.3".
var override string

// Get returns the current version, with whitespace trimmed.
func Get() string {
	if override != "" {
		return override
	}
	return strings.TrimSpace(versionContent)
}

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	GoVersion string `json:"goVersion"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
}

// Build returns the version together with VCS details embedded by the Go
// toolchain, when available.
func Build() Info {
	info := Info{Version: Get(), GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Revision = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// String renders the info on one line.
func (i Info) String() string {
	var b strings.Builder
	b.WriteString("swarm ")
	b.WriteString(i.Version)
	if i.Revision != "" {
		rev := i.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		b.WriteString(" (" + rev)
		if i.Modified {
			b.WriteString(", dirty")
		}
		b.WriteString(")")
	}
	b.WriteString(" " + i.GoVersion)
	return b.String()
}
