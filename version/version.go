package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set with -ldflags.
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// Info describes the running binary.
type Info struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit,omitempty"`
	BuildTime time.Time `json:"buildTime,omitzero"`
	GoVersion string    `json:"goVersion"`
	Platform  string    `json:"platform"`
	Dirty     bool      `json:"dirty"`
}

// Release reports whether this is a tagged, clean build.
func (i Info) Release() bool {
	return i.Version != "dev" && !i.Dirty
}

// Short is the version with the abbreviated commit, e.g. "0.4.0-1a2b3c4".
func (i Info) Short() string {
	if i.Commit == "" {
		return i.Version
	}
	s := i.Version + "-" + i.Commit
	if i.Dirty {
		s += "-dirty"
	}
	return s
}

// String is the line printed by "devflow version".
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "devflow %s", i.Short())
	if !i.BuildTime.IsZero() {
		fmt.Fprintf(&b, " built %s", i.BuildTime.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, " (%s %s)", i.GoVersion, i.Platform)
	return b.String()
}

// Get assembles Info from the linker variables and the embedded build info.
func Get() Info {
	bi, _ := debug.ReadBuildInfo()
	return resolve(bi)
}

func resolve(bi *debug.BuildInfo) Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		info.BuildTime = t
	}
	if bi == nil {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		case "vcs.time":
			if info.BuildTime.IsZero() {
				if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
					info.BuildTime = t
				}
			}
		}
	}
	if len(info.Commit) > 7 {
		info.Commit = info.Commit[:7]
	}
	return info
}
