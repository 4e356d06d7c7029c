package version

import (
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func withLinkVars(t *testing.T, v, commit, built string) {
	t.Helper()
	ov, oc, ob := Version, Commit, BuildTime
	Version, Commit, BuildTime = v, commit, built
	t.Cleanup(func() { Version, Commit, BuildTime = ov, oc, ob })
}

func TestResolve(t *testing.T) {
	stamped := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.modified", Value: "true"},
			{Key: "vcs.time", Value: "2026-03-01T12:00:00Z"},
		},
	}

	tests := []struct {
		name                string
		version, commit, bt string
		bi                  *debug.BuildInfo
		wantVersion         string
		wantCommit          string
		wantDirty           bool
		wantBuild           time.Time
	}{
		{
			name:        "no build info",
			version:     "dev",
			bi:          nil,
			wantVersion: "dev",
		},
		{
			name:        "vcs stamp fills gaps",
			version:     "dev",
			bi:          stamped,
			wantVersion: "v0.3.1",
			wantCommit:  "0123456",
			wantDirty:   true,
			wantBuild:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:        "linker values win",
			version:     "1.2.0",
			commit:      "feedbee",
			bt:          "2026-05-05T08:00:00Z",
			bi:          stamped,
			wantVersion: "1.2.0",
			wantCommit:  "feedbee",
			wantDirty:   true,
			wantBuild:   time.Date(2026, 5, 5, 8, 0, 0, 0, time.UTC),
		},
		{
			name:        "devel main version ignored",
			version:     "dev",
			bi:          &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}},
			wantVersion: "dev",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withLinkVars(t, tt.version, tt.commit, tt.bt)
			info := resolve(tt.bi)
			if info.Version != tt.wantVersion {
				t.Errorf("Version = %q, want %q", info.Version, tt.wantVersion)
			}
			if info.Commit != tt.wantCommit {
				t.Errorf("Commit = %q, want %q", info.Commit, tt.wantCommit)
			}
			if info.Dirty != tt.wantDirty {
				t.Errorf("Dirty = %v, want %v", info.Dirty, tt.wantDirty)
			}
			if !info.BuildTime.Equal(tt.wantBuild) {
				t.Errorf("BuildTime = %v, want %v", info.BuildTime, tt.wantBuild)
			}
			if info.GoVersion == "" || info.Platform == "" {
				t.Errorf("runtime fields not set: %+v", info)
			}
		})
	}
}

func TestInfoStrings(t *testing.T) {
	tests := []struct {
		name    string
		info    Info
		short   string
		release bool
	}{
		{"dev", Info{Version: "dev"}, "dev", false},
		{"clean release", Info{Version: "1.0.0", Commit: "abc1234"}, "1.0.0-abc1234", true},
		{"dirty", Info{Version: "1.0.0", Commit: "abc1234", Dirty: true}, "1.0.0-abc1234-dirty", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.Short(); got != tt.short {
				t.Errorf("Short() = %q, want %q", got, tt.short)
			}
			if got := tt.info.Release(); got != tt.release {
				t.Errorf("Release() = %v, want %v", got, tt.release)
			}
			if s := tt.info.String(); !strings.HasPrefix(s, "devflow "+tt.short) {
				t.Errorf("String() = %q", s)
			}
		})
	}
}
