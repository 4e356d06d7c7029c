package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kbukum/devflow/runstate"
)

// workspace is a temp dir holding a config file and flow files.
type workspace struct {
	dir    string
	config string
}

func newWorkspace(t *testing.T, storeSection string) *workspace {
	t.Helper()
	dir := t.TempDir()
	if storeSection == "" {
		storeSection = "store:\n  driver: memory\n"
	}
	cfg := fmt.Sprintf(`name: devflow
environment: development
logging:
  level: error
  output: stderr
scheduler:
  work_dir: %s
%s`, dir, storeSection)
	ws := &workspace{dir: dir, config: filepath.Join(dir, "config.yml")}
	ws.write(t, "config.yml", cfg)
	return ws
}

func (ws *workspace) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(ws.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// releaseFlow is build -> test, where test succeeds once the marker file
// exists. build appends a line to count on every execution.
const releaseFlow = `id: release
nodes:
  - id: build
    type: scriptRun
    config:
      command: "echo built >> count"
  - id: test
    type: scriptRun
    depends_on: [build]
    config:
      command: "test -f marker"
`

func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if err != nil {
		return -1
	}
	return 0
}

func decodeReport(t *testing.T, out *bytes.Buffer) *runstate.Report {
	t.Helper()
	var rep runstate.Report
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out.String())
	}
	return &rep
}

func TestParse(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(cfgFile, []byte("name: devflow\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantNil  bool
		check    func(t *testing.T, inv *invocation)
	}{
		{name: "no command", args: nil, wantCode: exitUsage},
		{name: "help", args: []string{"-h"}, wantNil: true},
		{name: "unknown command", args: []string{"deploy"}, wantCode: exitUsage},
		{name: "subcommand help", args: []string{"run", "-h"}, wantNil: true},
		{name: "unknown flag", args: []string{"plan", "-verbose", "f.yaml"}, wantCode: exitUsage},
		{name: "run needs flow file", args: []string{"run"}, wantCode: exitUsage},
		{name: "run takes one flow file", args: []string{"run", "a.yaml", "b.yaml"}, wantCode: exitUsage},
		{name: "serve takes no arguments", args: []string{"serve", "flows"}, wantCode: exitUsage},
		{name: "resume flags exclusive", args: []string{"run", "-resume", "-resume-node", "b", "f.yaml"}, wantCode: exitUsage},
		{name: "missing config file", args: []string{"run", "-config", "/nonexistent/config.yml", "f.yaml"}, wantCode: exitUsage},
		{name: "bad port", args: []string{"serve", "-port", "70000"}, wantCode: exitUsage},
		{
			name: "run flags",
			args: []string{"run", "-config", cfgFile, "-resume-node", "test", "-debug", "release.yaml"},
			check: func(t *testing.T, inv *invocation) {
				if inv.command != "run" || inv.flowFile != "release.yaml" || inv.resumeNode != "test" || !inv.debug || inv.configFile != cfgFile {
					t.Errorf("invocation = %+v", inv)
				}
			},
		},
		{
			name: "serve flags",
			args: []string{"serve", "-flows", "./flows", "-port", "9090"},
			check: func(t *testing.T, inv *invocation) {
				if inv.flowsDir != "./flows" || inv.port != 9090 {
					t.Errorf("invocation = %+v", inv)
				}
			},
		},
		{
			name: "plan json",
			args: []string{"plan", "-json", "release.yaml"},
			check: func(t *testing.T, inv *invocation) {
				if !inv.json || inv.flowFile != "release.yaml" {
					t.Errorf("invocation = %+v", inv)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			inv, err := parse(tt.args, &out)
			if got := exitCode(err); got != tt.wantCode {
				t.Fatalf("exit code = %d (%v), want %d", got, err, tt.wantCode)
			}
			if tt.wantNil && inv != nil {
				t.Errorf("invocation = %+v, want nil", inv)
			}
			if tt.check != nil {
				tt.check(t, inv)
			}
		})
	}
}

func TestHelpPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), nil, &out, []string{"help"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("output = %q", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), nil, &out, []string{"version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(out.String(), "devflow ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestPlanCommand(t *testing.T) {
	ws := newWorkspace(t, "")
	valid := ws.write(t, "release.yaml", releaseFlow)
	invalid := ws.write(t, "broken.yaml", `id: broken
nodes:
  - id: a
    type: teleport
  - id: b
    type: scriptRun
    depends_on: [a]
`)

	t.Run("text", func(t *testing.T) {
		var out bytes.Buffer
		if err := run(context.Background(), nil, &out, []string{"plan", valid}); err != nil {
			t.Fatalf("plan: %v", err)
		}
		for _, want := range []string{"flow release: 2 nodes in 2 batches", "1. build (scriptRun)", "2. test (scriptRun)"} {
			if !strings.Contains(out.String(), want) {
				t.Errorf("output missing %q:\n%s", want, out.String())
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		if err := run(context.Background(), nil, &out, []string{"plan", "-json", valid}); err != nil {
			t.Fatalf("plan: %v", err)
		}
		var got struct {
			FlowID     string `json:"flowId"`
			Validation struct {
				Valid bool `json:"valid"`
			} `json:"validation"`
			Plan struct {
				Batches [][]struct {
					ID string `json:"id"`
				} `json:"batches"`
			} `json:"plan"`
		}
		if err := json.Unmarshal(out.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.FlowID != "release" || !got.Validation.Valid || len(got.Plan.Batches) != 2 {
			t.Errorf("plan = %+v", got)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		var out bytes.Buffer
		err := run(context.Background(), nil, &out, []string{"plan", invalid})
		if exitCode(err) != exitFailure {
			t.Fatalf("err = %v, want exit %d", err, exitFailure)
		}
		if !strings.Contains(out.String(), "[unknown_type] a") {
			t.Errorf("output missing unknown_type issue:\n%s", out.String())
		}
		if !strings.Contains(out.String(), "[missing_config] b") {
			t.Errorf("output missing missing_config issue:\n%s", out.String())
		}
	})

	t.Run("missing file", func(t *testing.T) {
		err := run(context.Background(), nil, &bytes.Buffer{}, []string{"plan", filepath.Join(ws.dir, "nope.yaml")})
		if exitCode(err) != exitFailure {
			t.Errorf("err = %v", err)
		}
	})
}

func TestRunCommandSuccess(t *testing.T) {
	ws := newWorkspace(t, "")
	flow := ws.write(t, "release.yaml", releaseFlow)
	ws.write(t, "marker", "")

	var out bytes.Buffer
	if err := run(context.Background(), nil, &out, []string{"run", "-config", ws.config, flow}); err != nil {
		t.Fatalf("run: %v", err)
	}
	rep := decodeReport(t, &out)
	if rep.Status != runstate.RunSuccess || rep.FlowID != "release" {
		t.Errorf("report status = %s flow = %s", rep.Status, rep.FlowID)
	}
	if rep.Checkpoint != "" {
		t.Errorf("checkpoint = %q, want none", rep.Checkpoint)
	}
}

func TestRunCommandFailureThenResume(t *testing.T) {
	ws := newWorkspace(t, fmt.Sprintf("store:\n  driver: sqlite\n  dsn: %s\n", filepath.Join(t.TempDir(), "devflow.db")))
	flow := ws.write(t, "release.yaml", releaseFlow)

	var out bytes.Buffer
	err := run(context.Background(), nil, &out, []string{"run", "-config", ws.config, flow})
	if exitCode(err) != exitFailure {
		t.Fatalf("first run err = %v, want exit %d", err, exitFailure)
	}
	rep := decodeReport(t, &out)
	if rep.Status != runstate.RunFailed || rep.Checkpoint != "test" {
		t.Fatalf("first run status = %s checkpoint = %q", rep.Status, rep.Checkpoint)
	}

	ws.write(t, "marker", "")
	out.Reset()
	if err := run(context.Background(), nil, &out, []string{"run", "-config", ws.config, "-resume", flow}); err != nil {
		t.Fatalf("resumed run: %v\n%s", err, out.String())
	}
	rep = decodeReport(t, &out)
	if rep.Status != runstate.RunSuccess || rep.ResumeFrom != "test" {
		t.Errorf("resumed status = %s resumeFrom = %q", rep.Status, rep.ResumeFrom)
	}

	count, err := os.ReadFile(filepath.Join(ws.dir, "count"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(count), "built"); n != 1 {
		t.Errorf("build ran %d times, want 1", n)
	}
}

func TestRunCommandResumeWithoutCheckpoint(t *testing.T) {
	ws := newWorkspace(t, "")
	flow := ws.write(t, "release.yaml", releaseFlow)

	err := run(context.Background(), nil, &bytes.Buffer{}, []string{"run", "-config", ws.config, "-resume", flow})
	if exitCode(err) != exitFailure || !strings.Contains(err.Error(), "no checkpoint") {
		t.Errorf("err = %v", err)
	}
}

func TestRunCommandInvalidFlow(t *testing.T) {
	ws := newWorkspace(t, "")
	flow := ws.write(t, "cycle.yaml", `id: cycle
nodes:
  - id: a
    type: scriptRun
    depends_on: [b]
    config: {command: "true"}
  - id: b
    type: scriptRun
    depends_on: [a]
    config: {command: "true"}
`)
	var out bytes.Buffer
	err := run(context.Background(), nil, &out, []string{"run", "-config", ws.config, flow})
	if exitCode(err) != exitFailure {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out.String(), "[cycle]") {
		t.Errorf("output missing cycle issue:\n%s", out.String())
	}
}

func TestRunCommandDebug(t *testing.T) {
	tests := []struct {
		name       string
		stdin      string
		wantStatus runstate.RunStatus
		wantExit   int
	}{
		{"step through", "s\ns test\n", runstate.RunSuccess, 0},
		{"quit abandons", "s\nq\n", runstate.RunIncomplete, exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := newWorkspace(t, "")
			flow := ws.write(t, "release.yaml", releaseFlow)
			ws.write(t, "marker", "")

			var out bytes.Buffer
			err := run(context.Background(), strings.NewReader(tt.stdin), &out,
				[]string{"run", "-config", ws.config, "-debug", flow})
			if got := exitCode(err); got != tt.wantExit {
				t.Fatalf("exit = %d (%v), want %d", got, err, tt.wantExit)
			}
			rep := decodeReport(t, &out)
			if rep.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", rep.Status, tt.wantStatus)
			}
			if !rep.Debug {
				t.Error("report not marked as debug")
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Name != serviceName || cfg.Store.Driver != "memory" || cfg.Server.Port != 8080 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Executor.Shell == "" {
		t.Error("executor shell not defaulted")
	}

	cfg.Store.Driver = "mongo"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "config.store") {
		t.Errorf("Validate(bad store) = %v", err)
	}
}
