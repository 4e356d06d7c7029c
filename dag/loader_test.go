package dag

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const yamlFlow = `
id: release
name: Release
nodes:
  - id: lint
    type: scriptRun
    config:
      command: make lint
  - id: build
    label: Build image
    type: dockerBuild
    depends_on: [lint]
    config:
      context: .
      tag: app:latest
      retryPolicy:
        strategy: auto
        maxAttempts: 2
  - id: deploy
    type: kubectlApply
edges:
  - source: build
    target: deploy
`

const hclFlowSrc = `
id   = "release"
name = "Release"

node "lint" {
  type   = "scriptRun"
  config = { command = "make lint" }
}

node "build" {
  label      = "Build image"
  type       = "dockerBuild"
  depends_on = ["lint"]
  config = {
    context = "."
    tag     = "app:latest"
    retryPolicy = {
      strategy    = "auto"
      maxAttempts = 2
    }
  }
}

node "deploy" {
  type = "kubectlApply"
}

edge {
  source = "build"
  target = "deploy"
}
`

func checkReleaseFlow(t *testing.T, f *Flow) {
	t.Helper()
	if f.ID != "release" || f.Name != "Release" || len(f.Nodes) != 3 {
		t.Fatalf("unexpected flow %+v", f)
	}

	g, err := f.Graph()
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	waves, err := g.Waves()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(waves, [][]string{{"lint"}, {"build"}, {"deploy"}}) {
		t.Errorf("waves = %v", waves)
	}

	build, _ := g.Node("build")
	if build.Label != "Build image" || build.Config["tag"] != "app:latest" {
		t.Errorf("unexpected build node %+v", build)
	}
	policy, ok := build.Config["retryPolicy"].(map[string]any)
	if !ok || policy["maxAttempts"] != 2 {
		t.Errorf("retryPolicy = %#v", build.Config["retryPolicy"])
	}
	if deploy, _ := g.Node("deploy"); deploy.Config != nil {
		t.Errorf("deploy config should be nil, got %v", deploy.Config)
	}
}

func TestLoadYAML(t *testing.T) {
	f, err := LoadYAML([]byte(yamlFlow))
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	checkReleaseFlow(t, f)
}

func TestLoadHCL(t *testing.T) {
	f, err := LoadHCL("release.hcl", []byte(hclFlowSrc))
	if err != nil {
		t.Fatalf("LoadHCL: %v", err)
	}
	checkReleaseFlow(t, f)
}

func TestLoadHCLErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":       `node "a" {`,
		"missing type": `node "a" {}`,
		"config list":  "node \"a\" {\n  type = \"x\"\n  config = [1]\n}\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadHCL("bad.hcl", []byte(src)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFileAndDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("a.yaml", yamlFlow)
	write("b.hcl", "node \"only\" {\n  type = \"notification\"\n}\n")
	write("notes.txt", "ignored")

	f, err := LoadFile(filepath.Join(dir, "b.hcl"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if f.ID != "b" {
		t.Errorf("expected id from file name, got %q", f.ID)
	}

	flows, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(flows) != 2 || flows[0].ID != "release" || flows[1].ID != "b" {
		t.Errorf("unexpected flows %+v", flows)
	}

	if _, err := LoadFile(filepath.Join(dir, "notes.txt")); err == nil {
		t.Error("expected unsupported extension error")
	}
}
