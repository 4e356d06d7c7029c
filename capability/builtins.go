package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/kbukum/devflow/executor"
	"github.com/kbukum/devflow/runstate"
)

// Builtin node types.
const (
	TypeGitPull       = "gitPull"
	TypeDockerBuild   = "dockerBuild"
	TypeDockerRun     = "dockerRun"
	TypeDockerCompose = "dockerCompose"
	TypeScriptRun     = "scriptRun"
	TypeNpmRun        = "npmRun"
	TypePipInstall    = "pipInstall"
	TypeMakeTarget    = "makeTarget"
	TypeKubectlApply  = "kubectlApply"
	TypeTestRunner    = "testRunner"
	TypeNotification  = "notification"
	TypeDelay         = "delayNode"
)

// Builtins returns a registry with every builtin node type, running shell
// commands on exec.
func Builtins(exec executor.Executor) *Registry {
	r := NewRegistry()
	RegisterBuiltins(r, exec)
	return r
}

// RegisterBuiltins adds the builtin node types to r.
func RegisterBuiltins(r *Registry, exec executor.Executor) {
	shell := func(b BuilderFunc) Capability {
		return &CommandCapability{Builder: b, Executor: exec}
	}

	r.Register(TypeGitPull, shell(gitPull))
	r.Register(TypeDockerBuild, shell(dockerBuild), "context", "tag")
	r.Register(TypeDockerRun, shell(dockerRun), "image")
	r.Register(TypeDockerCompose, shell(dockerCompose))
	r.Register(TypeScriptRun, shell(scriptRun), "command")
	r.Register(TypeNpmRun, shell(npmRun))
	r.Register(TypePipInstall, shell(pipInstall))
	r.Register(TypeMakeTarget, shell(makeTarget))
	r.Register(TypeKubectlApply, shell(kubectlApply))
	r.Register(TypeTestRunner, shell(testRunner))
	r.Register(TypeNotification, Notification(nil))
	r.Register(TypeDelay, HandlerFunc(delay))
}

func gitPull(c map[string]any, inv Invocation) (string, error) {
	dir := str(c, "directory", inv.WorkDir)
	if dir == "" {
		dir = "."
	}
	return fmt.Sprintf(`git -C "%s" pull %s %s`, dir, str(c, "remote", "origin"), str(c, "branch", "main")), nil
}

func dockerBuild(c map[string]any, _ Invocation) (string, error) {
	return fmt.Sprintf("docker build -t %s %s", str(c, "tag", "myapp:latest"), str(c, "context", ".")), nil
}

func dockerRun(c map[string]any, _ Invocation) (string, error) {
	var detach, remove string
	if flag(c, "detach") {
		detach = "-d"
	}
	if flag(c, "remove") {
		remove = "--rm"
	}
	return squash(fmt.Sprintf("docker run %s %s -p %s %s",
		detach, remove, str(c, "ports", "3000:3000"), str(c, "image", "myapp:latest"))), nil
}

func dockerCompose(c map[string]any, _ Invocation) (string, error) {
	cmd := fmt.Sprintf(`docker compose -f "%s" %s`, str(c, "file", "docker-compose.yml"), str(c, "action", "up"))
	if flag(c, "detach") {
		cmd += " -d"
	}
	return cmd, nil
}

func scriptRun(c map[string]any, _ Invocation) (string, error) {
	return cast.ToString(c["command"]), nil
}

func npmRun(c map[string]any, _ Invocation) (string, error) {
	cmd := "npm run " + str(c, "script", "build")
	if dir := str(c, "packageDir", ""); dir != "" {
		cmd += fmt.Sprintf(` --prefix "%s"`, dir)
	}
	return cmd, nil
}

func pipInstall(c map[string]any, _ Invocation) (string, error) {
	req := str(c, "requirements", "requirements.txt")
	if flag(c, "venv") {
		venv := str(c, "venvDir", ".venv")
		return fmt.Sprintf(`python -m venv "%s" && "%s/bin/pip" install -r "%s"`, venv, venv, req), nil
	}
	return fmt.Sprintf(`pip install -r "%s"`, req), nil
}

func makeTarget(c map[string]any, _ Invocation) (string, error) {
	return fmt.Sprintf("make -j%d %s", integer(c, "jobs", 4), str(c, "target", "build")), nil
}

func kubectlApply(c map[string]any, _ Invocation) (string, error) {
	cmd := fmt.Sprintf(`kubectl apply -f "%s" -n "%s"`, str(c, "manifest", "k8s/"), str(c, "namespace", "default"))
	if flag(c, "dryRun") {
		cmd += " --dry-run=client"
	}
	return cmd, nil
}

func testRunner(c map[string]any, _ Invocation) (string, error) {
	pattern := str(c, "pattern", "")
	coverage := flag(c, "coverage")

	switch framework := str(c, "framework", "jest"); framework {
	case "pytest":
		cmd := "pytest " + pattern
		if coverage {
			cmd += " --cov"
		}
		return squash(cmd), nil
	case "go test":
		return "go test ./...", nil
	case "cargo test":
		return "cargo test", nil
	case "vitest":
		return "npx vitest run", nil
	default:
		cmd := "npx " + framework + " " + pattern
		if coverage {
			cmd += " --coverage"
		}
		return squash(cmd), nil
	}
}

func delay(ctx context.Context, c map[string]any, _ Invocation) AttemptResult {
	secs := cast.ToFloat64(c["seconds"])
	if secs <= 0 {
		secs = 5
	}
	timer := time.NewTimer(time.Duration(secs * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return Succeeded(runstate.Metrics{})
	case <-ctx.Done():
		return Failed("delay interrupted: %v", ctx.Err())
	}
}
