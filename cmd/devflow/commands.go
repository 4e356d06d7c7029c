package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kbukum/devflow/bootstrap"
	"github.com/kbukum/devflow/capability"
	"github.com/kbukum/devflow/dag"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/executor"
	"github.com/kbukum/devflow/logger"
	"github.com/kbukum/devflow/runstate"
	"github.com/kbukum/devflow/scheduler"
	"github.com/kbukum/devflow/session"
	"github.com/kbukum/devflow/version"
)

// debugPoll is how often a scripted step waits for a node to pause.
const debugPoll = 20 * time.Millisecond

// run parses args and executes the command.
func run(ctx context.Context, in io.Reader, out io.Writer, args []string) error {
	inv, err := parse(args, out)
	if err != nil || inv == nil {
		return err
	}

	switch inv.command {
	case "version":
		fmt.Fprintln(out, version.Get().String())
		return nil
	case "plan":
		return planCommand(inv, out)
	}

	cfg, err := loadConfig(inv.configFile, inv.envFile)
	if err != nil {
		return &ExitError{Code: exitFailure, Message: err.Error()}
	}

	switch inv.command {
	case "serve":
		return serveCommand(ctx, inv, cfg)
	default:
		return runCommand(ctx, inv, cfg, in, out)
	}
}

func serveCommand(ctx context.Context, inv *invocation, cfg *Config) error {
	cfg.Server.Enabled = true
	if inv.port != 0 {
		cfg.Server.Port = inv.port
	}
	if inv.flowsDir != "" {
		cfg.FlowsDir = inv.flowsDir
	}

	app, err := bootstrap.NewApp(cfg, bootstrap.WithSummaryOutput(os.Stderr))
	if err != nil {
		return err
	}
	st, err := wire(app, wireOptions{http: true})
	if err != nil {
		return err
	}
	app.OnConfigure(registerFlows(st))
	return app.Run(ctx)
}

// registerFlows loads flows_dir into the session manager once the store
// is up.
func registerFlows(st *stack) func(context.Context, *bootstrap.App[*Config]) error {
	return func(_ context.Context, a *bootstrap.App[*Config]) error {
		if a.Cfg.FlowsDir == "" {
			return nil
		}
		if _, err := st.sessions.LoadDir(a.Cfg.FlowsDir); err != nil {
			return err
		}
		for _, f := range st.sessions.Flows() {
			a.Summary.TrackFlow(f.ID, len(f.Nodes))
		}
		return nil
	}
}

// runCommand runs one flow file to completion. The report is printed as
// JSON on out; anything but a successful run exits non-zero.
func runCommand(ctx context.Context, inv *invocation, cfg *Config, in io.Reader, out io.Writer) error {
	flow, err := dag.LoadFile(inv.flowFile)
	if err != nil {
		return &ExitError{Code: exitFailure, Message: err.Error()}
	}

	// Keep stdout for the report.
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	app, err := bootstrap.NewApp(cfg, bootstrap.WithSummaryOutput(io.Discard))
	if err != nil {
		return err
	}
	st, err := wire(app, wireOptions{})
	if err != nil {
		return err
	}

	var report *scheduler.Report
	err = app.RunTask(ctx, func(ctx context.Context) error {
		if rep, err := st.sessions.RegisterFlow(flow); err != nil {
			if rep != nil {
				writeValidation(out, rep)
			}
			return err
		}

		runID, err := st.sessions.StartRun(ctx, session.StartRequest{
			FlowID:       flow.ID,
			Resume:       inv.resume,
			ResumeNodeID: inv.resumeNode,
			Debug:        inv.debug,
		})
		if err != nil {
			return err
		}
		if inv.debug {
			go driveDebugger(ctx, st.sessions, runID, in, out, app.Logger)
		}

		report, err = waitRun(ctx, st.sessions, runID)
		return err
	})

	if report != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil && err == nil {
			err = encErr
		}
	}
	if err != nil {
		return &ExitError{Code: exitFailure, Message: err.Error()}
	}
	if report.Status != runstate.RunSuccess {
		return &ExitError{Code: exitFailure, Message: fmt.Sprintf("run %s %s", report.RunID, report.Status)}
	}
	return nil
}

// waitRun waits for the run. When ctx ends first the run is cancelled
// and its final report is still collected.
func waitRun(ctx context.Context, sessions *session.Manager, runID string) (*scheduler.Report, error) {
	rep, err := sessions.Wait(ctx, runID)
	if err == nil {
		return rep, nil
	}
	if ctx.Err() == nil {
		return nil, err
	}
	if cancelErr := sessions.CancelRun(runID); cancelErr != nil && !errors.HasCode(cancelErr, errors.ErrCodeNotFound) {
		return nil, cancelErr
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), bootstrap.DefaultGracefulTimeout)
	defer cancel()
	return sessions.Wait(waitCtx, runID)
}

// driveDebugger reads debug commands from in until the run ends:
//
//	s          step every paused node
//	s <node>   step one node
//	q          stop debugging, abandoning the paused nodes
//
// Both wait until a node is paused, so a script can be piped in ahead of
// the run.
func driveDebugger(ctx context.Context, sessions *session.Manager, runID string, in io.Reader, out io.Writer, log *logger.Logger) {
	log = log.WithComponent("debugger")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "s", "step":
			var nodeID string
			if len(fields) > 1 {
				nodeID = fields[1]
			}
			if !awaitPause(ctx, sessions, runID, nodeID) {
				return
			}
			stepped, err := sessions.Step(runID, nodeID)
			if err != nil {
				log.Warn("step failed", logger.ErrorFields("step", err))
				continue
			}
			log.Info("stepped", map[string]interface{}{"nodes": stepped})
		case "q", "quit":
			if !awaitPause(ctx, sessions, runID, "") {
				return
			}
			if err := sessions.StopDebug(runID); err != nil {
				log.Warn("stop failed", logger.ErrorFields("stop_debug", err))
			}
			return
		default:
			fmt.Fprintf(out, "unknown debug command %q (want s [node] or q)\n", fields[0])
		}
	}
}

// awaitPause polls until nodeID, or any node when empty, is paused. It
// returns false once the run is over.
func awaitPause(ctx context.Context, sessions *session.Manager, runID, nodeID string) bool {
	ticker := time.NewTicker(debugPoll)
	defer ticker.Stop()
	for {
		status, err := sessions.Status(ctx, runID)
		if err != nil || !status.Active {
			return false
		}
		for _, id := range status.Paused {
			if nodeID == "" || id == nodeID {
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// planCommand validates a flow against the builtin node types and prints
// the batches a run would launch. An invalid flow exits non-zero.
func planCommand(inv *invocation, out io.Writer) error {
	flow, err := dag.LoadFile(inv.flowFile)
	if err != nil {
		return &ExitError{Code: exitFailure, Message: err.Error()}
	}
	g, err := flow.Graph()
	if err != nil {
		return &ExitError{Code: exitFailure, Message: err.Error()}
	}
	caps := capability.Builtins(executor.NewRouter(nil))
	rep := g.Validate(caps)
	plan := g.Plan()

	if inv.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			FlowID     string                `json:"flowId"`
			Validation *dag.ValidationReport `json:"validation"`
			Plan       *dag.Plan             `json:"plan"`
		}{flow.ID, rep, plan}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "flow %s: %d nodes in %d batches\n", flow.ID, g.Len(), len(plan.Batches))
		writeValidation(out, rep)
		for i, batch := range plan.Batches {
			names := make([]string, len(batch))
			for j, step := range batch {
				names[j] = fmt.Sprintf("%s (%s)", step.ID, step.Type)
			}
			fmt.Fprintf(out, "  %d. %s\n", i+1, strings.Join(names, ", "))
		}
		if len(plan.Unscheduled) > 0 {
			fmt.Fprintf(out, "  unscheduled: %s\n", strings.Join(plan.Unscheduled, ", "))
		}
	}

	if !rep.Valid {
		return &ExitError{Code: exitFailure, Message: fmt.Sprintf("flow %s is invalid", flow.ID)}
	}
	return nil
}

func writeValidation(out io.Writer, rep *dag.ValidationReport) {
	for _, issue := range rep.Errors {
		fmt.Fprintf(out, "  error   %s\n", formatIssue(issue))
	}
	for _, issue := range rep.Warnings {
		fmt.Fprintf(out, "  warning %s\n", formatIssue(issue))
	}
}

func formatIssue(i dag.Issue) string {
	if i.NodeID != "" {
		return fmt.Sprintf("[%s] %s: %s", i.Code, i.NodeID, i.Message)
	}
	return fmt.Sprintf("[%s] %s", i.Code, i.Message)
}
