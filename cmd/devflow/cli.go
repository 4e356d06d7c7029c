package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Exit codes.
const (
	exitFailure = 1
	exitUsage   = 2
)

// ExitError ends the process with Code. An empty Message prints nothing.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: exitUsage, Message: fmt.Sprintf(format, args...)}
}

// invocation is a parsed command line.
type invocation struct {
	command string

	configFile string
	envFile    string

	// run and plan
	flowFile string

	// run
	resume     bool
	resumeNode string
	debug      bool

	// plan
	json bool

	// serve
	flowsDir string
	port     int
}

const usage = `
devflow - run DAG workflows of shell, docker and ssh steps.

Usage:
  devflow serve [options]                 start the HTTP API
  devflow run [options] <flow-file>       run a flow once and print its report
  devflow plan [options] <flow-file>      validate a flow and print its batches
  devflow version                         print build information

Run "devflow <command> -h" for command options.
`

// parse reads args. A nil invocation with a nil error means help was
// printed and the process should exit cleanly.
func parse(args []string, out io.Writer) (*invocation, error) {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return nil, usageError("no command given")
	}

	inv := &invocation{command: args[0]}
	fs := flag.NewFlagSet("devflow "+inv.command, flag.ContinueOnError)
	fs.SetOutput(out)

	var positional string
	switch inv.command {
	case "-h", "-help", "--help", "help":
		fmt.Fprint(out, usage)
		return nil, nil
	case "version":
		return inv, nil
	case "serve":
		positional = ""
		fs.StringVar(&inv.flowsDir, "flows", "", "directory of flow files to register at startup (overrides flows_dir)")
		fs.IntVar(&inv.port, "port", 0, "HTTP port (overrides server.port)")
	case "run":
		positional = "<flow-file>"
		fs.BoolVar(&inv.resume, "resume", false, "resume from the flow's checkpoint")
		fs.StringVar(&inv.resumeNode, "resume-node", "", "resume from this node")
		fs.BoolVar(&inv.debug, "debug", false, "pause before every node; read s[tep] [node] and q[uit] from stdin")
	case "plan":
		positional = "<flow-file>"
		fs.BoolVar(&inv.json, "json", false, "print the validation report and plan as JSON")
	default:
		fmt.Fprint(out, usage)
		return nil, usageError("unknown command %q", inv.command)
	}
	fs.StringVar(&inv.configFile, "config", "", "config file (default: config.yml lookup)")
	fs.StringVar(&inv.envFile, "env-file", "", ".env file to load")
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage:\n  devflow %s [options] %s\n\nOptions:\n", inv.command, positional)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, nil
		}
		return nil, usageError("%v", err)
	}

	switch {
	case positional == "" && fs.NArg() > 0:
		return nil, usageError("%s takes no arguments, got %q", inv.command, fs.Arg(0))
	case positional != "" && fs.NArg() != 1:
		fs.Usage()
		return nil, usageError("%s needs exactly one %s", inv.command, positional)
	case positional != "":
		inv.flowFile = fs.Arg(0)
	}

	if inv.resume && inv.resumeNode != "" {
		return nil, usageError("-resume and -resume-node are mutually exclusive")
	}
	if inv.port < 0 || inv.port > 65535 {
		return nil, usageError("-port must be between 0 and 65535")
	}
	if inv.configFile != "" {
		if _, err := os.Stat(inv.configFile); err != nil {
			return nil, usageError("config file: %v", err)
		}
	}
	return inv, nil
}
