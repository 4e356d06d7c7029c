// Package executor defines how node commands reach a shell.
//
// An Executor runs one command and returns a structured Result. The
// Router picks an implementation per node from its execution profile:
//
//   - native: executor/local runs $SHELL -c on this host
//   - docker: executor/docker runs sh -c in a throwaway container
//   - ssh: executor/ssh runs the command on a remote host
package executor
