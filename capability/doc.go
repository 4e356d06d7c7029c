// Package capability maps node types to the code that executes them.
//
// Shell-backed types build a command string from the node config and hand
// it to an executor.Executor; a non-zero exit fails the attempt. Handler
// types run in-process. Builtins registers every type a flow may use out
// of the box, and a Registry doubles as the dag.Catalog used to validate
// flows before they run.
package capability
