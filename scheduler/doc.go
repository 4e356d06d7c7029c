// Package scheduler executes a flow graph in topological waves.
//
// Nodes whose dependencies are satisfied run concurrently; a wave settles
// before the next one starts. A failed node skips its idle descendants and
// becomes the flow's checkpoint, from which a later run can resume.
//
// Each execution is a Run that owns its state, event bus, debug controller
// and manual-retry gate:
//
//	run, err := s.Prepare(ctx, scheduler.Request{Flow: flow})
//	if err != nil {
//		return err
//	}
//	run.Bus().Subscribe(event.NewLogSubscriber(log))
//	report, err := run.Execute(ctx)
package scheduler
