package workerpool

import "context"

// Sandbox is one isolated worker slot: it executes a run_query/get_schema
// task for up to MaxTasksPerSlot invocations before the pool tears it down
// and rebuilds it, bounding per-process memory growth the way the original
// implementation's Celery maxtasksperchild worker recycling did.
type Sandbox interface {
	// Ensure brings the sandbox up if it is not already running.
	Ensure(ctx context.Context) error
	// Execute runs fn inside the sandbox boundary.
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
	// TasksServed reports how many tasks this sandbox has executed.
	TasksServed() int
	// Stop tears the sandbox down.
	Stop(ctx context.Context) error
}

// LocalSandbox runs tasks directly in the calling process, relying on the
// per-task context timeout for cancellation. The SQLiteEngine it wraps is
// pure Go, memory-safe, and cancellable, satisfying §9's condition for
// forgoing OS-level isolation; it is the pool's only worker kind. An
// earlier revision of this package also offered a Docker-backed sandbox,
// but it started a container and then ran fn on the host process anyway --
// no dispatch mechanism shipped an arbitrary Go closure into the
// container, so the isolation it advertised was never real. Removed rather
// than kept as a decorative option.
type LocalSandbox struct {
	tasks int
}

func NewLocalSandbox() *LocalSandbox { return &LocalSandbox{} }

func (s *LocalSandbox) Ensure(ctx context.Context) error { return nil }

func (s *LocalSandbox) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	s.tasks++
	return err
}

func (s *LocalSandbox) TasksServed() int { return s.tasks }

func (s *LocalSandbox) Stop(ctx context.Context) error { return nil }
