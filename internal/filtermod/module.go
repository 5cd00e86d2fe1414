package filtermod

import (
	"context"

	"github.com/decency/contentfilter/internal/session"
)

// Module is the contract every pipeline filter module must satisfy,
// narrowed to the single verb the pipeline always invokes: Handle.
// Everything else a module might additionally do (training, pre/post
// hooks, size/time guards) is expressed as an optional capability
// interface the engine type-asserts for, rather than as methods every
// module must implement with no-op bodies.
type Module interface {
	// Name identifies the module in logs, stats, and config.
	Name() string

	// Handle scans/rewrites the session and returns a classification
	// outcome. ctx carries the per-module timeout; Handle must honor
	// cancellation promptly for anything that blocks (external command,
	// network I/O).
	Handle(ctx context.Context, sess *session.Session) Outcome
}

// SizeGuarded is implemented by modules that decline to run above a
// configured message size. The pipeline queries this before Handle.
type SizeGuarded interface {
	MaxSizeBytes() int64
}

// Timed is implemented by modules that want a per-module deadline enforced
// by the pipeline. A module without this capability runs with no deadline.
type Timed interface {
	Timeout() (seconds int, enabled bool)
}

// Trainable is implemented by modules that participate in the offline
// training driver. TrainSpam/TrainHam invoke the module's learning command
// variant; UntrainSpam/UntrainHam reverse a prior classification.
type Trainable interface {
	TrainSpam(ctx context.Context, sess *session.Session) error
	TrainHam(ctx context.Context, sess *session.Session) error
	UntrainSpam(ctx context.Context, sess *session.Session) error
	UntrainHam(ctx context.Context, sess *session.Session) error
	// DisableTrain reports whether this module has opted out of training
	// even though it implements Trainable (config-level switch).
	DisableTrain() bool
}

// PreFinishHook is implemented by modules that want to inspect/adjust the
// pipeline's terminal status after every module has run but before
// disposition is computed.
type PreFinishHook interface {
	HookPreFinish(ctx context.Context, sess *session.Session, status string) string
}

// PostFinishHook is implemented by modules that want to observe the final
// disposition, e.g. to update external state.
type PostFinishHook interface {
	HookPostFinish(ctx context.Context, sess *session.Session, status string, dispositionCode string)
}

// Disableable is implemented by modules whose config carries a `disable`
// switch; the pipeline skips Handle entirely for a disabled module.
type Disableable interface {
	Disabled() bool
}
