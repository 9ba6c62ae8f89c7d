// Package latticeflow implements a concurrent, deterministic fixed-point
// computation engine over user-defined lattices.
//
// # Architecture
//
// Producers create [Cell] values — monotonically growing containers of a
// value drawn from a lattice — and wire dependencies between them with
// whenNext/whenComplete callbacks. A [Pool] schedules callback execution on
// a bounded worker group, detects quiescence (no tasks in flight), and
// resolves any cells left non-final — including cyclic dependency
// components, discovered via closed strongly connected component analysis —
// by invoking the resolution policy attached to each cell's [Key].
//
// The engine itself never blocks a worker waiting on another worker, never
// holds a lock across user code, and never decides anything about the
// lattice beyond what the user's [Updater] tells it: every state transition
// is a lock-free compare-and-swap, and the final value assigned to each cell
// is independent of scheduling order, provided updates respect monotonicity.
//
// # Scope
//
// Out of scope: concrete lattice/updater implementations, concrete [Key]
// resolution policies, and anything built on top of the engine. The engine
// consumes these only through the interfaces in this package.
package latticeflow
