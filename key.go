package latticeflow

// CellValue pairs a cell with a finalization value, the shape returned by a
// [Key]'s Resolve and Fallback policies.
type CellValue[V comparable] struct {
	Cell  *Cell[V]
	Value V
}

// Key is the per-cell cycle-resolution and fallback policy. The engine
// invokes Resolve on a closed strongly connected component of non-final
// cells (using the key belonging to the component's head cell), and
// Fallback on any non-final cells that survive cycle resolution.
//
// Both methods must return values consistent with monotonicity relative to
// each cell's current value; the engine applies them via resolveWithValue,
// which finalizes the cell.
type Key[V comparable] interface {
	// Resolve is invoked once per closed SCC containing this key's cell. It
	// must return a finalization value for every cell in cells.
	Resolve(cells []*Cell[V]) ([]CellValue[V], error)
	// Fallback is invoked on the cells remaining non-final after cycle
	// resolution. It must return a finalization value for every cell in
	// cells.
	Fallback(cells []*Cell[V]) ([]CellValue[V], error)
}
