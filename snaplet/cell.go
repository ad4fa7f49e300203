package snaplet

import "sync/atomic"

// Cell publishes the live root snapshot. Readers load a pointer and keep
// using that tree for as long as they like; a reload stores a wholly new
// tree without disturbing anyone still holding the old one.
type Cell[B any] struct {
	p atomic.Pointer[Snaplet[B]]
}

// Load returns the current snapshot, or nil before the first successful
// initialization.
func (c *Cell[B]) Load() *Snaplet[B] {
	return c.p.Load()
}

func (c *Cell[B]) store(s *Snaplet[B]) {
	c.p.Store(s)
}
