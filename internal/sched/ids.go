package sched

import "strconv"

// idAllocator hands out formatted counter ids ("t-1", "t-2", ...). A fresh id
// is re-rolled while it collides with a caller-supplied id that is still
// pending; since the counter only grows, collisions are transient.
//
// The allocator is only ever used from the shard goroutine.
type idAllocator struct {
	prefix string
	n      uint64
}

func (a *idAllocator) next(taken func(TaskID) bool) TaskID {
	for {
		a.n++
		id := TaskID(a.prefix + "-" + strconv.FormatUint(a.n, 10))
		if !taken(id) {
			return id
		}
	}
}
