package registry

import (
	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

// arena stores values in reusable slots. Each slot carries a generation that
// is bumped when the slot is freed, so a handle to a freed value never
// resolves to a later value stored in the same slot.
type arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

type slot[T any] struct {
	gen  uint32
	used bool
	val  T
}

func makeHandle(index, gen uint32) types.Handle {
	return types.Handle(uint64(gen)<<32 | uint64(index))
}

func splitHandle(h types.Handle) (index, gen uint32) {
	return uint32(h), uint32(h >> 32)
}

func (a *arena[T]) insert(val T) types.Handle {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{gen: 1})
	}
	s := &a.slots[index]
	s.used = true
	s.val = val
	a.live++
	return makeHandle(index, s.gen)
}

func (a *arena[T]) get(h types.Handle) (T, bool) {
	index, gen := splitHandle(h)
	if int(index) >= len(a.slots) {
		var zero T
		return zero, false
	}
	s := &a.slots[index]
	if !s.used || s.gen != gen {
		var zero T
		return zero, false
	}
	return s.val, true
}

func (a *arena[T]) remove(h types.Handle) (T, bool) {
	val, ok := a.get(h)
	if !ok {
		return val, false
	}
	index, _ := splitHandle(h)
	s := &a.slots[index]
	var zero T
	s.val = zero
	s.used = false
	s.gen++
	if s.gen == 0 {
		// Generation 0 would make the zero Handle valid.
		s.gen = 1
	}
	a.free = append(a.free, index)
	a.live--
	return val, true
}

// each calls fn for every live value.
func (a *arena[T]) each(fn func(types.Handle, T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.used {
			fn(makeHandle(uint32(i), s.gen), s.val)
		}
	}
}
