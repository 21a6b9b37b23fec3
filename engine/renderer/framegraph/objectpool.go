package framegraph

import "reflect"

type scratchKey struct {
	typ reflect.Type
	n   int
}

type scratchEntry struct {
	key   scratchKey
	slice interface{}
}

// ObjectPool hands out the per-frame objects the graph needs (pass records,
// typed pass data and scratch slices for execute callbacks) and recycles
// them across frames.
type ObjectPool struct {
	passes   []*pass
	passData map[reflect.Type][]interface{}

	scratch      map[scratchKey][]interface{}
	scratchInUse []scratchEntry

	allocations int
}

func newObjectPool() *ObjectPool {
	return &ObjectPool{
		passData: make(map[reflect.Type][]interface{}),
		scratch:  make(map[scratchKey][]interface{}),
	}
}

func (op *ObjectPool) passSlot(index int) *pass {
	for len(op.passes) <= index {
		op.passes = append(op.passes, &pass{})
		op.allocations++
	}
	return op.passes[index]
}

func getPassData[T any](op *ObjectPool) *T {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	free := op.passData[typ]
	if n := len(free); n > 0 {
		data := free[n-1].(*T)
		free[n-1] = nil
		op.passData[typ] = free[:n-1]
		var zero T
		*data = zero
		return data
	}
	op.allocations++
	return new(T)
}

func (op *ObjectPool) releasePassData(data interface{}) {
	if data == nil {
		return
	}
	typ := reflect.TypeOf(data).Elem()
	op.passData[typ] = append(op.passData[typ], data)
}

// TempSlice returns a zeroed slice of n elements that stays valid until the
// running pass returns.
func TempSlice[T any](op *ObjectPool, n int) []T {
	key := scratchKey{typ: reflect.TypeOf((*T)(nil)).Elem(), n: n}
	var s []T
	free := op.scratch[key]
	if l := len(free); l > 0 {
		s = free[l-1].([]T)
		free[l-1] = nil
		op.scratch[key] = free[:l-1]
		clear(s)
	} else {
		s = make([]T, n)
		op.allocations++
	}
	op.scratchInUse = append(op.scratchInUse, scratchEntry{key: key, slice: s})
	return s
}

func (op *ObjectPool) releaseScratch() {
	for i, e := range op.scratchInUse {
		op.scratch[e.key] = append(op.scratch[e.key], e.slice)
		op.scratchInUse[i] = scratchEntry{}
	}
	op.scratchInUse = op.scratchInUse[:0]
}

// Allocations is the number of objects the pool had to allocate so far.
func (op *ObjectPool) Allocations() int {
	return op.allocations
}
