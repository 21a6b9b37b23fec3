package framegraph

type pooledObject[T any] struct {
	object   T
	lastUsed uint64
}

// resourcePool keeps released physical objects bucketed by descriptor hash so
// the next frame asking for an identical descriptor gets the same object back.
type resourcePool[T any] struct {
	buckets map[uint64][]pooledObject[T]
	destroy func(T)
	size    int
}

func newResourcePool[T any](destroy func(T)) *resourcePool[T] {
	return &resourcePool[T]{
		buckets: make(map[uint64][]pooledObject[T]),
		destroy: destroy,
	}
}

func (p *resourcePool[T]) tryGet(hash uint64) (T, bool) {
	var zero T
	bucket := p.buckets[hash]
	if len(bucket) == 0 {
		return zero, false
	}
	last := len(bucket) - 1
	obj := bucket[last].object
	bucket[last] = pooledObject[T]{}
	p.buckets[hash] = bucket[:last]
	p.size--
	return obj, true
}

func (p *resourcePool[T]) release(hash uint64, obj T, frame uint64) {
	p.buckets[hash] = append(p.buckets[hash], pooledObject[T]{object: obj, lastUsed: frame})
	p.size++
}

// purgeUnused destroys every object that has not been used for more than
// maxIdle frames and returns how many were destroyed.
func (p *resourcePool[T]) purgeUnused(frame, maxIdle uint64) int {
	purged := 0
	for hash, bucket := range p.buckets {
		kept := bucket[:0]
		for _, o := range bucket {
			if frame-o.lastUsed > maxIdle {
				p.destroy(o.object)
				purged++
				continue
			}
			kept = append(kept, o)
		}
		for i := len(kept); i < len(bucket); i++ {
			bucket[i] = pooledObject[T]{}
		}
		if len(kept) == 0 {
			delete(p.buckets, hash)
		} else {
			p.buckets[hash] = kept
		}
	}
	p.size -= purged
	return purged
}

func (p *resourcePool[T]) cleanup() int {
	destroyed := 0
	for hash, bucket := range p.buckets {
		for _, o := range bucket {
			p.destroy(o.object)
			destroyed++
		}
		delete(p.buckets, hash)
	}
	p.size = 0
	return destroyed
}
