package framegraph

import (
	"fmt"

	"github.com/spaghettifunk/anima-rdg/engine/containers"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
)

type passCompileInfo struct {
	name               string
	refCount           int
	culled             bool
	hasSideEffect      bool
	allowPassCulling   bool
	enableAsyncCompute bool

	// pass this one waits on before executing, -1 for none
	syncToPassIndex int
	// first pass waiting on this one, -1 for none
	syncFromPassIndex int
	needGraphicsFence bool
	fence             renderer.Fence

	resourceCreateList  [resourceKindCount][]int
	resourceReleaseList [resourceKindCount][]int
}

func (info *passCompileInfo) reset(p *pass) {
	info.name = p.name
	info.refCount = 0
	info.culled = false
	info.hasSideEffect = false
	info.allowPassCulling = p.enablePassCulling
	info.enableAsyncCompute = p.enableAsyncCompute
	info.syncToPassIndex = -1
	info.syncFromPassIndex = -1
	info.needGraphicsFence = false
	info.fence = nil
	for k := range info.resourceCreateList {
		info.resourceCreateList[k] = info.resourceCreateList[k][:0]
		info.resourceReleaseList[k] = info.resourceReleaseList[k][:0]
	}
}

type resourceCompileInfo struct {
	refCount int
	// pass indices in declaration order
	producers []int
	consumers []int
	imported  bool
}

func (info *resourceCompileInfo) reset(imported bool) {
	info.refCount = 0
	info.producers = info.producers[:0]
	info.consumers = info.consumers[:0]
	info.imported = imported
}

type resourceRef struct {
	kind  ResourceKind
	index int
}

type compiledGraph struct {
	passes    []passCompileInfo
	resources [resourceKindCount][]resourceCompileInfo
	stack     *containers.Stack[resourceRef]
}

func (g *RenderGraph) compile() error {
	g.initializeCompileData()
	g.countPassReferences()
	g.cullUnusedPasses()
	return g.updateResourceAllocationAndSynchronization()
}

func (g *RenderGraph) initializeCompileData() {
	c := &g.compiled
	if c.stack == nil {
		c.stack = containers.NewStack[resourceRef](32)
	}

	if cap(c.passes) < g.passCount {
		grown := make([]passCompileInfo, g.passCount)
		copy(grown, c.passes[:cap(c.passes)])
		c.passes = grown
	}
	c.passes = c.passes[:g.passCount]
	for i := range c.passes {
		c.passes[i].reset(g.objects.passes[i])
	}

	for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
		n := g.registry.count(kind)
		if cap(c.resources[kind]) < n {
			grown := make([]resourceCompileInfo, n)
			copy(grown, c.resources[kind][:cap(c.resources[kind])])
			c.resources[kind] = grown
		}
		c.resources[kind] = c.resources[kind][:n]
		for i := range c.resources[kind] {
			c.resources[kind][i].reset(g.registry.at(kind, i).imported)
		}
	}
}

func (g *RenderGraph) countPassReferences() {
	c := &g.compiled
	for i := 0; i < g.passCount; i++ {
		p := g.objects.passes[i]
		info := &c.passes[i]

		for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
			resources := c.resources[kind]
			for _, h := range p.reads[kind] {
				r := &resources[h.index]
				r.consumers = append(r.consumers, i)
				r.refCount++
			}
			for _, h := range p.writes[kind] {
				r := &resources[h.index]
				r.producers = append(r.producers, i)
				// writes to the pass's own temporary resources keep nothing alive
				if g.registry.at(kind, h.index).temporalPassIndex != i {
					info.refCount++
				}
				// writing something the caller owns is observable outside the frame
				info.hasSideEffect = info.hasSideEffect || r.imported
			}
			for _, h := range p.temporal[kind] {
				r := &resources[h.index]
				r.producers = append(r.producers, i)
				r.consumers = append(r.consumers, i)
				r.refCount++
			}
		}
	}
}

func (info *passCompileInfo) cullable() bool {
	return info.refCount == 0 && !info.hasSideEffect && info.allowPassCulling
}

func (g *RenderGraph) cullUnusedPasses() {
	if g.config.DisablePassCulling {
		return
	}
	c := &g.compiled
	stack := c.stack
	stack.Clear()

	for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
		for i := range c.resources[kind] {
			if c.resources[kind][i].refCount == 0 {
				stack.Push(resourceRef{kind: kind, index: i})
			}
		}
	}

	// passes that produce nothing
	for i := range c.passes {
		if c.passes[i].cullable() {
			g.cullPass(i)
		}
	}

	for {
		ref, ok := stack.Pop()
		if !ok {
			break
		}
		unused := &c.resources[ref.kind][ref.index]
		for _, producer := range unused.producers {
			info := &c.passes[producer]
			if info.culled {
				continue
			}
			info.refCount--
			if info.cullable() {
				g.cullPass(producer)
			}
		}
	}
}

// cullPass marks a pass culled and drops the references it held on the
// resources it reads. Resources nobody reads anymore are queued.
func (g *RenderGraph) cullPass(index int) {
	c := &g.compiled
	c.passes[index].culled = true
	p := g.objects.passes[index]
	for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
		for _, h := range p.reads[kind] {
			r := &c.resources[kind][h.index]
			r.refCount--
			if r.refCount == 0 {
				c.stack.Push(resourceRef{kind: kind, index: h.index})
			}
		}
	}
}

func (g *RenderGraph) latestProducerIndex(passIndex int, info *resourceCompileInfo) int {
	result := -1
	for _, producer := range info.producers {
		if producer >= passIndex {
			break
		}
		if !g.compiled.passes[producer].culled {
			result = producer
		}
	}
	return result
}

func (g *RenderGraph) updatePassSynchronization(current, producer, lastProducer int, lastSyncIndex *int) {
	c := &g.compiled
	c.passes[current].syncToPassIndex = lastProducer
	*lastSyncIndex = lastProducer
	c.passes[producer].needGraphicsFence = true
	if c.passes[producer].syncFromPassIndex == -1 {
		c.passes[producer].syncFromPassIndex = current
	}
}

func (g *RenderGraph) updateResourceSynchronization(lastGraphicsPipeSync, lastComputePipeSync *int, current int, info *resourceCompileInfo) {
	lastProducer := g.latestProducerIndex(current, info)
	if lastProducer == -1 {
		return
	}
	c := &g.compiled
	currentInfo := &c.passes[current]
	if c.passes[lastProducer].enableAsyncCompute == currentInfo.enableAsyncCompute {
		return
	}
	if currentInfo.enableAsyncCompute {
		// compute waits on graphics
		if lastProducer > *lastGraphicsPipeSync {
			g.updatePassSynchronization(current, lastProducer, lastProducer, lastGraphicsPipeSync)
		}
	} else {
		// graphics waits on compute
		if lastProducer > *lastComputePipeSync {
			g.updatePassSynchronization(current, lastProducer, lastProducer, lastComputePipeSync)
		}
	}
}

func (g *RenderGraph) firstValidWriteIndex(info *resourceCompileInfo) int {
	for _, producer := range info.producers {
		if !g.compiled.passes[producer].culled {
			return producer
		}
	}
	return -1
}

func (g *RenderGraph) latestValidIndex(indices []int) int {
	for i := len(indices) - 1; i >= 0; i-- {
		if !g.compiled.passes[indices[i]].culled {
			return indices[i]
		}
	}
	return -1
}

func (g *RenderGraph) updateResourceAllocationAndSynchronization() error {
	c := &g.compiled
	lastGraphicsPipeSync := -1
	lastComputePipeSync := -1

	for i := range c.passes {
		if c.passes[i].culled {
			continue
		}
		p := g.objects.passes[i]
		for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
			for _, h := range p.reads[kind] {
				g.updateResourceSynchronization(&lastGraphicsPipeSync, &lastComputePipeSync, i, &c.resources[kind][h.index])
			}
			for _, h := range p.writes[kind] {
				g.updateResourceSynchronization(&lastGraphicsPipeSync, &lastComputePipeSync, i, &c.resources[kind][h.index])
			}
		}
	}

	for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
		for index := range c.resources[kind] {
			info := &c.resources[kind][index]
			if info.imported {
				continue
			}
			r := g.registry.at(kind, index)

			firstWrite := g.firstValidWriteIndex(info)
			lastRead := g.latestValidIndex(info.consumers)
			if firstWrite == -1 {
				if lastRead != -1 {
					core.LogWarn("%s '%s' is read by pass '%s' but never written", kind, r.name, c.passes[lastRead].name)
				}
				continue
			}
			c.passes[firstWrite].resourceCreateList[kind] = append(c.passes[firstWrite].resourceCreateList[kind], index)

			lastUse := lastRead
			if lastWrite := g.latestValidIndex(info.producers); lastWrite > lastUse {
				lastUse = lastWrite
			}

			releaseIndex := lastUse
			if c.passes[lastUse].enableAsyncCompute {
				// the object must outlive the compute queue work, so it is
				// released by the first graphics pass that waits on it
				waiting := -1
				for j := lastUse; j < len(c.passes); j++ {
					other := &c.passes[j]
					if !other.culled && other.enableAsyncCompute && other.syncFromPassIndex != -1 {
						waiting = other.syncFromPassIndex
						break
					}
				}
				if waiting == -1 {
					err := fmt.Errorf("%w: %s '%s' last used by async pass '%s' (%d)",
						core.ErrAsyncPassNotSynchronized, kind, r.name, c.passes[lastUse].name, lastUse)
					core.LogError(err.Error())
					return err
				}
				releaseIndex = waiting
			}
			c.passes[releaseIndex].resourceReleaseList[kind] = append(c.passes[releaseIndex].resourceReleaseList[kind], index)
		}
	}
	return nil
}
