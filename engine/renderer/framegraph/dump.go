package framegraph

import (
	"fmt"
	"io"
	"strings"
)

func (g *RenderGraph) resourceNames(kind ResourceKind, indices []int) string {
	names := make([]string, 0, len(indices))
	for _, i := range indices {
		names = append(names, g.registry.at(kind, i).name)
	}
	return strings.Join(names, ", ")
}

// writeReport describes the compiled frame: every pass in order, whether it
// was culled, which queue it runs on, its synchronization links and the
// resources created and released around it.
func (g *RenderGraph) writeReport(w io.Writer) {
	fmt.Fprintf(w, "frame %d (%s): %d passes\n", g.frame, g.frameID, g.passCount)
	for i := range g.compiled.passes {
		info := &g.compiled.passes[i]
		p := g.objects.passes[i]

		state := "active"
		if info.culled {
			state = "culled"
		}
		queue := "graphics"
		if info.enableAsyncCompute {
			queue = "compute"
		}
		fmt.Fprintf(w, "[%d] %s '%s' %s on %s\n", i, p.kind, p.name, state, queue)
		if info.culled {
			continue
		}
		if info.syncToPassIndex != -1 {
			fmt.Fprintf(w, "    waits on [%d] %s\n", info.syncToPassIndex, g.compiled.passes[info.syncToPassIndex].name)
		}
		if info.needGraphicsFence {
			fmt.Fprintf(w, "    signals fence, first waiter [%d]\n", info.syncFromPassIndex)
		}
		for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
			if len(info.resourceCreateList[kind]) > 0 {
				fmt.Fprintf(w, "    create %ss: %s\n", kind, g.resourceNames(kind, info.resourceCreateList[kind]))
			}
			if len(info.resourceReleaseList[kind]) > 0 {
				fmt.Fprintf(w, "    release %ss: %s\n", kind, g.resourceNames(kind, info.resourceReleaseList[kind]))
			}
		}
	}
}
