package orchestrator

import (
	"fmt"
	"strings"

	"github.com/MrWong99/ana/internal/agent"
)

// Mermaid renders the graph as a mermaid flowchart. Entity nodes get
// synthetic ids since entity ids may contain characters mermaid rejects.
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	b.WriteString("    __start__([start]) --> " + agent.StageClassifier + "\n")
	for i, id := range g.order {
		ref := fmt.Sprintf("entity_%d", i)
		fmt.Fprintf(&b, "    %s[%q]\n", ref, id)
		fmt.Fprintf(&b, "    %s -.-> %s\n", agent.StageClassifier, ref)
		fmt.Fprintf(&b, "    %s --> %s\n", ref, agent.StageArbiter)
	}
	fmt.Fprintf(&b, "    %s -.->|%s| %s\n", agent.StageClassifier, RouteDefault, agent.StageArbiter)
	for i := 0; i+1 < len(g.tail); i++ {
		fmt.Fprintf(&b, "    %s --> %s\n", g.tail[i].name, g.tail[i+1].name)
	}
	fmt.Fprintf(&b, "    %s --> __end__([end])\n", g.tail[len(g.tail)-1].name)
	return b.String()
}
