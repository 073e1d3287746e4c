// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cfg

import (
	"fmt"
	"strings"
)

// Mermaid renders the graph as a Mermaid flowchart.
//
// PERFORM edges are solid, GO TO edges dotted. The entry node is drawn
// as a stadium and unreachable paragraphs are styled as dead code.
//
// Example output:
//
//	flowchart TD
//	    n0(["0000-MAIN"]):::entry
//	    n1["1000-READ"]
//	    n0 -->|PERFORM| n1
func (g *ControlFlowGraph) Mermaid() string {
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")

	dead := make(map[string]bool)
	for _, n := range g.Unreachable() {
		dead[n] = true
	}

	for i, n := range g.Nodes {
		label := escapeMermaidLabel(n.Name)
		switch {
		case n.Name == g.Entry:
			sb.WriteString(fmt.Sprintf("    n%d([\"%s\"]):::entry\n", i, label))
		case dead[n.Name]:
			sb.WriteString(fmt.Sprintf("    n%d[\"%s\"]:::dead\n", i, label))
		default:
			sb.WriteString(fmt.Sprintf("    n%d[\"%s\"]\n", i, label))
		}
	}

	for _, e := range g.Edges {
		from, to := g.indexOf(e.From), g.indexOf(e.To)
		if from < 0 || to < 0 {
			continue
		}
		switch e.Kind {
		case EdgeGoTo:
			sb.WriteString(fmt.Sprintf("    n%d -.->|GO TO| n%d\n", from, to))
		default:
			label := "PERFORM"
			if e.Thru {
				label = "PERFORM THRU"
			}
			sb.WriteString(fmt.Sprintf("    n%d -->|%s| n%d\n", from, label, to))
		}
	}

	sb.WriteString("    classDef entry fill:#10ac84,stroke:#333,color:#fff\n")
	sb.WriteString("    classDef dead fill:#ddd,stroke:#999,stroke-dasharray: 4 2\n")
	return sb.String()
}

// escapeMermaidLabel escapes characters Mermaid treats specially in labels.
func escapeMermaidLabel(s string) string {
	r := strings.NewReplacer(`"`, "#quot;", "<", "#lt;", ">", "#gt;")
	return r.Replace(s)
}
