package objects

import (
	"strings"
)

// containerLayout renders a container's already-formatted entries the way
// the runtime would print them: the empty literal when there are none, a
// single line for one entry, and otherwise one entry per line indented by
// the traversal depth, with a "..." marker when the entry cap was hit.
type containerLayout struct {
	open  string
	close string
	empty string
}

func (l containerLayout) render(t Ctx, entries []string, hasExtra bool) string {
	if len(entries) == 0 && !hasExtra {
		return l.empty
	}
	if len(entries) == 1 && !hasExtra {
		return l.open + entries[0] + l.close
	}

	indent := strings.Repeat(" ", t.Depth()*2)
	closeIndent := strings.Repeat(" ", (t.Depth()-1)*2)

	var b strings.Builder
	b.WriteString(l.open)
	b.WriteString("\n")
	for _, e := range entries {
		b.WriteString(indent)
		b.WriteString(e)
		b.WriteString(",\n")
	}
	if hasExtra {
		b.WriteString(indent)
		b.WriteString("...\n")
	}
	b.WriteString(closeIndent)
	b.WriteString(l.close)
	return b.String()
}
