package retrieval

import (
	"fmt"
	"strings"

	"github.com/papercomputeco/chatty/pkg/memory"
	"github.com/papercomputeco/chatty/pkg/utils"
)

// FormatContext renders snippets as a prompt block with facts listed before
// past conversation. Turn text is folded onto one line. It returns "" when
// there is nothing to render.
func FormatContext(snippets []Snippet) string {
	var facts, turns []string
	for _, s := range snippets {
		switch s.Kind {
		case memory.KindFact:
			facts = append(facts, "- "+s.Text)
		case memory.KindTurn:
			turns = append(turns, fmt.Sprintf("- [%s] %s: %s", s.CreatedAt.Format("2006-01-02"), s.Role, utils.CollapseSpace(s.Text)))
		}
	}

	var b strings.Builder
	if len(facts) > 0 {
		b.WriteString("Known facts about the user:\n")
		b.WriteString(strings.Join(facts, "\n"))
		b.WriteString("\n")
	}
	if len(turns) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Relevant past conversation:\n")
		b.WriteString(strings.Join(turns, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}
