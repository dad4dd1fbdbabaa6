package workflow

import (
	"fmt"
	"strings"

	"thoreinstein.com/fel/pkg/stack"
)

// footerDelimiter separates the author's PR description from the stack
// listing fel maintains below it. Everything after it is rewritten.
const footerDelimiter = "[#]:fel"

// footerPR is what the footer shows for one node.
type footerPR struct {
	number int
	title  string
}

// renderFooter lists every stack n belongs to, tip first, marking n.
func renderFooter(g *stack.Graph, n *stack.Node, prs map[stack.NodeID]footerPR) string {
	var b strings.Builder
	b.WriteString("---\n")
	for i, name := range n.Stacks {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Stack `%s` onto `%s`:\n\n", name, g.Upstream())

		nodes := g.Stack(name)
		for j := len(nodes) - 1; j >= 0; j-- {
			m := nodes[j]
			pr, ok := prs[m.ID]
			switch {
			case !ok:
				fmt.Fprintf(&b, "* _not submitted_ %s\n", m.Commit.Subject())
			case m.ID == n.ID:
				fmt.Fprintf(&b, "* **#%d %s** ←\n", pr.number, pr.title)
			default:
				fmt.Fprintf(&b, "* #%d %s\n", pr.number, pr.title)
			}
		}
	}
	return b.String()
}

// withFooter replaces whatever follows the delimiter in body with footer.
func withFooter(body, footer string) string {
	body = normalizeBody(body)
	if i := strings.Index(body, footerDelimiter); i >= 0 {
		body = body[:i]
	}
	body = strings.TrimRight(body, " \t\n")
	if body == "" {
		return footerDelimiter + "\n\n" + footer
	}
	return body + "\n\n" + footerDelimiter + "\n\n" + footer
}

// normalizeBody converts the CRLF line endings GitHub returns.
func normalizeBody(body string) string {
	return strings.ReplaceAll(body, "\r\n", "\n")
}
