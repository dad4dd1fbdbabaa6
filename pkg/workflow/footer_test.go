package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thoreinstein.com/fel/pkg/stack"
)

func TestWithFooter(t *testing.T) {
	footer := "---\nlisting\n"

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "empty body",
			body: "",
			want: footerDelimiter + "\n\n" + footer,
		},
		{
			name: "plain description",
			body: "Fixes the widget.\n",
			want: "Fixes the widget.\n\n" + footerDelimiter + "\n\n" + footer,
		},
		{
			name: "replaces old footer",
			body: "Fixes the widget.\n\n" + footerDelimiter + "\n\n---\nstale listing\n",
			want: "Fixes the widget.\n\n" + footerDelimiter + "\n\n" + footer,
		},
		{
			name: "crlf from the API",
			body: "Line one\r\nLine two\r\n\r\n" + footerDelimiter + "\r\n\r\nold\r\n",
			want: "Line one\nLine two\n\n" + footerDelimiter + "\n\n" + footer,
		},
		{
			name: "only a footer",
			body: footerDelimiter + "\n\nold",
			want: footerDelimiter + "\n\n" + footer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withFooter(tt.body, footer))
		})
	}
}

func TestWithFooter_Stable(t *testing.T) {
	footer := "---\nlisting\n"
	once := withFooter("Body", footer)
	assert.Equal(t, once, withFooter(once, footer))
}

func TestRenderFooter(t *testing.T) {
	h := newHarness(t)
	one := h.repo.Stack("one", "master", "A", "B", "C")
	h.repo.Stack("two", one[1], "D")
	g := h.build("one", "two")

	byHash := map[string]*stack.Node{}
	for _, n := range g.Nodes() {
		byHash[n.Commit.Hash] = n
	}
	a, b, c := byHash[one[0]], byHash[one[1]], byHash[one[2]]
	prs := map[stack.NodeID]footerPR{
		a.ID: {number: 10, title: "A"},
		b.ID: {number: 11, title: "B"},
	}

	got := renderFooter(g, b, prs)

	want := strings.Join([]string{
		"---",
		"Stack `one` onto `master`:",
		"",
		"* _not submitted_ C",
		"* **#11 B** ←",
		"* #10 A",
		"",
		"Stack `two` onto `master`:",
		"",
		"* _not submitted_ D",
		"* **#11 B** ←",
		"* #10 A",
		"",
	}, "\n")
	assert.Equal(t, want, got)

	only := renderFooter(g, c, prs)
	require.NotContains(t, only, "Stack `two`")
	assert.Contains(t, only, "* _not submitted_ C")
	assert.NotContains(t, only, "←")
}
