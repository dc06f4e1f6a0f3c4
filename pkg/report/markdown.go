package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/svapna/pkg/store"
)

// cellLimit caps rendered table-cell text.
const cellLimit = 60

// escapeCell makes s safe inside a Markdown table cell: pipes escaped,
// newlines flattened. Truncation is truncateCell's job; cell applies both.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	return s
}

func truncateCell(s string) string {
	r := []rune(s)
	if len(r) <= cellLimit {
		return s
	}
	return string(r[:cellLimit-1]) + "…"
}

func cell(s string) string { return escapeCell(truncateCell(s)) }

type markdownBuilder struct {
	b strings.Builder
}

func (m *markdownBuilder) title(kind, period, project string) {
	fmt.Fprintf(&m.b, "# %s Report — %s — %s\n\n", kind, period, project)
}

func (m *markdownBuilder) generated(at time.Time) {
	fmt.Fprintf(&m.b, "> Generated: %s\n\n", at.UTC().Format(time.RFC3339))
}

func (m *markdownBuilder) section(name string) {
	fmt.Fprintf(&m.b, "## %s\n\n", name)
}

func (m *markdownBuilder) stat(label string, value any) {
	fmt.Fprintf(&m.b, "- **%s**: %v\n", label, value)
}

func (m *markdownBuilder) line(format string, args ...any) {
	fmt.Fprintf(&m.b, format+"\n", args...)
}

func (m *markdownBuilder) blank() { m.b.WriteString("\n") }

func (m *markdownBuilder) String() string { return m.b.String() }

func (m *markdownBuilder) toolTable(tools []ToolCount) {
	if len(tools) == 0 {
		m.line("_No tool invocations this period._")
		m.blank()
		return
	}
	m.line("| Tool | Invocations |")
	m.line("|---|---|")
	for _, t := range tools {
		m.line("| %s | %d |", cell(t.Name), t.Count)
	}
	m.blank()
}

func (m *markdownBuilder) vasanaTable(vasanas []store.Vasana, period string) {
	if len(vasanas) == 0 {
		m.line("_No vasanas crystallized this %s._", period)
		m.blank()
		return
	}
	m.line("| Name | Valence | Strength | Stability | Activations |")
	m.line("|---|---|---|---|---|")
	for _, v := range vasanas {
		m.line("| %s | %s | %.2f | %.2f | %d |",
			cell(v.Name), v.Valence, v.Strength, v.Stability, v.ActivationCount)
	}
	m.blank()
}

func (m *markdownBuilder) vidhiTable(vidhis []store.Vidhi, period string) {
	if len(vidhis) == 0 {
		m.line("_No vidhis extracted this %s._", period)
		m.blank()
		return
	}
	m.line("| Name | Steps | Success Rate | Confidence |")
	m.line("|---|---|---|---|")
	for _, v := range vidhis {
		m.line("| %s | %d | %.2f | %.2f |",
			cell(v.Name), len(v.Steps()), v.SuccessRate(), v.Confidence)
	}
	m.blank()
}

func (m *markdownBuilder) samskaraTable(samskaras []store.Samskara, period string) {
	if len(samskaras) == 0 {
		m.line("_No samskaras observed this %s._", period)
		m.blank()
		return
	}
	m.line("| Pattern | Type | Confidence | Observations |")
	m.line("|---|---|---|---|")
	for _, sk := range samskaras {
		m.line("| %s | %s | %.2f | %d |",
			cell(sk.PatternContent), cell(sk.PatternType), sk.Confidence, sk.ObservationCount)
	}
	m.blank()
}

func (m *markdownBuilder) recommendations(recs []string) {
	m.section("Recommendations")
	for _, r := range recs {
		m.line("- %s", r)
	}
	m.blank()
}
