package parse

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/your-org/scanforge/internal/plan"
	"github.com/your-org/scanforge/internal/state"
)

var portRegex = regexp.MustCompile(`\b(\d{1,5})/(?:tcp|udp)\b`)

// Pattern applies an ordered rule list line by line: streaming-friendly for
// tools with very large output. The first rule matching a line wins for
// that line; whole-output scans are deliberately avoided.
type Pattern struct {
	rules []*plan.Pattern
}

// NewPattern builds the pattern strategy. Rules that fail to compile are
// skipped; plan validation catches them before a run.
func NewPattern(rules []*plan.Pattern) *Pattern {
	return &Pattern{rules: rules}
}

func (p *Pattern) Extract(_ context.Context, task string, stdout []string) ([]state.Finding, error) {
	var findings []state.Finding
	for _, line := range stdout {
		if f, ok := p.matchLine(task, line); ok {
			findings = append(findings, f)
		}
	}
	return findings, nil
}

// matchLine applies rules in order and stops at the first match.
func (p *Pattern) matchLine(task, line string) (state.Finding, bool) {
	for _, rule := range p.rules {
		re, err := rule.Compiled()
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		// Capturing groups become the description; without groups the whole
		// line is the evidence.
		desc := line
		if len(m) > 1 {
			parts := make([]string, 0, len(m)-1)
			for _, g := range m[1:] {
				if g != "" {
					parts = append(parts, g)
				}
			}
			if len(parts) > 0 {
				desc = strings.Join(parts, " ")
			}
		}

		title := rule.Title
		if title == "" {
			title = re.String()
		}

		return state.Finding{
			Task:        task,
			Severity:    rule.Severity,
			Title:       title,
			Description: desc,
			Port:        portFromLine(line),
		}, true
	}
	return state.Finding{}, false
}

// portFromLine picks up a "NNN/tcp"-style port reference when present so
// findings stay associated with the endpoint they describe.
func portFromLine(line string) int {
	m := portRegex.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port < 1 || port > 65535 {
		return 0
	}
	return port
}
