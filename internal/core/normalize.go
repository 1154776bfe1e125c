package core

import (
	"regexp"
	"strings"
)

var (
	markdownMarkers = regexp.MustCompile("[#*`]")
	excessNewlines  = regexp.MustCompile(`\n{3,}`)
	headerLine      = regexp.MustCompile(`(?i)^(?:flowchart|graph)(?:\s+(TB|TD|BT|RL|LR))?\s*;?$`)
	flowConnector   = regexp.MustCompile(`\s*(?:-\.->|==>|-->)\s*(\|[^|]*\|)?\s*`)
	archConnector   = regexp.MustCompile(`\s*(?:-\.->|==>|-->)\s*`)
	bracketLabel    = regexp.MustCompile(`\[([^\]]*)\]`)
)

// NormalizeExplanation strips markdown markers from analysis text.
func NormalizeExplanation(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = markdownMarkers.ReplaceAllString(text, "")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func isFence(line string) bool {
	return strings.HasPrefix(line, "```")
}

// canonicalLines canonicalizes every line and drops fences and blanks.
func canonicalLines(raw string, canon func(string) string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = canon(strings.TrimSpace(line))
		if line == "" || isFence(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// withHeader puts header(direction) first. direction comes from a leading
// header line, which is replaced; later header lines are dropped.
func withHeader(lines []string, header func(direction string) string) string {
	direction := ""
	out := make([]string, 0, len(lines)+1)
	for i, line := range lines {
		if m := headerLine.FindStringSubmatch(line); m != nil {
			if i == 0 {
				direction = strings.ToUpper(m[1])
			}
			continue
		}
		out = append(out, line)
	}
	return strings.Join(append([]string{header(direction)}, out...), "\n")
}

func flowchartFallback(line string) string {
	line = stripQuotes(line)
	line = flowConnector.ReplaceAllString(line, " -->$1 ")
	return strings.TrimSpace(line)
}

// NormalizeFlowchart cleans model output into flowchart markup with a
// "flowchart <DIR>" header, unquoted labels and " --> " connectors.
func NormalizeFlowchart(raw string) string {
	lines := canonicalLines(raw, func(line string) string {
		return flowchartDialect.canonicalLine(line, flowchartFallback)
	})
	return withHeader(lines, func(direction string) string {
		if direction == "" {
			direction = "TD"
		}
		return "flowchart " + direction
	})
}

// NormalizeERDiagram strips fences and the erDiagram header, which the
// client adds back.
func NormalizeERDiagram(raw string) string {
	lines := canonicalLines(raw, strings.TrimSpace)
	out := lines[:0]
	for _, line := range lines {
		if strings.EqualFold(line, "erDiagram") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func canonicalSubgraph(line string) (string, bool) {
	if line != "subgraph" && !strings.HasPrefix(line, "subgraph ") && !strings.HasPrefix(line, "subgraph\t") {
		return "", false
	}
	name := strings.TrimSpace(stripQuotes(strings.TrimPrefix(line, "subgraph")))
	return `subgraph "` + name + `"`, true
}

func architectureFallback(line string) string {
	line = bracketLabel.ReplaceAllStringFunc(line, func(m string) string {
		return `["` + cleanLabel(m[1:len(m)-1]) + `"]`
	})
	line = archConnector.ReplaceAllString(line, " --> ")
	return strings.TrimSpace(line)
}

// NormalizeArchitecture cleans layered architecture markup: a forced
// "flowchart TD" header, quoted subgraph names and node labels, and a single
// connector style.
func NormalizeArchitecture(raw string) string {
	lines := canonicalLines(raw, func(line string) string {
		if sg, ok := canonicalSubgraph(line); ok {
			return sg
		}
		return architectureDialect.canonicalLine(line, architectureFallback)
	})
	return withHeader(lines, func(string) string {
		return "flowchart TD"
	})
}
