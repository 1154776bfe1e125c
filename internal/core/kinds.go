package core

import (
	"regexp"
	"strings"
)

// Kind discriminates the three diagram generators.
type Kind string

const (
	KindFlowchart    Kind = "flowchart"
	KindERDiagram    Kind = "er-diagram"
	KindArchitecture Kind = "architecture"
)

// kindSpec holds everything that differs between the diagram generators.
type kindSpec struct {
	sentinel       string
	invalidMessage string
	failureMessage string
	validate       func(payload string) bool
	analysisPrompt func(payload string) string
	markupPrompt   func(analysis string) string
	normalize      func(markup string) string
}

var codeTokens = regexp.MustCompile(`[(){};=]|function|class|def|if|for|while`)

var createTable = regexp.MustCompile(`(?i)create\s+table`)

func validCode(payload string) bool {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return false
	}
	return len(strings.Split(trimmed, "\n")) >= 2 && codeTokens.MatchString(payload)
}

func validSQL(payload string) bool {
	return strings.TrimSpace(payload) != "" && createTable.MatchString(payload)
}

func validDescription(payload string) bool {
	return strings.TrimSpace(payload) != ""
}

var kindSpecs = map[Kind]kindSpec{
	KindFlowchart: {
		sentinel:       "INVALID_CODE",
		invalidMessage: "Please provide valid code. Natural language or plain text is not supported.",
		failureMessage: "Failed to generate the flowchart. Please try again.",
		validate:       validCode,
		analysisPrompt: flowchartAnalysisPrompt,
		markupPrompt:   flowchartMarkupPrompt,
		normalize:      NormalizeFlowchart,
	},
	KindERDiagram: {
		sentinel:       "INVALID_SQL",
		invalidMessage: "Please provide valid SQL CREATE TABLE queries.",
		failureMessage: "Failed to process SQL. Please try again.",
		validate:       validSQL,
		analysisPrompt: erAnalysisPrompt,
		markupPrompt:   erMarkupPrompt,
		normalize:      NormalizeERDiagram,
	},
	KindArchitecture: {
		sentinel:       "INVALID_DESCRIPTION",
		invalidMessage: "Please provide a more detailed project description.",
		failureMessage: "Failed to process the description. Please try again.",
		validate:       validDescription,
		analysisPrompt: architectureAnalysisPrompt,
		markupPrompt:   architectureMarkupPrompt,
		normalize:      NormalizeArchitecture,
	},
}

// ValidateInput runs the cheap pre-model heuristic for kind.
func ValidateInput(kind Kind, payload string) error {
	spec, ok := kindSpecs[kind]
	if !ok {
		return InvalidInput("Unsupported diagram type.")
	}
	if !spec.validate(payload) {
		return InvalidInput(spec.invalidMessage)
	}
	return nil
}
