package services

import (
	"strings"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

// Section is the output of one branch, ready for composition.
type Section struct {
	Name   string
	Label  string
	Chunks []datatypes.DocumentChunk
}

// Compose builds the context block of a turn.
//
// A single section is its chunk contents joined by blank lines. Several
// sections are each written as "<label>: <contents>" and joined by blank
// lines. A section without chunks still contributes its label so the answer
// prompt can tell that nothing was found for it; an empty label means no
// prefix. Compose is pure.
func Compose(sections []Section) string {
	if len(sections) == 1 {
		return joinChunks(sections[0].Chunks)
	}
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		body := joinChunks(s.Chunks)
		if s.Label == "" {
			if body != "" {
				parts = append(parts, body)
			}
			continue
		}
		parts = append(parts, s.Label+": "+body)
	}
	return strings.Join(parts, "\n\n")
}

func joinChunks(chunks []datatypes.DocumentChunk) string {
	contents := make([]string, 0, len(chunks))
	for _, c := range chunks {
		contents = append(contents, c.Content)
	}
	return strings.Join(contents, "\n\n")
}
