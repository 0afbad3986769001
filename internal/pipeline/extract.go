// ABOUTME: Strict fenced-block extraction from model responses.
// ABOUTME: The response contract is exactly one ```sql block; anything else is a generation failure.

package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```([a-zA-Z]*)[ \t]*\r?\n(.*?)```")

// extractTagged returns the body of the single fenced block tagged with the
// given language. Zero blocks or more than one block of that language is an
// error; the prompt demands exactly one and a response that breaks the
// contract is not worth guessing at.
func extractTagged(text, tag string) (string, error) {
	var bodies []string
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		if strings.EqualFold(m[1], tag) {
			bodies = append(bodies, strings.TrimSpace(m[2]))
		}
	}
	switch len(bodies) {
	case 0:
		return "", fmt.Errorf("no fenced %s block in response", tag)
	case 1:
		if bodies[0] == "" {
			return "", fmt.Errorf("fenced %s block is empty", tag)
		}
		return bodies[0], nil
	default:
		return "", fmt.Errorf("%d fenced %s blocks in response, want exactly one", len(bodies), tag)
	}
}

// extractQuery pulls the generated query out of a model response and rejects
// anything that is not a read-only statement.
func extractQuery(text string) (string, error) {
	query, err := extractTagged(text, "sql")
	if err != nil {
		return "", &GenerationError{Reason: err.Error()}
	}
	upper := strings.ToUpper(query)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return "", &GenerationError{Reason: "generated statement is not a SELECT"}
	}
	return query, nil
}
