// ABOUTME: Generator interface consumed by the query pipeline.
// ABOUTME: A single synchronous completion call; retries belong to the caller.

package llm

import "context"

// Generator is the external text-generation collaborator. One call, no
// internal retry semantics; the pipeline supplies its own recovery.
//
// Contract: for query synthesis the response must contain exactly one fenced
// code block tagged `sql`; the pipeline parses nothing else.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
