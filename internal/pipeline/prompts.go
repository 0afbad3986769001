// ABOUTME: Prompt builders for classification, query generation, and repair.
// ABOUTME: Every prompt demands exactly one fenced block so extraction stays strict.

package pipeline

import (
	"fmt"
	"strings"

	"github.com/2389/askdb-gateway/internal/examples"
)

const generateSystem = `You are a senior data analyst who writes SQL for Apache Doris (MySQL dialect).
Rules:
- Answer with exactly one fenced sql code block and nothing else.
- Write a single read-only SELECT (or WITH ... SELECT) statement.
- Only use tables and columns that appear in the schema below.
- Prefer explicit column lists over SELECT *.
- Add a LIMIT when the question does not bound the result itself.`

const repairSystem = `You are a senior data analyst fixing a failing SQL statement for Apache Doris (MySQL dialect).
Rules:
- Answer with exactly one fenced sql code block containing the corrected statement, nothing else.
- Keep the statement read-only and faithful to the original question.
- Only use tables and columns that appear in the schema below.`

const classifySystem = `You decide whether a user's message is a question that can be answered by querying a business database.
Answer with exactly one fenced json code block shaped like:
` + "```json\n{\"is_data_question\": true, \"confidence\": 0.8}\n```" + `
Greetings, chit-chat, coding help, and database administration commands are not data questions.`

func generatePrompts(question, tablesInfo string, ex *examples.Example) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Database schema:\n\n%s\n", tablesInfo)
	if ex != nil {
		fmt.Fprintf(&b, "\nA similar solved question for reference:\nQuestion: %s\nSQL:\n%s\n", ex.Question, ex.SQL)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	return generateSystem, b.String()
}

func repairPrompts(question, tablesInfo, failingSQL, errorText string) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Database schema:\n\n%s\n", tablesInfo)
	fmt.Fprintf(&b, "\nOriginal question: %s\n", question)
	fmt.Fprintf(&b, "\nFailing statement:\n%s\n", failingSQL)
	fmt.Fprintf(&b, "\nDatabase error:\n%s\n", errorText)
	return repairSystem, b.String()
}

func classifyPrompts(question string) (system, user string) {
	return classifySystem, "Message: " + question
}
