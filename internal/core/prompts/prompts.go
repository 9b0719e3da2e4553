// Package prompts renders the instruction messages the engine injects at
// phase boundaries.
package prompts

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

const planTemplate = `Before doing anything else, write a short plan for this task:
1. Restate the goal in one sentence.
2. List the steps you expect to take and which tools each step needs.
3. Note anything that could go wrong.
Keep the plan under 10 lines, then wait for the next turn to execute it.`

const reviewTemplate = `Review your work before answering.
You used these tools: {{ join .Tools ", " }}.
Check that every claim in your answer is backed by a tool result above.
{{- if .HadFailures }}
At least one tool call failed; state clearly what could not be completed.
{{- end }}
Then give your final answer.`

var funcs = template.FuncMap{
	"join": strings.Join,
}

// ReviewData feeds the review instruction template.
type ReviewData struct {
	Tools       []string
	HadFailures bool
}

// Plan returns the planning instruction injected on fresh tasks.
func Plan() string {
	return planTemplate
}

// Review renders the review instruction for the given task state.
func Review(data ReviewData) (string, error) {
	return render(reviewTemplate, data)
}

// render executes a template string with the given data. Undefined keys
// are an error rather than silent blanks.
func render(tmpl string, data any) (string, error) {
	t, err := template.New("").Funcs(funcs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}

	return buf.String(), nil
}
