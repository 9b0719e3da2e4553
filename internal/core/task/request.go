package task

import "github.com/google/uuid"

// Request is an inbound task request from the messaging front-end.
type Request struct {
	TaskID          string        `json:"task_id,omitempty"`
	Model           string        `json:"model"`
	Prompt          string        `json:"prompt"`
	Parts           []ContentPart `json:"parts,omitempty"`
	SystemPrompt    string        `json:"system_prompt,omitempty"`
	Structured      bool          `json:"structured,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
}

// Normalize fills in a generated task ID when the request carries none.
func (r *Request) Normalize() {
	if r.TaskID == "" {
		r.TaskID = uuid.NewString()
	}
}
