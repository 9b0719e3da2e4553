package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	assert.Contains(t, Plan(), "plan")
}

func TestReview(t *testing.T) {
	out, err := Review(ReviewData{Tools: []string{"get_weather", "run_command"}})
	require.NoError(t, err)
	assert.Contains(t, out, "get_weather, run_command")
	assert.NotContains(t, out, "failed")
}

func TestReview_WithFailures(t *testing.T) {
	out, err := Review(ReviewData{Tools: []string{"run_command"}, HadFailures: true})
	require.NoError(t, err)
	assert.Contains(t, out, "could not be completed")
}
