package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component creates a new logger with a component identifier and the task
// context hook attached, so events logged with .Ctx(ctx) carry task_id and
// phase automatically. Uses the "cmp" key for consistency with zerolog
// conventions.
func Component(name string) zerolog.Logger {
	return log.Hook(ContextHook{}).With().Str("cmp", name).Logger()
}
