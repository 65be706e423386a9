package notify

import "github.com/rs/zerolog"

// Effects are the arrival side effects: a sound cue and a best-effort
// OS-level notification. Both are non-fatal; failures never reach the
// counters or the logs.
type Effects interface {
	Sound(kind Kind)
	Desktop(title, body string) error
}

// NoopEffects disables side effects entirely.
type NoopEffects struct{}

func (NoopEffects) Sound(Kind) {}

func (NoopEffects) Desktop(string, string) error { return nil }

// LogEffects is the library default: it records the cue in the debug log and
// leaves actual playback to the embedding UI.
type LogEffects struct {
	Log *zerolog.Logger
}

func (e LogEffects) Sound(kind Kind) {
	if e.Log != nil {
		e.Log.Debug().Str("kind", kind.String()).Msg("notification sound cue")
	}
}

func (e LogEffects) Desktop(title, body string) error {
	if e.Log != nil {
		e.Log.Debug().Str("title", title).Msg("desktop notification cue")
	}
	return nil
}
