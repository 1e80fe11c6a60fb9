package indicator

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Reload replaces the whole definition set. Definitions whose parameters
// are unchanged are kept without recomputation; new or changed ones are
// registered (and computed); definitions missing from defs are unregistered.
// Nothing changes if any definition is invalid.
func (e *Engine) Reload(defs []Definition) (kept, added int, err error) {
	normalized, err := ValidateDefinitions(defs)
	if err != nil {
		return 0, 0, err
	}

	wanted := make(map[string]bool, len(normalized))
	for _, def := range normalized {
		wanted[def.Column] = true
	}
	for _, def := range e.Definitions() {
		if !wanted[def.Column] {
			e.Unregister(def.Column)
			log.Info().Str("component", "indicator").Str("column", def.Column).Msg("reload: removed indicator")
		}
	}

	for _, def := range normalized {
		if old, ok := e.Definition(def.Column); ok && old == def {
			kept++
			continue
		}
		if err := e.Register(def); err != nil {
			return kept, added, err
		}
		added++
	}

	log.Info().Str("component", "indicator").Int("kept", kept).Int("added", added).Msg("reload: definitions applied")
	return kept, added, nil
}

// ValidateDefinitions normalizes and checks a definition set, rejecting
// duplicate output columns.
func ValidateDefinitions(defs []Definition) ([]Definition, error) {
	out := make([]Definition, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		def = def.Normalize()
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if seen[def.Column] {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidDefinition, def.Column)
		}
		seen[def.Column] = true
		out = append(out, def)
	}
	return out, nil
}
