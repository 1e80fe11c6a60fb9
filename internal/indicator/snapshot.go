package indicator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// snapshotVersion is the schema version written into new snapshots.
const snapshotVersion = 1

// EngineSnapshot is the persistable state of an Engine: its definitions in
// registration order. Column values are not stored; they are recomputed
// from the bars on restore.
type EngineSnapshot struct {
	Version     int          `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	Definitions []Definition `json:"definitions"`
}

// Snapshot captures the engine's definitions.
func (e *Engine) Snapshot() *EngineSnapshot {
	return &EngineSnapshot{
		Version:     snapshotVersion,
		CreatedAt:   time.Now().UTC(),
		Definitions: e.Definitions(),
	}
}

// MarshalSnapshot encodes a snapshot to JSON.
func MarshalSnapshot(snap *EngineSnapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// UnmarshalSnapshot decodes a snapshot, rejecting unknown schema versions.
func UnmarshalSnapshot(data []byte) (*EngineSnapshot, error) {
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}

// RestoreEngine rebuilds an engine over f from a snapshot and computes all
// restored columns. Definitions that no longer validate are skipped.
func RestoreEngine(f Frame, snap *EngineSnapshot) (*Engine, error) {
	e := NewEngine(f)
	if snap == nil {
		return e, nil
	}

	skipped := 0
	for _, def := range snap.Definitions {
		if err := e.Register(def); err != nil {
			log.Warn().Str("component", "restorer").Err(err).Str("column", def.Column).Msg("skipping snapshot definition")
			skipped++
		}
	}
	if skipped > 0 {
		log.Info().Str("component", "restorer").Int("restored", e.Len()).Int("skipped", skipped).Msg("snapshot partially restored")
	}
	return e, nil
}
