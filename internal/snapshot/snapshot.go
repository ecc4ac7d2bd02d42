// Package snapshot implements the engine state snapshot writer and the
// weekly strategy selector of spec.md §4.11. The writer is grounded
// directly on the teacher's (and the rest of the pack's) write-temp-then-
// rename idiom for durable state; the selector's composite scoring is
// grounded on the teacher's optimization/optimizer.go scoring-and-ranking
// pattern.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/polytrader/polytrader/pkg/types"
)

const schemaVersion = 1

// EngineSnapshot is the single self-describing record persisted every cycle
// to state/bot_state.snapshot, per spec.md §6. Unknown is populated on read
// with any top-level fields this version does not recognize, so a future
// schema version's extra fields survive a round trip through an older
// reader.
type EngineSnapshot struct {
	SchemaVersion int                                  `json:"schemaVersion"`
	DriverStatus  string                                `json:"driverStatus"`
	Portfolios    map[string]types.PortfolioSnapshot    `json:"portfolios"`
	Aggregate     types.PortfolioSnapshot               `json:"aggregate"`
	LastCycleAt   time.Time                              `json:"lastCycleAt"`
	LastCycleSeq  uint64                                 `json:"lastCycleSeq"`
	CacheMarkets  int                                    `json:"cacheMarkets"`
	Unknown       map[string]json.RawMessage             `json:"-"`
}

// UnmarshalJSON captures unrecognized top-level fields into Unknown so a
// write-then-read round trip never silently drops forward-compatible data.
func (s *EngineSnapshot) UnmarshalJSON(data []byte) error {
	type knownFields struct {
		SchemaVersion int                                `json:"schemaVersion"`
		DriverStatus  string                              `json:"driverStatus"`
		Portfolios    map[string]types.PortfolioSnapshot `json:"portfolios"`
		Aggregate     types.PortfolioSnapshot            `json:"aggregate"`
		LastCycleAt   time.Time                           `json:"lastCycleAt"`
		LastCycleSeq  uint64                              `json:"lastCycleSeq"`
		CacheMarkets  int                                 `json:"cacheMarkets"`
	}
	var k knownFields
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	s.SchemaVersion, s.DriverStatus, s.Portfolios, s.Aggregate = k.SchemaVersion, k.DriverStatus, k.Portfolios, k.Aggregate
	s.LastCycleAt, s.LastCycleSeq, s.CacheMarkets = k.LastCycleAt, k.LastCycleSeq, k.CacheMarkets

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	known := map[string]struct{}{
		"schemaVersion": {}, "driverStatus": {}, "portfolios": {}, "aggregate": {},
		"lastCycleAt": {}, "lastCycleSeq": {}, "cacheMarkets": {},
	}
	for key, raw := range all {
		if _, isKnown := known[key]; !isKnown {
			if s.Unknown == nil {
				s.Unknown = make(map[string]json.RawMessage)
			}
			s.Unknown[key] = raw
		}
	}
	return nil
}

// MarshalJSON re-emits Unknown fields alongside the known ones so round
// trips are lossless.
func (s EngineSnapshot) MarshalJSON() ([]byte, error) {
	base := map[string]json.RawMessage{}
	for k, v := range s.Unknown {
		base[k] = v
	}
	type known EngineSnapshot
	encoded, err := json.Marshal(known(s))
	if err != nil {
		return nil, err
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		base[k] = v
	}
	return json.Marshal(base)
}

// Writer owns the single write path to the durable snapshot artifact.
type Writer struct {
	path string
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Write serializes snap via write-temp-then-rename so a concurrent reader
// always observes either the complete prior state or the complete new
// state, never a partial record, per spec.md §4.11/§9.
func (w *Writer) Write(snap EngineSnapshot) error {
	snap.SchemaVersion = schemaVersion
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.path)
}

// Read loads the snapshot artifact, preserving unknown fields.
func Read(path string) (EngineSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineSnapshot{}, err
	}
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return EngineSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
