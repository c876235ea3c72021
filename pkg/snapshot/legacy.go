package snapshot

import (
	"github.com/stormstack/lightning/pkg/types"
)

// ToLegacy converts a snapshot to the nested map form still consumed by
// older dashboard builds.
func ToLegacy(s *types.Snapshot) *types.LegacySnapshot {
	out := &types.LegacySnapshot{
		MatchID: s.MatchID,
		Tick:    s.Tick,
		Data:    make(map[string]map[string][]float32, len(s.Modules)),
	}
	for _, m := range s.Modules {
		cols := make(map[string][]float32, len(m.Components))
		for _, c := range m.Components {
			cols[c.Name] = c.Values
		}
		out.Data[m.Name] = cols
	}
	return out
}
