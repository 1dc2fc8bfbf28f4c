package sqlitevec

import (
	"fmt"
	"sort"

	"github.com/S-Corkum/projectmemory/pkg/vectorstore"
)

// sortScored implements the deterministic tie-break from spec section
// 4.3 / design note in section 9: score desc, then updated_at desc, then
// id bytewise ascending.
func sortScored(hits []vectorstore.ScoredPoint) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		ui, uj := updatedAtOf(hits[i].Payload), updatedAtOf(hits[j].Payload)
		if ui != uj {
			return ui > uj
		}
		return hits[i].ID < hits[j].ID
	})
}

func updatedAtOf(payload map[string]interface{}) string {
	if v, ok := payload["updated_at"]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
