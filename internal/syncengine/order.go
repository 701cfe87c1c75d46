// Package syncengine implements the Shelfmark sync protocol.
package syncengine

import "sort"

// tableRank is the fixed dependency order for mutations: parents before
// children so foreign keys resolve. Tables outside the order sort last.
var tableRank = map[string]int{
	"lists":      0,
	"list_items": 1,
	"favorites":  2,
}

const unknownRank = 100

// sortChanges reorders change items by table dependency. The sort is
// stable, so the client's ordering within one table is preserved.
func sortChanges(changes []ChangeItem) []ChangeItem {
	sorted := make([]ChangeItem, len(changes))
	copy(sorted, changes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rankOf(sorted[i].TableName) < rankOf(sorted[j].TableName)
	})
	return sorted
}

func rankOf(table string) int {
	if r, ok := tableRank[table]; ok {
		return r
	}
	return unknownRank
}
