// Package dedup persists the set of tweet ids already alerted on, so batch
// runs do not re-alert across invocations. The remote format is a plain text
// blob with one id per line; lines starting with '#' are comments.
//
// There is no locking: two runs racing on the remote blob can lose each
// other's update (last writer wins). With a single operator and a low run
// frequency that costs at most a duplicate alert, never a lost tweet.
package dedup

import (
	"context"
	"sort"
	"strings"
)

// Store is the key-set abstraction over the remote blob. Fetch returns the
// current snapshot; Update writes back the union of the snapshot and the
// newly processed ids, never removing existing entries.
type Store interface {
	Fetch(ctx context.Context) (map[string]struct{}, error)
	Update(ctx context.Context, existing map[string]struct{}, newIDs []string) error
}

// parseIDList turns blob content into the id set, skipping blank lines and
// comments.
func parseIDList(content string) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids[line] = struct{}{}
	}
	return ids
}

// encodeIDList serializes the union of existing and newIDs as sorted
// newline-joined text with a trailing newline.
func encodeIDList(existing map[string]struct{}, newIDs []string) string {
	merged := make(map[string]struct{}, len(existing)+len(newIDs))
	for id := range existing {
		merged[id] = struct{}{}
	}
	for _, id := range newIDs {
		if id = strings.TrimSpace(id); id != "" {
			merged[id] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(merged))
	for id := range merged {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	if len(sorted) == 0 {
		return ""
	}
	return strings.Join(sorted, "\n") + "\n"
}
