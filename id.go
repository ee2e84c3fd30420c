package entities

import (
	"fmt"
	"strings"
)

const idSeparator = "::"

// EntityId identifies an addressable, long-lived entity by the pair
// (className, key). Equality is componentwise.
type EntityId struct {
	ClassName string
	Key       string
}

// NewEntityId constructs an EntityId, trimming surrounding whitespace.
func NewEntityId(className, key string) EntityId {
	return EntityId{
		ClassName: strings.TrimSpace(className),
		Key:       strings.TrimSpace(key),
	}
}

// IsZero reports whether the EntityId has no class/key set.
func (id EntityId) IsZero() bool {
	return id.ClassName == "" && id.Key == ""
}

// String renders the EntityId in its canonical "className::key" form.
func (id EntityId) String() string {
	return id.ClassName + idSeparator + id.Key
}

// Equal reports componentwise equality.
func (id EntityId) Equal(other EntityId) bool {
	return id.ClassName == other.ClassName && id.Key == other.Key
}

// Less implements the deterministic total order lock acquisition
// relies on: lexicographic on ClassName, then Key. LockSets are sorted
// with this order to guarantee deadlock freedom across overlapping
// lock chains.
func (id EntityId) Less(other EntityId) bool {
	if id.ClassName != other.ClassName {
		return id.ClassName < other.ClassName
	}
	return id.Key < other.Key
}

// ToSchedulerInstanceID encodes an EntityId into the routing address
// used by the underlying workflow runtime for its per-entity scheduler
// orchestration. The encoding is reversible (see ParseSchedulerInstanceID).
func ToSchedulerInstanceID(id EntityId) string {
	return "@" + id.ClassName + idSeparator + id.Key
}

// ParseSchedulerInstanceID decodes a scheduler instance id produced by
// ToSchedulerInstanceID back into an EntityId. Round-trips with
// ToSchedulerInstanceID for any EntityId whose ClassName/Key do not
// themselves contain the "::" separator.
func ParseSchedulerInstanceID(instanceID string) (EntityId, error) {
	if !strings.HasPrefix(instanceID, "@") {
		return EntityId{}, fmt.Errorf("entities: instance id %q missing scheduler prefix", instanceID)
	}
	body := strings.TrimPrefix(instanceID, "@")
	className, key, ok := strings.Cut(body, idSeparator)
	if !ok {
		return EntityId{}, fmt.Errorf("entities: instance id %q missing class/key separator", instanceID)
	}
	if strings.Contains(key, idSeparator) {
		return EntityId{}, fmt.Errorf("entities: instance id %q has ambiguous key", instanceID)
	}
	return EntityId{ClassName: className, Key: key}, nil
}

// SortLockSet returns lockSet sorted by the canonical EntityId order
// with duplicates removed. The input is not mutated.
func SortLockSet(lockSet []EntityId) []EntityId {
	if len(lockSet) == 0 {
		return nil
	}
	out := make([]EntityId, 0, len(lockSet))
	seen := make(map[EntityId]struct{}, len(lockSet))
	for _, id := range lockSet {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Less(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// IsSortedLockSet reports whether lockSet already satisfies the
// canonical order and contains no duplicates.
func IsSortedLockSet(lockSet []EntityId) bool {
	for i := 1; i < len(lockSet); i++ {
		if !lockSet[i-1].Less(lockSet[i]) {
			return false
		}
	}
	return true
}
