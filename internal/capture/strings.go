package capture

import "fmt"

// StringID references an interned string in a StringTable.
type StringID uint32

// NoString marks an absent string reference in container records.
const NoString StringID = 0xFFFFFFFF

// StringTable deduplicates path and name strings referenced by index.
// Append-only during decode, read-only afterwards; it outlives every event
// that references it for the duration of one analysis.
type StringTable struct {
	ids  map[string]StringID
	vals []string
}

func NewStringTable() *StringTable {
	return &StringTable{ids: make(map[string]StringID)}
}

// Intern returns the id for the given bytes, adding them if unseen.
// Identical byte sequences always map to the same id.
func (t *StringTable) Intern(raw []byte) StringID {
	if id, ok := t.ids[string(raw)]; ok {
		return id
	}
	id := StringID(len(t.vals))
	s := string(raw)
	t.ids[s] = id
	t.vals = append(t.vals, s)
	return id
}

// Resolve returns the string for id. An unknown id signals decoder
// corruption and is reported as an EngineFault.
func (t *StringTable) Resolve(id StringID) (string, error) {
	if int(id) >= len(t.vals) {
		return "", &EngineFault{
			Op:     "StringTable.Resolve",
			Detail: fmt.Sprintf("unknown string id %d (table size %d)", id, len(t.vals)),
		}
	}
	return t.vals[id], nil
}

// Len reports the number of interned strings.
func (t *StringTable) Len() int { return len(t.vals) }
