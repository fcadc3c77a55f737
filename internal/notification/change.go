package notification

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Collection identifies a watched document collection.
type Collection string

const (
	EventsCollection    Collection = "events"
	BulletinsCollection Collection = "bulletins"
)

// ChangeKind is the type of mutation observed on a document.
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// ParseChangeKind accepts the lower-case names produced by String as well as
// the SQL operation names emitted by database triggers.
func ParseChangeKind(s string) (ChangeKind, error) {
	switch strings.ToLower(s) {
	case "added", "insert":
		return Added, nil
	case "modified", "update":
		return Modified, nil
	case "removed", "delete":
		return Removed, nil
	}
	return 0, fmt.Errorf("unknown change kind %q", s)
}

func (k ChangeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *ChangeKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseChangeKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Record holds the fields of a document as delivered by the feed.
type Record map[string]any

// Change is a single observed mutation on a watched collection.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	DocumentID string     `json:"id,omitempty"`
	Record     Record     `json:"record"`
}

// Batch is the group of changes delivered by one feed read.
type Batch struct {
	Changes []Change `json:"changes"`
}
