package entity

import "maps"

// Tracked carries the last persisted encoded field mapping of an entity.
// Embed it in mapped structs to enable dirty checking on Save.
type Tracked struct {
	snapshot map[string]string
}

type trackable interface {
	trackedState() *Tracked
}

func (t *Tracked) trackedState() *Tracked { return t }

// Snapshot returns a copy of the last persisted encoded mapping, or nil if
// the entity was never loaded or saved.
func (t *Tracked) Snapshot() map[string]string {
	if t.snapshot == nil {
		return nil
	}
	return maps.Clone(t.snapshot)
}

// Loaded reports whether the entity has a persisted snapshot.
func (t *Tracked) Loaded() bool {
	return t.snapshot != nil
}

func (t *Tracked) reset(values map[string]string) {
	t.snapshot = maps.Clone(values)
}
