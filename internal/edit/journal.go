package edit

import "time"

// Action names a step in the life of a change queue.
type Action string

const (
	ActionFlush    Action = "flush"
	ActionUndo     Action = "undo"
	ActionRedo     Action = "redo"
	ActionComplete Action = "complete"
	ActionFail     Action = "fail"
)

// Entry is one journal record.
type Entry struct {
	Time    time.Time `json:"time"`
	Owner   string    `json:"owner"`
	Action  Action    `json:"action"`
	Kind    string    `json:"kind"`
	Volume  int       `json:"volume"`
	Applied int       `json:"applied,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Journal records edit activity. Record must not block the caller for long.
type Journal interface {
	Record(entry Entry)
}

func record(j Journal, owner string, action Action, q ChangeQueue, err error) {
	if j == nil {
		return
	}
	j.Record(newEntry(owner, action, q, err))
}

// newEntry reads q's counters, so callers must own q: the scheduler while it
// performs, or an editor before q enters its pending FIFO.
func newEntry(owner string, action Action, q ChangeQueue, err error) Entry {
	entry := Entry{
		Time:    time.Now().UTC(),
		Owner:   owner,
		Action:  action,
		Kind:    q.Kind(),
		Volume:  q.Volume(),
		Applied: q.Applied(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}
