package api

import (
	"encoding/json"
	"fmt"
)

// EventKind classifies handle events.
type EventKind int

const (
	// EventUnknown marks kinds this client does not recognise.
	EventUnknown EventKind = iota
	// EventLockAcquired reports that some holder acquired the lock on the node.
	EventLockAcquired
	// EventLockReleased reports that the lock on the node was released.
	EventLockReleased
	// EventLockGranted reports that a pending lock request from this handle was granted.
	EventLockGranted
	// EventLockRevoked reports that a lock held through this handle was revoked.
	EventLockRevoked
	// EventNotify carries an application notification.
	EventNotify
	// EventAttrSet reports an attribute write on the node.
	EventAttrSet
	// EventAttrDel reports an attribute delete on the node.
	EventAttrDel
	// EventChildNodeAdded reports a child node creation.
	EventChildNodeAdded
	// EventChildNodeRemoved reports a child node removal.
	EventChildNodeRemoved
	// EventHandleInvalidated reports that the master invalidated the handle.
	EventHandleInvalidated
)

var eventKindNames = map[EventKind]string{
	EventUnknown:           "unknown",
	EventLockAcquired:      "lock_acquired",
	EventLockReleased:      "lock_released",
	EventLockGranted:       "lock_granted",
	EventLockRevoked:       "lock_revoked",
	EventNotify:            "notify",
	EventAttrSet:           "attr_set",
	EventAttrDel:           "attr_del",
	EventChildNodeAdded:    "child_node_added",
	EventChildNodeRemoved:  "child_node_removed",
	EventHandleInvalidated: "handle_invalidated",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseEventKind maps a wire name to its EventKind. Unrecognised names yield EventUnknown.
func ParseEventKind(name string) EventKind {
	for kind, candidate := range eventKindNames {
		if candidate == name {
			return kind
		}
	}
	return EventUnknown
}

// MarshalJSON encodes the kind by name.
func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts either the wire name or the numeric value.
func (k *EventKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*k = ParseEventKind(name)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("api: invalid event kind %s", string(data))
	}
	if _, ok := eventKindNames[EventKind(n)]; !ok {
		*k = EventUnknown
		return nil
	}
	*k = EventKind(n)
	return nil
}
