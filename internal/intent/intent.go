// Package intent defines the static catalog of every (domain, type, action)
// triple the assistant recognizes, the automation tier each runs at, and the
// declarative wiring (catalog action key or notification event) a tier-2
// entry executes through.
//
// The registry is a closed, enum-keyed table built at init. Authorization
// rules derive statically from it and are cross-checked offline against the
// domain action catalog and the handler registry (see Verify), instead of
// being scattered through handler code.
package intent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownIntent is returned when a key is not in the registry. Classifier
// output is untrusted input; an unrecognized key is rejected here, never
// "best-effort" matched.
var ErrUnknownIntent = errors.New("unknown intent")

// Key is a normalized domain.type.action triple, e.g. "student.exec.discharge".
type Key string

// Domain returns the first segment of the triple.
func (k Key) Domain() string { return segment(string(k), 0) }

// Type returns the second segment of the triple.
func (k Key) Type() string { return segment(string(k), 1) }

// Action returns the third segment of the triple.
func (k Key) Action() string { return segment(string(k), 2) }

func segment(s string, i int) string {
	parts := strings.SplitN(s, ".", 3)
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}

// Level is the degree of autonomy granted to an intent.
type Level int

const (
	// LevelReadOnly executes inline with no persistence beyond audit.
	LevelReadOnly Level = 0
	// LevelApproval gates execution behind a human-approved task card.
	LevelApproval Level = 1
	// LevelDirect executes directly after an explicit user confirmation.
	LevelDirect Level = 2
)

// Class is the execution class of a direct-execute or approval-routed intent.
type Class string

const (
	ClassNone   Class = ""
	ClassNotify Class = "notify"
	ClassMutate Class = "mutate"
)

// Descriptor declares a recognized intent and its execution wiring.
//
// Class is required at LevelDirect. At LevelApproval it is optional: when
// set, an approved task card routes to the execution dispatcher; when empty,
// the card is a human to-do with no automated execution.
type Descriptor struct {
	Key   Key
	Level Level
	Class Class

	// ActionKey references the domain action catalog. Required iff the
	// descriptor carries ClassMutate.
	ActionKey string

	// EventType is the notification event emitted by a ClassNotify intent.
	// Exactly one of EventType / EventTypes must be set for notify intents.
	EventType string

	// EventTypes maps a purpose (taken from the plan's params) to an event
	// type, for notify intents serving several templates.
	EventTypes map[string]string
}

// Resolve returns the descriptor for key, or ErrUnknownIntent.
func Resolve(key Key) (Descriptor, error) {
	d, ok := registry[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownIntent, key)
	}
	return d, nil
}

// Keys returns every registered intent key, sorted.
func Keys() []Key {
	keys := make([]Key, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
