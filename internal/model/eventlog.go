package model

import (
	"fmt"
	"slices"
)

// EventKind classifies an EventLog entry.
type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
	EventProperty
	EventTxStarted
	EventTxEnded
)

// Entry is one recorded event.
type Entry struct {
	Kind   EventKind
	Source string // path of the object that fired the event
	Detail string
}

func (e Entry) String() string {
	switch e.Kind {
	case EventAdded:
		return "+ " + e.Source + " " + e.Detail
	case EventRemoved:
		return "- " + e.Source + " " + e.Detail
	case EventProperty:
		return "~ " + e.Source + " " + e.Detail
	default:
		return "# " + e.Source + " " + e.Detail
	}
}

// EventLog records every event fired in a subtree. It follows children as
// they are added and removed.
type EventLog struct {
	root    Object
	nodes   []Object
	entries []Entry
}

// Watch starts recording the events of root and all its descendants.
func Watch(root Object) *EventLog {
	l := &EventLog{root: root}
	l.follow(root)
	return l
}

// Close stops recording.
func (l *EventLog) Close() {
	for _, o := range l.nodes {
		o.node().RemoveListener(l)
	}
	l.nodes = nil
}

func (l *EventLog) follow(o Object) {
	if slices.Contains(l.nodes, o) {
		return
	}
	l.nodes = append(l.nodes, o)
	o.node().AddListener(l)
	for _, c := range o.Children() {
		l.follow(c)
	}
}

func (l *EventLog) unfollow(o Object) {
	for _, c := range o.Children() {
		l.unfollow(c)
	}
	if i := slices.Index(l.nodes, o); i >= 0 {
		l.nodes = slices.Delete(l.nodes, i, i+1)
		o.node().RemoveListener(l)
	}
}

// Entries returns the recorded events in firing order.
func (l *EventLog) Entries() []Entry { return slices.Clone(l.entries) }

// Structural returns the number of recorded child additions and removals.
func (l *EventLog) Structural() int {
	n := 0
	for _, e := range l.entries {
		if e.Kind == EventAdded || e.Kind == EventRemoved {
			n++
		}
	}
	return n
}

// Properties returns the number of recorded property changes.
func (l *EventLog) Properties() int {
	n := 0
	for _, e := range l.entries {
		if e.Kind == EventProperty {
			n++
		}
	}
	return n
}

// Reset drops the recorded events and keeps following.
func (l *EventLog) Reset() { l.entries = nil }

func (l *EventLog) ChildAdded(e ChildEvent) {
	if !e.Move {
		l.follow(e.Child)
	}
	l.entries = append(l.entries, Entry{
		Kind:   EventAdded,
		Source: Path(e.Source),
		Detail: fmt.Sprintf("%s %s at %d", e.Kind, e.Child.Name(), e.Index),
	})
}

func (l *EventLog) ChildRemoved(e ChildEvent) {
	if !e.Move {
		l.unfollow(e.Child)
	}
	l.entries = append(l.entries, Entry{
		Kind:   EventRemoved,
		Source: Path(e.Source),
		Detail: fmt.Sprintf("%s %s at %d", e.Kind, e.Child.Name(), e.Index),
	})
}

func (l *EventLog) PropertyChanged(e PropertyEvent) {
	l.entries = append(l.entries, Entry{
		Kind:   EventProperty,
		Source: Path(e.Source),
		Detail: fmt.Sprintf("%s: %v -> %v", e.Property, e.OldValue, e.NewValue),
	})
}

func (l *EventLog) TransactionStarted(e TransactionEvent) {
	l.entries = append(l.entries, Entry{Kind: EventTxStarted, Source: Path(e.Source), Detail: "begin " + e.Message})
}

func (l *EventLog) TransactionEnded(e TransactionEvent) {
	detail := "commit " + e.Message
	if e.State == TxRolledBack {
		detail = "rollback " + e.Message
	}
	l.entries = append(l.entries, Entry{Kind: EventTxEnded, Source: Path(e.Source), Detail: detail})
}
