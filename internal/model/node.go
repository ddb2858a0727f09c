// Package model is the in-memory, mutable model of a relational schema:
// databases, catalogs, schemas, tables, columns, indexes and foreign keys.
//
// Every entity embeds Node, which provides the owned-tree parent pointer,
// lazy population, synchronous event broadcast, compound-edit transactions
// and the "magic" switch that suspends reactive listeners during bulk edits.
// Edits made through the typed mutators keep the model consistent: primary
// keys are renumbered and their index rebuilt, foreign keys follow the
// primary keys they mirror, and indexes drop columns that leave their table.
//
// The model is not safe for concurrent mutation; callers serialize edits of
// one tree. Population of catalogs and schemas is serialized per Database.
package model

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"schemamodel/internal/logger"
)

// Object is implemented by every node of the schema tree.
type Object interface {
	node() *Node

	ID() uuid.UUID
	Name() string
	Parent() Object
	IsPopulated() bool

	// Children returns the children of every typed slot, in slot order.
	Children() []Object

	// Dependencies returns the objects this one refers to without owning.
	Dependencies() []Object

	// RemoveDependency drops this object's reference to dep, removing the
	// object itself when it cannot exist without dep.
	RemoveDependency(dep Object) error
}

// Node holds the state shared by every object of the tree.
type Node struct {
	self         Object
	id           uuid.UUID
	parent       Object
	name         string
	physicalName string

	populated   bool
	populateErr error

	listeners []Listener
	magicOff  int

	txDepth      int
	txRolledBack bool
	txMessage    string
}

func (n *Node) init(self Object, name string, populated bool) {
	n.self = self
	n.id = uuid.New()
	n.name = name
	n.populated = populated
}

func (n *Node) node() *Node { return n }

// ID returns the stable identifier of the object.
func (n *Node) ID() uuid.UUID { return n.id }

func (n *Node) Name() string { return n.name }

func (n *Node) SetName(name string) {
	setProp(n, &n.name, name, PropName)
}

// PhysicalName returns the name used in the database, defaulting to Name.
func (n *Node) PhysicalName() string {
	if n.physicalName == "" {
		return n.name
	}
	return n.physicalName
}

func (n *Node) SetPhysicalName(name string) {
	setProp(n, &n.physicalName, name, PropPhysicalName)
}

// Parent returns the owning node, or nil at the root.
func (n *Node) Parent() Object { return n.parent }

func (n *Node) IsPopulated() bool { return n.populated }

// PopulateError returns the sticky failure of the last populate, if any.
func (n *Node) PopulateError() error { return n.populateErr }

func (n *Node) setPopulated(populated bool) {
	if n.populated == populated {
		return
	}
	n.populated = populated
	n.firePropertyChanged(PropPopulated, !populated, populated)
}

// AddListener registers l for the events of this node.
func (n *Node) AddListener(l Listener) {
	if slices.Contains(n.listeners, l) {
		return
	}
	n.listeners = append(n.listeners, l)
}

func (n *Node) RemoveListener(l Listener) {
	if i := slices.Index(n.listeners, l); i >= 0 {
		n.listeners = slices.Delete(n.listeners, i, i+1)
	}
}

// Listeners returns a copy of the registered listeners.
func (n *Node) Listeners() []Listener {
	return slices.Clone(n.listeners)
}

// Suspension is a scoped hold on a node's magic. Release is idempotent.
type Suspension struct {
	n        *Node
	released bool
}

func (s *Suspension) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true
	s.n.magicOff--
}

// SuspendMagic disables reactive listeners for this node and its subtree
// until the returned Suspension is released. Suspensions nest.
func (n *Node) SuspendMagic() *Suspension {
	n.magicOff++
	return &Suspension{n: n}
}

// IsMagicEnabled reports whether reactive listeners may run for events of
// this node: no suspension is held on it or on any ancestor.
func (n *Node) IsMagicEnabled() bool {
	for o := Object(n.self); o != nil; o = o.Parent() {
		if o.node().magicOff > 0 {
			return false
		}
	}
	return true
}

// Begin opens a compound edit. Nested calls join the outermost one; only
// the outermost Begin and its matching Commit or Rollback fire events.
func (n *Node) Begin(message string) {
	n.txDepth++
	if n.txDepth > 1 {
		return
	}
	n.txRolledBack = false
	n.txMessage = message
	e := TransactionEvent{Source: n.self, Message: message, State: TxStarted}
	for _, l := range slices.Clone(n.listeners) {
		l.TransactionStarted(e)
	}
}

// Commit closes the innermost compound edit.
func (n *Node) Commit() error {
	return n.endTx(false)
}

// Rollback closes the innermost compound edit and marks the whole compound
// edit as rolled back.
func (n *Node) Rollback(reason string) error {
	logger.Debug("rollback on %s: %s", Path(n.self), reason)
	return n.endTx(true)
}

func (n *Node) InTransaction() bool { return n.txDepth > 0 }

func (n *Node) endTx(rollback bool) error {
	if n.txDepth == 0 {
		return ErrNoTransaction
	}
	if rollback {
		n.txRolledBack = true
	}
	n.txDepth--
	if n.txDepth > 0 {
		return nil
	}
	state := TxCommitted
	if n.txRolledBack {
		state = TxRolledBack
	}
	e := TransactionEvent{Source: n.self, Message: n.txMessage, State: state}
	for _, l := range slices.Clone(n.listeners) {
		l.TransactionEnded(e)
	}
	return nil
}

func (n *Node) fireChildAdded(kind ChildKind, child Object, index int, move bool) {
	e := ChildEvent{Source: n.self, Kind: kind, Child: child, Index: index, Move: move}
	for _, l := range slices.Clone(n.listeners) {
		l.ChildAdded(e)
	}
}

func (n *Node) fireChildRemoved(kind ChildKind, child Object, index int, move bool) {
	e := ChildEvent{Source: n.self, Kind: kind, Child: child, Index: index, Move: move}
	for _, l := range slices.Clone(n.listeners) {
		l.ChildRemoved(e)
	}
}

// allowRemove asks every Vetoer; a single refusal cancels the removal.
func (n *Node) allowRemove(kind ChildKind, child Object, index int) bool {
	e := ChildEvent{Source: n.self, Kind: kind, Child: child, Index: index}
	for _, l := range slices.Clone(n.listeners) {
		if v, ok := l.(Vetoer); ok && !v.AllowRemove(e) {
			return false
		}
	}
	return true
}

func (n *Node) firePropertyChanged(prop string, oldValue, newValue any) {
	e := PropertyEvent{Source: n.self, Property: prop, OldValue: oldValue, NewValue: newValue}
	for _, l := range slices.Clone(n.listeners) {
		l.PropertyChanged(e)
	}
}

// setProp assigns v to *field and fires a property event when it changed.
func setProp[T comparable](n *Node, field *T, v T, prop string) bool {
	if *field == v {
		return false
	}
	old := *field
	*field = v
	n.firePropertyChanged(prop, old, v)
	return true
}

func indexOfChild[T Object](slot []T, child T) int {
	for i, c := range slot {
		if c.node() == child.node() {
			return i
		}
	}
	return -1
}

// insertChild puts child into slot at pos and makes n its parent.
func insertChild[T Object](n *Node, slot *[]T, kind ChildKind, child T, pos int) error {
	c := child.node()
	if c.parent != nil {
		return fmt.Errorf("%w: %s %q already belongs to %q", ErrIllegalChild, kind, c.name, c.parent.Name())
	}
	if c == n {
		return fmt.Errorf("%w: %s %q cannot contain itself", ErrIllegalChild, kind, c.name)
	}
	if pos < 0 || pos > len(*slot) {
		pos = len(*slot)
	}
	*slot = slices.Insert(*slot, pos, child)
	c.parent = n.self
	n.fireChildAdded(kind, child, pos, false)
	return nil
}

// removeChild takes child out of slot. Listeners may veto the removal when
// vetoable is set.
func removeChild[T Object](n *Node, slot *[]T, kind ChildKind, child T, vetoable bool) error {
	i := indexOfChild(*slot, child)
	if i < 0 {
		return fmt.Errorf("%w: %s %q in %q", ErrChildNotFound, kind, child.Name(), n.name)
	}
	if vetoable && !n.allowRemove(kind, child, i) {
		return fmt.Errorf("%w: %s %q from %q", ErrRemovalVetoed, kind, child.Name(), n.name)
	}
	*slot = slices.Delete(*slot, i, i+1)
	child.node().parent = nil
	n.fireChildRemoved(kind, child, i, false)
	return nil
}

// moveChild repositions a child, reported as a removal followed by an insert.
func moveChild[T Object](n *Node, slot *[]T, kind ChildKind, from, to int) {
	if from == to {
		return
	}
	child := (*slot)[from]
	*slot = slices.Delete(*slot, from, from+1)
	n.fireChildRemoved(kind, child, from, true)
	if to > len(*slot) {
		to = len(*slot)
	}
	*slot = slices.Insert(*slot, to, child)
	n.fireChildAdded(kind, child, to, true)
}

func toObjects[T Object](slot []T) []Object {
	out := make([]Object, len(slot))
	for i, c := range slot {
		out[i] = c
	}
	return out
}

// population is the once-only, sticky state of one lazily fetched slot.
type population struct {
	done    bool
	running bool
	err     error
}

func (p *population) run(ctx context.Context, o Object, op string, fetch func(context.Context) error) error {
	if p.done || p.running {
		return nil
	}
	p.running = true
	err := safeFetch(ctx, fetch)
	p.running = false
	p.done = true
	if err != nil {
		p.err = &PopulateError{Path: Path(o), Op: op, Err: err}
		logger.Error("%v", p.err)
		return p.err
	}
	logger.Debug("populated %s of %s", op, Path(o))
	return nil
}

func safeFetch(ctx context.Context, fetch func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected error: %v", r)
		}
	}()
	return fetch(ctx)
}

// Path returns the slash separated names from the root to o.
func Path(o Object) string {
	var parts []string
	for ; o != nil; o = o.Parent() {
		parts = append(parts, o.Name())
	}
	slices.Reverse(parts)
	return strings.Join(parts, "/")
}

// Root returns the topmost ancestor of o.
func Root(o Object) Object {
	for o != nil && o.Parent() != nil {
		o = o.Parent()
	}
	return o
}

// KeySeq returns a primary key sequence value for SetPrimaryKeySeq.
func KeySeq(seq int) *int {
	return &seq
}
