package model

// ChildKind names the typed child slot an event refers to.
type ChildKind int

const (
	KindCatalog ChildKind = iota
	KindSchema
	KindTable
	KindColumn
	KindIndex
	KindExportedKey
	KindImportedKey
	KindIndexColumn
	KindColumnMapping
)

func (k ChildKind) String() string {
	switch k {
	case KindCatalog:
		return "catalog"
	case KindSchema:
		return "schema"
	case KindTable:
		return "table"
	case KindColumn:
		return "column"
	case KindIndex:
		return "index"
	case KindExportedKey:
		return "exported key"
	case KindImportedKey:
		return "imported key"
	case KindIndexColumn:
		return "index column"
	case KindColumnMapping:
		return "column mapping"
	default:
		return "unknown"
	}
}

// Property names carried by PropertyEvent.
const (
	PropName           = "name"
	PropPhysicalName   = "physicalName"
	PropPopulated      = "populated"
	PropType           = "type"
	PropSourceType     = "sourceType"
	PropPrecision      = "precision"
	PropScale          = "scale"
	PropNullable       = "nullable"
	PropDefault        = "defaultValue"
	PropRemarks        = "remarks"
	PropPrimaryKeySeq  = "primaryKeySeq"
	PropAutoIncrement  = "autoIncrement"
	PropReferenceCount = "referenceCount"
	PropObjectType     = "objectType"
	PropUnique         = "unique"
	PropClustered      = "clustered"
	PropPrimaryKey     = "primaryKey"
	PropQualifier      = "qualifier"
	PropFilter         = "filterCondition"
	PropIndexType      = "indexType"
	PropOrder          = "order"
	PropUpdateRule     = "updateRule"
	PropDeleteRule     = "deleteRule"
	PropDeferrability  = "deferrability"
	PropIdentifying    = "identifying"
)

// ChildEvent describes a structural change of a node's typed child slot.
// A reposition is reported as a removal followed by an insert, both with
// Move set; the child keeps its parent throughout.
type ChildEvent struct {
	Source Object
	Kind   ChildKind
	Child  Object
	Index  int
	Move   bool
}

// PropertyEvent describes a change of one property of Source.
type PropertyEvent struct {
	Source   Object
	Property string
	OldValue any
	NewValue any
}

// TxState is the outcome reported by TransactionEnded.
type TxState int

const (
	TxStarted TxState = iota
	TxCommitted
	TxRolledBack
)

// TransactionEvent marks the boundary of a compound edit.
type TransactionEvent struct {
	Source  Object
	Message string
	State   TxState
}

// Listener receives every event of the nodes it is registered on. Callbacks
// run synchronously on the mutating goroutine.
type Listener interface {
	ChildAdded(e ChildEvent)
	ChildRemoved(e ChildEvent)
	PropertyChanged(e PropertyEvent)
	TransactionStarted(e TransactionEvent)
	TransactionEnded(e TransactionEvent)
}

// Vetoer is implemented by listeners that may cancel a pending removal.
// AllowRemove returning false cancels it.
type Vetoer interface {
	AllowRemove(e ChildEvent) bool
}

// ListenerFuncs adapts plain functions to Listener and Vetoer. Nil fields are
// ignored. Register a *ListenerFuncs so it can be removed again.
type ListenerFuncs struct {
	OnChildAdded         func(ChildEvent)
	OnChildRemoved       func(ChildEvent)
	OnPropertyChanged    func(PropertyEvent)
	OnTransactionStarted func(TransactionEvent)
	OnTransactionEnded   func(TransactionEvent)
	OnPreRemove          func(ChildEvent) bool
}

func (l *ListenerFuncs) ChildAdded(e ChildEvent) {
	if l.OnChildAdded != nil {
		l.OnChildAdded(e)
	}
}

func (l *ListenerFuncs) ChildRemoved(e ChildEvent) {
	if l.OnChildRemoved != nil {
		l.OnChildRemoved(e)
	}
}

func (l *ListenerFuncs) PropertyChanged(e PropertyEvent) {
	if l.OnPropertyChanged != nil {
		l.OnPropertyChanged(e)
	}
}

func (l *ListenerFuncs) TransactionStarted(e TransactionEvent) {
	if l.OnTransactionStarted != nil {
		l.OnTransactionStarted(e)
	}
}

func (l *ListenerFuncs) TransactionEnded(e TransactionEvent) {
	if l.OnTransactionEnded != nil {
		l.OnTransactionEnded(e)
	}
}

func (l *ListenerFuncs) AllowRemove(e ChildEvent) bool {
	if l.OnPreRemove != nil {
		return l.OnPreRemove(e)
	}
	return true
}
