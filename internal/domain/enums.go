package domain

// SkipMarker is the value an operator enters into every key field of a record
// to mark it as deliberately not discussed.
const SkipMarker = "---"

// RTIndication is the radiotherapy-indication flag of a record.
// Values other than the two constants are preserved as entered.
type RTIndication string

const (
	RTIndicationYes RTIndication = "yes"
	RTIndicationNo  RTIndication = "no"
)

func (r RTIndication) String() string { return string(r) }

func (r RTIndication) IsValid() bool {
	switch r {
	case RTIndicationYes, RTIndicationNo:
		return true
	}
	return false
}

// CallPriority is the scheduling category of a patient with an indication.
// Unrecognized free text is kept as-is and is not a valid category.
type CallPriority string

const (
	CallPriorityUrgent  CallPriority = "urgent"
	CallPrioritySoon    CallPriority = "soon"
	CallPriorityRoutine CallPriority = "routine"
)

// CallPriorities lists the fixed categories in ledger order.
var CallPriorities = []CallPriority{CallPriorityUrgent, CallPrioritySoon, CallPriorityRoutine}

func (c CallPriority) String() string { return string(c) }

// IsKnown reports whether c is one of the fixed categories.
func (c CallPriority) IsKnown() bool {
	switch c {
	case CallPriorityUrgent, CallPrioritySoon, CallPriorityRoutine:
		return true
	}
	return false
}

// RecordStatus is the completeness marker shown for a record during editing.
type RecordStatus string

const (
	RecordStatusNormal    RecordStatus = "normal"
	RecordStatusCompleted RecordStatus = "completed"
	RecordStatusSkipped   RecordStatus = "skipped"
)

func (s RecordStatus) String() string { return string(s) }

// RestoreChoice is the operator's answer when a stale snapshot is found.
type RestoreChoice string

const (
	RestoreContinue RestoreChoice = "continue"
	RestoreDiscard  RestoreChoice = "discard"
)

func (c RestoreChoice) String() string { return string(c) }

func (c RestoreChoice) IsValid() bool {
	switch c {
	case RestoreContinue, RestoreDiscard:
		return true
	}
	return false
}
