package domain

// EvaluateStatus classifies a record for the editing view. It depends only on
// the record's content.
//
//   - skipped:   radiotherapy indication, call priority and remarks all hold SkipMarker
//   - completed: MissingFields is empty
//   - normal:    anything else
func EvaluateStatus(r *PatientRecord) RecordStatus {
	if isSkipped(r) {
		return RecordStatusSkipped
	}
	if len(MissingFields(r)) == 0 {
		return RecordStatusCompleted
	}
	return RecordStatusNormal
}

// MissingFields lists the columns that keep r from being complete.
// Radiotherapy indication and remarks are always required; call priority
// and case priority are required when the indication is yes.
func MissingFields(r *PatientRecord) []Column {
	var missing []Column

	switch {
	case r.RTIndication == nil || *r.RTIndication == SkipMarker:
		missing = append(missing, ColRTIndication)
	case *r.RTIndication == RTIndicationYes:
		if r.CallPriority == nil || *r.CallPriority == SkipMarker {
			missing = append(missing, ColCallPriority)
		}
		if r.CasePriority == nil {
			missing = append(missing, ColCasePriority)
		}
	}

	if r.Remarks == nil || *r.Remarks == SkipMarker {
		missing = append(missing, ColRemarks)
	}
	return missing
}

// BlocksFinalization reports whether r keeps its session from being
// finalized. Skipped and incomplete records block alike; the distinction is
// kept only in the status marker.
func BlocksFinalization(r *PatientRecord) bool {
	return EvaluateStatus(r) != RecordStatusCompleted
}

func isSkipped(r *PatientRecord) bool {
	return r.RTIndication != nil && string(*r.RTIndication) == SkipMarker &&
		r.CallPriority != nil && string(*r.CallPriority) == SkipMarker &&
		r.Remarks != nil && *r.Remarks == SkipMarker
}
