package domain

// validTransitions is the single authoritative transition table for removal
// requests. A removal may only move along one of these edges; everything else
// is ErrInvalidTransition. Administrative override bypasses the table at the
// service layer, never here.
var validTransitions = map[RemovalStatus][]RemovalStatus{
	RemovalPending: {
		RemovalSubmitted,
		RemovalRequiresManual,
		RemovalFailed,
		RemovalCancelled,
		RemovalSkipped,
	},
	RemovalSubmitted: {
		RemovalInProgress,
		RemovalAcknowledged,
		RemovalCompleted,
		RemovalCancelled,
	},
	RemovalInProgress: {
		RemovalAcknowledged,
		RemovalCompleted,
		RemovalCancelled,
	},
	RemovalAcknowledged: {
		RemovalCompleted,
		RemovalCancelled,
	},
	RemovalFailed: {
		RemovalPending,
		RemovalRequiresManual,
		RemovalCancelled,
	},
	RemovalRequiresManual: {
		RemovalPending,
		RemovalCancelled,
	},
	RemovalSkipped: {
		RemovalPending,
		RemovalCancelled,
	},
	// COMPLETED and CANCELLED are terminal.
	RemovalCompleted: {},
	RemovalCancelled: {},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to RemovalStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// exposureProjection maps each removal status to the exposure status that
// must be committed in the same transaction. Keeping this as one table
// prevents the two enums drifting apart.
var exposureProjection = map[RemovalStatus]ExposureStatus{
	RemovalPending:        ExposureRemovalPending,
	RemovalSubmitted:      ExposureRemovalInProgress,
	RemovalInProgress:     ExposureRemovalInProgress,
	RemovalAcknowledged:   ExposureRemovalInProgress,
	RemovalCompleted:      ExposureRemoved,
	RemovalRequiresManual: ExposureRemovalPending,
	RemovalFailed:         ExposureRemovalPending,
	RemovalCancelled:      ExposureActive,
	RemovalSkipped:        ExposureActive,
}

// ExposureStatusFor returns the exposure status a removal status projects to.
func ExposureStatusFor(status RemovalStatus) (ExposureStatus, bool) {
	es, ok := exposureProjection[status]
	return es, ok
}
