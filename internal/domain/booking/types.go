package booking

type Status string

const (
	StatusTentative Status = "tentative"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "noshow"
	StatusCompleted Status = "completed"
)

// transitions is the full status graph. Terminal states have no entry.
// noshow is reachable only from confirmed; promoting a tentative booking
// straight to completed is deliberately not allowed.
var transitions = map[Status][]Status{
	StatusTentative: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusNoShow, StatusCompleted},
	StatusNoShow:    {StatusCompleted},
}

func (s Status) String() string {
	return string(s)
}

func (s Status) IsValid() bool {
	switch s {
	case StatusTentative, StatusConfirmed, StatusCancelled, StatusNoShow, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type ChangeType string

const (
	ChangeCreated     ChangeType = "created"
	ChangeConfirmed   ChangeType = "confirmed"
	ChangeCancelled   ChangeType = "cancelled"
	ChangeRescheduled ChangeType = "rescheduled"
	ChangeNoShow      ChangeType = "noshow"
	ChangeCompleted   ChangeType = "completed"
	ChangeModified    ChangeType = "modified"
)

// ChangeTypeFor maps a target status to the audit change type recorded for
// the transition into it.
func ChangeTypeFor(to Status) ChangeType {
	switch to {
	case StatusConfirmed:
		return ChangeConfirmed
	case StatusCancelled:
		return ChangeCancelled
	case StatusNoShow:
		return ChangeNoShow
	case StatusCompleted:
		return ChangeCompleted
	default:
		return ChangeModified
	}
}

type CancelReason string

const (
	CancelReasonCustomerRequest     CancelReason = "customer_request"
	CancelReasonNoShow              CancelReason = "no_show"
	CancelReasonResourceUnavailable CancelReason = "resource_unavailable"
	CancelReasonExpired             CancelReason = "expired"
	CancelReasonOther               CancelReason = "other"
)

func (r CancelReason) IsValid() bool {
	switch r {
	case CancelReasonCustomerRequest, CancelReasonNoShow, CancelReasonResourceUnavailable,
		CancelReasonExpired, CancelReasonOther:
		return true
	default:
		return false
	}
}

func (r CancelReason) String() string {
	return string(r)
}
