package services

import "dispatch-backend/models"

var forwardEdges = map[models.RequestStatus][]models.RequestStatus{
	models.StatusPending:       {models.StatusPricingReview, models.StatusRouted, models.StatusAccepted},
	models.StatusPricingReview: {models.StatusPending, models.StatusRouted},
	models.StatusRouted:        {models.StatusAccepted},
	models.StatusAccepted:      {models.StatusInProgress},
	models.StatusInProgress:    {models.StatusCompleted},
	models.StatusCompleted:     {models.StatusClosed},
	models.StatusEscalated:     {models.StatusInProgress, models.StatusCompleted, models.StatusDisputed},
	models.StatusDisputed:      {models.StatusInProgress, models.StatusCompleted, models.StatusEscalated},
}

// Side exits are open from every non-terminal status.
var sideExits = []models.RequestStatus{models.StatusCancelled, models.StatusEscalated, models.StatusDisputed}

// systemTargets are entered only by the engines, never by updateStatus.
var systemTargets = map[models.RequestStatus]bool{
	models.StatusPending:       true,
	models.StatusPricingReview: true,
	models.StatusRouted:        true,
}

// closableByProof lists where a verified close code may close from.
var closableByProof = map[models.RequestStatus]bool{
	models.StatusAccepted:   true,
	models.StatusInProgress: true,
	models.StatusCompleted:  true,
}

func IsTerminal(s models.RequestStatus) bool {
	return s == models.StatusClosed || s == models.StatusCancelled
}

func IsKnownStatus(s models.RequestStatus) bool {
	for _, st := range models.AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to models.RequestStatus) bool {
	if IsTerminal(from) || from == to {
		return false
	}
	for _, s := range forwardEdges[from] {
		if s == to {
			return true
		}
	}
	for _, s := range sideExits {
		if s == to {
			return true
		}
	}
	return false
}

// timestampColumn is the column stamped on entering s.
func timestampColumn(s models.RequestStatus) string {
	switch s {
	case models.StatusPricingReview:
		return "priced_at"
	case models.StatusRouted:
		return "routed_at"
	case models.StatusAccepted:
		return "accepted_at"
	case models.StatusInProgress:
		return "in_progress_at"
	case models.StatusCompleted:
		return "completed_at"
	case models.StatusCancelled:
		return "cancelled_at"
	case models.StatusEscalated:
		return "escalated_at"
	case models.StatusDisputed:
		return "disputed_at"
	case models.StatusClosed:
		return "closed_at"
	}
	return ""
}

func reasonColumn(s models.RequestStatus) string {
	switch s {
	case models.StatusCancelled:
		return "cancellation_reason"
	case models.StatusEscalated:
		return "escalation_reason"
	case models.StatusDisputed:
		return "dispute_reason"
	}
	return ""
}

// requiresFulfiller lists targets only the assigned fulfiller may enter.
func requiresFulfiller(s models.RequestStatus) bool {
	switch s {
	case models.StatusAccepted, models.StatusInProgress, models.StatusCompleted, models.StatusClosed:
		return true
	}
	return false
}
