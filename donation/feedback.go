package donation

import (
	"context"
	"time"

	"github.com/poweredbydonation/pbd_backend/models"
)

type FeedbackDecision string

const (
	FeedbackAcknowledge FeedbackDecision = "acknowledge"
	FeedbackDispute     FeedbackDecision = "dispute"
)

func (d FeedbackDecision) target() (models.DonationRequestStatus, bool) {
	switch d {
	case FeedbackAcknowledge:
		return models.DonationRequestStatusAcknowledged, true
	case FeedbackDispute:
		return models.DonationRequestStatusDisputed, true
	default:
		return "", false
	}
}

// Feedback records the fundraiser's decision on a row awaiting review.
// Only the owning fundraiser (or an admin) may decide.
func Feedback(ctx context.Context, store Store, requestID, actorID string, isAdmin bool, decision FeedbackDecision, at time.Time) (*models.DonationRequest, error) {
	to, ok := decision.target()
	if !ok {
		return nil, newValidationError("decision", "must be one of acknowledge dispute")
	}
	req, err := store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && req.FundraiserId != actorID {
		return nil, ErrForbidden
	}
	if !req.Status.CanTransitionTo(to) {
		return nil, ErrInvalidTransition
	}
	if err := store.Transition(ctx, req.ID, req.Status, to, at); err != nil {
		return nil, err
	}
	return store.Get(ctx, req.ID)
}
