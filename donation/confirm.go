package donation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/sirupsen/logrus"
)

// confirmCandidates bounds how many recent pending rows a confirmation may
// try after losing races on newer ones.
const confirmCandidates = 5

type ConfirmResult struct {
	Success          bool   `json:"success"`
	RequestID        string `json:"requestId"`
	ReferenceID      string `json:"referenceId"`
	AlreadyConfirmed bool   `json:"alreadyConfirmed"`
}

// Confirmer handles the donor's return from JustGiving, whose exit URL
// carries only the processor's donation id. The id is attached to the most
// recent pending JustGiving request that has none yet.
type Confirmer struct {
	store  Store
	now    func() time.Time
	logger *logrus.Logger
}

func NewConfirmer(store Store, logger *logrus.Logger) *Confirmer {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Confirmer{store: store, now: time.Now, logger: logger}
}

// Confirm is idempotent: a repeated id reports AlreadyConfirmed and writes nothing.
func (c *Confirmer) Confirm(ctx context.Context, externalDonationID string) (*ConfirmResult, error) {
	externalDonationID = strings.TrimSpace(externalDonationID)
	if externalDonationID == "" {
		return nil, newValidationError("externalDonationId", "is required")
	}
	if len(externalDonationID) > 64 {
		return nil, newValidationError("externalDonationId", "must be at most 64 characters")
	}

	if existing, err := c.store.FindByExternalID(ctx, externalDonationID); err == nil {
		return alreadyConfirmed(existing), nil
	} else if !IsNotFound(err) {
		return nil, err
	}

	candidates, err := c.store.RecentPendingWithoutExternal(ctx, models.PlatformJustGiving, confirmCandidates)
	if err != nil {
		return nil, err
	}
	for _, cand := range candidates {
		err := c.store.MarkSuccess(ctx, cand.ID, externalDonationID, models.ConfirmedViaConfirmation, c.now().UTC())
		switch {
		case err == nil:
			c.logger.WithFields(logrus.Fields{
				"request_id":           cand.ID,
				"reference_id":         cand.ReferenceId,
				"external_donation_id": externalDonationID,
			}).Info("donation confirmed on return")
			return &ConfirmResult{Success: true, RequestID: cand.ID, ReferenceID: cand.ReferenceId}, nil
		case errors.Is(err, ErrAlreadyResolved):
			continue
		case errors.Is(err, ErrExternalIDConflict):
			// a concurrent confirmation with the same id won
			existing, ferr := c.store.FindByExternalID(ctx, externalDonationID)
			if ferr != nil {
				return nil, ferr
			}
			return alreadyConfirmed(existing), nil
		default:
			return nil, err
		}
	}
	return nil, &NotFoundError{Resource: "pending donation request", ID: ""}
}

func alreadyConfirmed(req *models.DonationRequest) *ConfirmResult {
	return &ConfirmResult{
		Success:          true,
		RequestID:        req.ID,
		ReferenceID:      req.ReferenceId,
		AlreadyConfirmed: true,
	}
}
