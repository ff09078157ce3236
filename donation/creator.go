package donation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/gateway"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/poweredbydonation/pbd_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MaxReferenceAttempts bounds reference minting when inserts collide.
const MaxReferenceAttempts = 3

type CreateInput struct {
	ServiceID      string          `json:"serviceId" validate:"required,max=64"`
	DonorID        string          `json:"donorId" validate:"required,max=64"`
	FundraiserID   string          `json:"fundraiserId" validate:"required,max=64"`
	DonationAmount decimal.Decimal `json:"donationAmount" validate:"gt=0"`
	OrganizationID string          `json:"organizationId" validate:"required,max=64"`
	Platform       models.Platform `json:"platform" validate:"required,oneof=justgiving everyorg"`
}

type CreateResult struct {
	RequestID   string                       `json:"requestId"`
	ReferenceID string                       `json:"referenceId"`
	DonationURL string                       `json:"donationUrl"`
	Status      models.DonationRequestStatus `json:"status"`
}

type Creator struct {
	store      Store
	charities  CharityDirectory
	gateways   *gateway.Registry
	references ReferenceGenerator
	timeout    time.Duration
	now        func() time.Time
	logger     *logrus.Logger
}

func NewCreator(store Store, charities CharityDirectory, gateways *gateway.Registry, references ReferenceGenerator, timeout time.Duration, logger *logrus.Logger) *Creator {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Creator{
		store:      store,
		charities:  charities,
		gateways:   gateways,
		references: references,
		timeout:    timeout,
		now:        time.Now,
		logger:     logger,
	}
}

// Create records a pending donation request and returns where to send the donor.
// No row is written unless every step succeeds.
func (c *Creator) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	in.ServiceID = strings.TrimSpace(in.ServiceID)
	in.DonorID = strings.TrimSpace(in.DonorID)
	in.FundraiserID = strings.TrimSpace(in.FundraiserID)
	in.OrganizationID = strings.TrimSpace(in.OrganizationID)

	if err := utils.Validator().StructCtx(ctx, in); err != nil {
		return nil, &ValidationError{Details: utils.ValidationDetails(err)}
	}
	if !in.DonationAmount.Equal(in.DonationAmount.Truncate(2)) {
		return nil, newValidationError("donationAmount", "must have at most 2 decimal places")
	}

	gw, err := c.gateways.For(in.Platform)
	if err != nil || !c.gateways.IsLive(in.Platform) {
		return nil, newValidationError("platform", "is not accepting donations")
	}

	charity, err := c.charities.Lookup(ctx, in.Platform, in.OrganizationID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= MaxReferenceAttempts; attempt++ {
		reference, err := c.references.Generate(in.Platform)
		if err != nil {
			return nil, err
		}
		donationURL, err := gw.BuildDonationURL(in.OrganizationID, in.DonationAmount, reference)
		if err != nil {
			return nil, fmt.Errorf("build donation url: %w", err)
		}

		now := c.now().UTC()
		req := &models.DonationRequest{
			ReferenceId:      reference,
			DonorId:          in.DonorID,
			FundraiserId:     in.FundraiserID,
			ServiceId:        in.ServiceID,
			Platform:         in.Platform,
			OrganizationId:   in.OrganizationID,
			OrganizationName: charity.Name,
			DonationAmount:   in.DonationAmount,
			Currency:         gw.Currency(),
			DonationUrl:      donationURL,
			Status:           models.DonationRequestStatusPending,
			TimeoutAt:        now.Add(c.timeout),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		err = c.store.Create(ctx, req)
		if err == nil {
			c.logger.WithFields(logrus.Fields{
				"request_id":   req.ID,
				"reference_id": reference,
				"platform":     in.Platform,
				"attempt":      attempt,
			}).Info("donation request created")
			return &CreateResult{
				RequestID:   req.ID,
				ReferenceID: reference,
				DonationURL: donationURL,
				Status:      req.Status,
			}, nil
		}
		if !errors.Is(err, ErrReferenceCollision) {
			return nil, err
		}
		lastErr = err
		c.logger.WithFields(logrus.Fields{
			"reference_id": reference,
			"attempt":      attempt,
		}).Warn("reference collision, retrying")
	}
	return nil, &ReferenceGenerationError{Attempts: MaxReferenceAttempts, Err: lastErr}
}
