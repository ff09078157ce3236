package models

import (
	"encoding/json"
	"errors"
	"strings"
)

type Platform string

const (
	PlatformJustGiving Platform = "justgiving"
	PlatformEveryOrg   Platform = "everyorg"
)

var ErrInvalidPlatform = errors.New("invalid platform")

func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "justgiving":
		return PlatformJustGiving, nil
	case "everyorg", "every.org", "every_org":
		return PlatformEveryOrg, nil
	default:
		return "", ErrInvalidPlatform
	}
}

func (p Platform) String() string { return string(p) }

// ReferencePrefix tags references so they can be traced back to a processor.
func (p Platform) ReferencePrefix() string {
	switch p {
	case PlatformJustGiving:
		return "JG"
	case PlatformEveryOrg:
		return "EO"
	default:
		return "XX"
	}
}

func (p *Platform) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("platform must be string")
	}
	if str == "" {
		*p = ""
		return nil
	}
	parsed, err := ParsePlatform(str)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type DonationRequestStatus string

const (
	DonationRequestStatusPending          DonationRequestStatus = "pending"
	DonationRequestStatusSuccess          DonationRequestStatus = "success"
	DonationRequestStatusFundraiserReview DonationRequestStatus = "fundraiser_review"
	DonationRequestStatusAcknowledged     DonationRequestStatus = "acknowledged_feedback"
	DonationRequestStatusDisputed         DonationRequestStatus = "disputed_feedback"
)

func ParseDonationRequestStatus(s string) (DonationRequestStatus, error) {
	switch DonationRequestStatus(strings.ToLower(strings.TrimSpace(s))) {
	case DonationRequestStatusPending:
		return DonationRequestStatusPending, nil
	case DonationRequestStatusSuccess:
		return DonationRequestStatusSuccess, nil
	case DonationRequestStatusFundraiserReview:
		return DonationRequestStatusFundraiserReview, nil
	case DonationRequestStatusAcknowledged:
		return DonationRequestStatusAcknowledged, nil
	case DonationRequestStatusDisputed:
		return DonationRequestStatusDisputed, nil
	default:
		return "", errors.New("invalid donation request status")
	}
}

// Rank orders statuses along the lifecycle; transitions never lower it.
func (s DonationRequestStatus) Rank() int {
	switch s {
	case DonationRequestStatusPending:
		return 0
	case DonationRequestStatusSuccess, DonationRequestStatusFundraiserReview:
		return 1
	case DonationRequestStatusAcknowledged, DonationRequestStatusDisputed:
		return 2
	default:
		return -1
	}
}

// allowed forward edges; anything else needs a manual DB fix
var donationRequestTransitions = map[DonationRequestStatus][]DonationRequestStatus{
	DonationRequestStatusPending: {
		DonationRequestStatusSuccess,
		DonationRequestStatusFundraiserReview,
	},
	DonationRequestStatusFundraiserReview: {
		DonationRequestStatusAcknowledged,
		DonationRequestStatusDisputed,
	},
}

func (s DonationRequestStatus) CanTransitionTo(next DonationRequestStatus) bool {
	for _, allowed := range donationRequestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type ReviewReason string

const (
	ReviewReasonTimeout  ReviewReason = "timeout"
	ReviewReasonRejected ReviewReason = "rejected"
)

type ConfirmationSource string

const (
	ConfirmedViaPoller       ConfirmationSource = "poller"
	ConfirmedViaConfirmation ConfirmationSource = "confirmation"
)

const (
	ReconcileRunStatusRunning = "running"
	ReconcileRunStatusSuccess = "success"
	ReconcileRunStatusPartial = "partial"
	ReconcileRunStatusFailed  = "failed"
)

const (
	ReconcileTriggeredSchedule = "schedule"
	ReconcileTriggeredManual   = "manual"
	ReconcileTriggeredCLI      = "cli"
)
