package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DonationRequest is an intended donation handed to an external processor.
// Rows are never deleted; they double as the audit trail.
type DonationRequest struct {
	ID                 string                `gorm:"primary_key;size:36" json:"id"`
	ReferenceId        string                `gorm:"size:64;not null;uniqueIndex;index:idx_donation_requests_poll,priority:2" json:"reference_id"`
	DonorId            string                `gorm:"size:64;not null;index" json:"donor_id"`
	FundraiserId       string                `gorm:"size:64;not null;index" json:"fundraiser_id"`
	ServiceId          string                `gorm:"size:64;not null;index" json:"service_id"`
	Platform           Platform              `gorm:"size:20;not null" json:"platform"`
	OrganizationId     string                `gorm:"size:64;not null" json:"organization_id"`
	OrganizationName   string                `gorm:"size:255;not null" json:"organization_name"`
	DonationAmount     decimal.Decimal       `gorm:"type:decimal(20,4);not null" json:"donation_amount"`
	Currency           string                `gorm:"size:3;not null" json:"currency"`
	DonationUrl        string                `gorm:"type:text;not null" json:"donation_url"`
	Status             DonationRequestStatus `gorm:"size:32;not null;index:idx_donation_requests_poll,priority:1" json:"status"`
	ExternalDonationId *string               `gorm:"size:64;uniqueIndex" json:"external_donation_id"`
	ConfirmedVia       *ConfirmationSource   `gorm:"size:20" json:"confirmed_via"`
	ReviewReason       *ReviewReason         `gorm:"size:20" json:"review_reason"`
	TimeoutAt          time.Time             `gorm:"not null" json:"timeout_at"`
	ResolvedAt         *time.Time            `json:"resolved_at"`
	CreatedAt          time.Time             `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *DonationRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (r *DonationRequest) IsPending() bool {
	return r.Status == DonationRequestStatusPending
}

// Expired reports whether a still-pending request has passed its deadline.
func (r *DonationRequest) Expired(now time.Time) bool {
	return r.IsPending() && now.After(r.TimeoutAt)
}
