// Package gateway isolates HTTP traffic with external donation processors.
//
// Each processor gets an adapter that normalises its envelopes into the
// types below. Callers pick the adapter by models.Platform through Registry.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound means the processor has no such record (HTTP 404).
	// For donation lookups this is reported as DonationLookup{Found: false} instead.
	ErrNotFound = errors.New("gateway: not found")
	// ErrTransport matches every *TransportError via errors.Is.
	ErrTransport = errors.New("gateway: transport error")
	// ErrUnsupported is returned by adapters that cannot serve an operation yet.
	ErrUnsupported = errors.New("gateway: operation not supported for platform")
)

// TransportError covers network failures, non-2xx answers other than 404
// and undecodable bodies. State is unknown; callers retry later.
type TransportError struct {
	Platform   models.Platform
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Platform, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

type Organization struct {
	Platform    models.Platform `json:"platform"`
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	LogoURL     string          `json:"logoUrl"`
	Category    string          `json:"category"`
	WebsiteURL  string          `json:"websiteUrl"`
}

type DonationStatus string

const (
	DonationStatusAccepted DonationStatus = "Accepted"
	DonationStatusRejected DonationStatus = "Rejected"
	DonationStatusPending  DonationStatus = "Pending"
)

// DonationRecord is the processor-neutral view of an external donation.
type DonationRecord struct {
	ID        string
	Reference string
	Status    DonationStatus
	// RawStatus is the processor's own status string, kept for audit.
	RawStatus string
	Amount    decimal.Decimal
	Currency  string
	CharityID string
	CreatedAt time.Time
	Raw       []byte
}

type DonationLookup struct {
	Found    bool
	Donation *DonationRecord
}

// Gateway is one processor adapter.
type Gateway interface {
	Platform() models.Platform
	Currency() string
	LookupOrganization(ctx context.Context, id string) (*Organization, error)
	SearchOrganizations(ctx context.Context, query string, maxResults int) ([]Organization, error)
	// GetDonationByReference reports Found=false (nil error) when the processor
	// has no donation for the reference yet.
	GetDonationByReference(ctx context.Context, reference string) (DonationLookup, error)
	// BuildDonationURL is pure; it performs no I/O.
	BuildDonationURL(organizationID string, amount decimal.Decimal, reference string) (string, error)
}
