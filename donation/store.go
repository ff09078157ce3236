package donation

import (
	"context"
	"errors"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatusChange describes one committed transition.
type StatusChange struct {
	RequestID          string                       `json:"requestId"`
	ReferenceID        string                       `json:"referenceId"`
	Platform           models.Platform              `json:"platform"`
	FundraiserID       string                       `json:"fundraiserId"`
	DonorID            string                       `json:"donorId"`
	From               models.DonationRequestStatus `json:"from"`
	To                 models.DonationRequestStatus `json:"to"`
	ExternalDonationID string                       `json:"externalDonationId,omitempty"`
	ConfirmedVia       models.ConfirmationSource    `json:"confirmedVia,omitempty"`
	ReviewReason       models.ReviewReason          `json:"reviewReason,omitempty"`
	At                 time.Time                    `json:"at"`
}

// StatusNotifier is told about transitions after they commit.
type StatusNotifier interface {
	StatusChanged(ctx context.Context, change StatusChange)
}

type ListFilter struct {
	DonorID      string
	FundraiserID string
	Status       models.DonationRequestStatus
	Limit        int
	Offset       int
}

// Store persists donation requests. Every status write is a conditional
// update keyed on the expected current status.
type Store interface {
	Create(ctx context.Context, req *models.DonationRequest) error
	Get(ctx context.Context, id string) (*models.DonationRequest, error)
	GetByReference(ctx context.Context, reference string) (*models.DonationRequest, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.DonationRequest, error)
	List(ctx context.Context, f ListFilter) ([]models.DonationRequest, error)
	// ListPending pages pending rows by id, strictly after afterID.
	ListPending(ctx context.Context, afterID string, limit int) ([]models.DonationRequest, error)
	// RecentPendingWithoutExternal returns a platform's pending rows with no external id, newest first.
	RecentPendingWithoutExternal(ctx context.Context, platform models.Platform, limit int) ([]models.DonationRequest, error)
	MarkSuccess(ctx context.Context, id string, externalID string, via models.ConfirmationSource, at time.Time) error
	MarkReview(ctx context.Context, id string, reason models.ReviewReason, at time.Time) error
	Transition(ctx context.Context, id string, from models.DonationRequestStatus, to models.DonationRequestStatus, at time.Time) error
}

type GormStore struct {
	db       *gorm.DB
	notifier StatusNotifier
	logger   *logrus.Logger
}

func NewGormStore(db *gorm.DB, logger *logrus.Logger) *GormStore {
	return &GormStore{db: db, logger: logger}
}

// SetNotifier installs the post-commit transition hook.
func (s *GormStore) SetNotifier(n StatusNotifier) {
	s.notifier = n
}

func (s *GormStore) Create(ctx context.Context, req *models.DonationRequest) error {
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return ErrReferenceCollision
		}
		return err
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.DonationRequest, error) {
	return s.take(ctx, "donation request", id, "id = ?", id)
}

func (s *GormStore) GetByReference(ctx context.Context, reference string) (*models.DonationRequest, error) {
	return s.take(ctx, "donation request", reference, "reference_id = ?", reference)
}

func (s *GormStore) FindByExternalID(ctx context.Context, externalID string) (*models.DonationRequest, error) {
	return s.take(ctx, "donation request", externalID, "external_donation_id = ?", externalID)
}

func (s *GormStore) take(ctx context.Context, resource, id string, query string, args ...interface{}) (*models.DonationRequest, error) {
	var req models.DonationRequest
	err := s.db.WithContext(ctx).Where(query, args...).Take(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: resource, ID: id}
		}
		return nil, err
	}
	return &req, nil
}

func (s *GormStore) List(ctx context.Context, f ListFilter) ([]models.DonationRequest, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&models.DonationRequest{})
	if f.DonorID != "" {
		q = q.Where("donor_id = ?", f.DonorID)
	}
	if f.FundraiserID != "" {
		q = q.Where("fundraiser_id = ?", f.FundraiserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []models.DonationRequest
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(f.Offset).Find(&out).Error
	return out, err
}

func (s *GormStore) ListPending(ctx context.Context, afterID string, limit int) ([]models.DonationRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.DonationRequest
	err := s.db.WithContext(ctx).
		Where("status = ? AND reference_id IS NOT NULL AND reference_id <> ''", models.DonationRequestStatusPending).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GormStore) RecentPendingWithoutExternal(ctx context.Context, platform models.Platform, limit int) ([]models.DonationRequest, error) {
	if limit <= 0 {
		limit = 1
	}
	var out []models.DonationRequest
	err := s.db.WithContext(ctx).
		Where("status = ? AND external_donation_id IS NULL", models.DonationRequestStatusPending).
		Where("platform = ?", platform).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkSuccess moves a pending row to success and links the external donation.
// An external id already set on the row is never replaced.
func (s *GormStore) MarkSuccess(ctx context.Context, id string, externalID string, via models.ConfirmationSource, at time.Time) error {
	if strings.TrimSpace(externalID) == "" {
		return errors.New("external donation id is required")
	}
	res := s.db.WithContext(ctx).Model(&models.DonationRequest{}).
		Where("id = ? AND status = ?", id, models.DonationRequestStatusPending).
		Where("(external_donation_id IS NULL OR external_donation_id = ?)", externalID).
		Updates(map[string]interface{}{
			"status":               models.DonationRequestStatusSuccess,
			"external_donation_id": externalID,
			"confirmed_via":        via,
			"resolved_at":          at,
			"updated_at":           at,
		})
	if res.Error != nil {
		if isDuplicateKeyErr(res.Error) {
			return ErrExternalIDConflict
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyResolved
	}
	s.notify(ctx, id, StatusChange{
		From:               models.DonationRequestStatusPending,
		To:                 models.DonationRequestStatusSuccess,
		ExternalDonationID: externalID,
		ConfirmedVia:       via,
		At:                 at,
	})
	return nil
}

func (s *GormStore) MarkReview(ctx context.Context, id string, reason models.ReviewReason, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.DonationRequest{}).
		Where("id = ? AND status = ?", id, models.DonationRequestStatusPending).
		Updates(map[string]interface{}{
			"status":        models.DonationRequestStatusFundraiserReview,
			"review_reason": reason,
			"resolved_at":   at,
			"updated_at":    at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyResolved
	}
	s.notify(ctx, id, StatusChange{
		From:         models.DonationRequestStatusPending,
		To:           models.DonationRequestStatusFundraiserReview,
		ReviewReason: reason,
		At:           at,
	})
	return nil
}

// Transition applies one of the allowed forward edges that do not carry
// extra data (the fundraiser feedback edges).
func (s *GormStore) Transition(ctx context.Context, id string, from models.DonationRequestStatus, to models.DonationRequestStatus, at time.Time) error {
	if !from.CanTransitionTo(to) {
		return ErrInvalidTransition
	}
	if from == models.DonationRequestStatusPending {
		// pending edges need their own data; use MarkSuccess / MarkReview
		return ErrInvalidTransition
	}
	res := s.db.WithContext(ctx).Model(&models.DonationRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyResolved
	}
	s.notify(ctx, id, StatusChange{From: from, To: to, At: at})
	return nil
}

func (s *GormStore) notify(ctx context.Context, id string, change StatusChange) {
	if s.notifier == nil {
		return
	}
	req, err := s.Get(ctx, id)
	if err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"request_id": id, "to": change.To}).
				WithError(err).Warn("status change committed but row could not be re-read for notification")
		}
		return
	}
	change.RequestID = req.ID
	change.ReferenceID = req.ReferenceId
	change.Platform = req.Platform
	change.FundraiserID = req.FundraiserId
	change.DonorID = req.DonorId
	s.notifier.StatusChanged(ctx, change)
}

func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	// sqlite without error translation
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
