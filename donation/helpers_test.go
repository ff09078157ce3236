package donation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/poweredbydonation/pbd_backend/gateway"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "pbd.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func seedRequest(t *testing.T, db *gorm.DB, ref string, createdAt time.Time, mutate func(r *models.DonationRequest)) *models.DonationRequest {
	t.Helper()
	r := &models.DonationRequest{
		ReferenceId:      ref,
		DonorId:          "donor-1",
		FundraiserId:     "fund-1",
		ServiceId:        "svc-1",
		Platform:         models.PlatformJustGiving,
		OrganizationId:   "2050",
		OrganizationName: "Help the Hedgehogs",
		DonationAmount:   decimal.NewFromInt(150),
		Currency:         "GBP",
		DonationUrl:      "https://example.test/" + ref,
		Status:           models.DonationRequestStatusPending,
		TimeoutAt:        createdAt.Add(30 * time.Minute),
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	if mutate != nil {
		mutate(r)
	}
	if err := db.Create(r).Error; err != nil {
		t.Fatalf("seed %s: %v", ref, err)
	}
	return r
}

type stubGateway struct {
	mu        sync.Mutex
	platform  models.Platform
	orgs      map[string]*gateway.Organization
	lookupErr error
	lookups   int
	searches  int
}

func newStubGateway(platform models.Platform) *stubGateway {
	return &stubGateway{
		platform: platform,
		orgs: map[string]*gateway.Organization{
			"2050": {Platform: platform, ID: "2050", Name: "Help the Hedgehogs", Category: "Animals"},
		},
	}
}

func (s *stubGateway) Platform() models.Platform { return s.platform }

func (s *stubGateway) Currency() string { return "GBP" }

func (s *stubGateway) LookupOrganization(ctx context.Context, id string) (*gateway.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	org, ok := s.orgs[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (s *stubGateway) SearchOrganizations(ctx context.Context, query string, maxResults int) ([]gateway.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++
	out := []gateway.Organization{}
	for _, o := range s.orgs {
		out = append(out, *o)
	}
	return out, nil
}

func (s *stubGateway) GetDonationByReference(ctx context.Context, reference string) (gateway.DonationLookup, error) {
	return gateway.DonationLookup{}, gateway.ErrUnsupported
}

func (s *stubGateway) BuildDonationURL(organizationID string, amount decimal.Decimal, reference string) (string, error) {
	return fmt.Sprintf("https://donate.test/%s?amount=%s&ref=%s", organizationID, amount.String(), reference), nil
}

// fixedReferences replays refs in order, then fails.
type fixedReferences struct {
	mu   sync.Mutex
	refs []string
	next int
}

func (f *fixedReferences) Generate(platform models.Platform) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.refs) {
		return "", fmt.Errorf("out of references")
	}
	r := f.refs[f.next]
	f.next++
	return r, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []StatusChange
}

func (r *recordingNotifier) StatusChanged(ctx context.Context, change StatusChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recordingNotifier) all() []StatusChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusChange(nil), r.changes...)
}

func countRequests(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.DonationRequest{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
