package donation

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/poweredbydonation/pbd_backend/models"
)

// ReferenceGenerator mints the reference a processor echoes back to us.
type ReferenceGenerator interface {
	Generate(platform models.Platform) (string, error)
}

// ULIDReferences produces "<PREFIX>-<ULID>" references. The monotonic
// entropy source keeps ids strictly increasing within one process, and the
// reference_id unique index covers the rest.
type ULIDReferences struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

func NewReferenceGenerator() *ULIDReferences {
	return &ULIDReferences{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

func (g *ULIDReferences) Generate(platform models.Platform) (string, error) {
	switch platform {
	case models.PlatformJustGiving, models.PlatformEveryOrg:
	default:
		return "", fmt.Errorf("reference for %q: %w", platform, models.ErrInvalidPlatform)
	}

	g.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	g.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("mint reference: %w", err)
	}
	return platform.ReferencePrefix() + "-" + id.String(), nil
}
