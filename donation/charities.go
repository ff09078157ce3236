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
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const searchCacheTTL = 10 * time.Minute

// CharityDirectory resolves organization display data.
type CharityDirectory interface {
	Lookup(ctx context.Context, platform models.Platform, organizationID string) (*models.CachedCharity, error)
	Search(ctx context.Context, platform models.Platform, query string, limit int) ([]gateway.Organization, error)
}

// CharityCache reads through redis, then the cached_charities table, then
// the processor. Rows older than the TTL are refreshed on read.
type CharityCache struct {
	db       *gorm.DB
	redis    redis.UniversalClient
	gateways *gateway.Registry
	ttl      time.Duration
	now      func() time.Time
	logger   *logrus.Logger
}

func NewCharityCache(db *gorm.DB, rdb redis.UniversalClient, gateways *gateway.Registry, ttl time.Duration, logger *logrus.Logger) *CharityCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CharityCache{
		db:       db,
		redis:    rdb,
		gateways: gateways,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

func charityKey(platform models.Platform, id string) string {
	return fmt.Sprintf("charity:%s:%s", platform, id)
}

func charitySearchKey(platform models.Platform, query string, limit int) string {
	return fmt.Sprintf("charity-search:%s:%d:%s", platform, limit, strings.ToLower(strings.TrimSpace(query)))
}

func (c *CharityCache) Lookup(ctx context.Context, platform models.Platform, organizationID string) (*models.CachedCharity, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, newValidationError("organizationId", "is required")
	}
	now := c.now()

	var hit models.CachedCharity
	if ok, err := config.GetRedisObject(ctx, c.redis, charityKey(platform, organizationID), &hit); err != nil {
		c.warn(err, "redis read failed", platform, organizationID)
	} else if ok && hit.Fresh(now, c.ttl) {
		return &hit, nil
	}

	var row models.CachedCharity
	err := c.db.WithContext(ctx).
		Where("platform = ? AND organization_id = ?", platform, organizationID).
		Take(&row).Error
	var stale *models.CachedCharity
	switch {
	case err == nil && row.Fresh(now, c.ttl):
		c.remember(ctx, &row)
		return &row, nil
	case err == nil:
		stale = &row
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	gw, err := c.gateways.For(platform)
	if err != nil {
		return nil, newValidationError("platform", "is not supported")
	}
	org, err := gw.LookupOrganization(ctx, organizationID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, &NotFoundError{Resource: "organization", ID: organizationID}
		}
		if stale != nil {
			c.warn(err, "serving stale charity after refresh failure", platform, organizationID)
			return stale, nil
		}
		return nil, err
	}

	fresh := &models.CachedCharity{
		Platform:       platform,
		OrganizationId: organizationID,
		Name:           org.Name,
		Description:    org.Description,
		LogoUrl:        org.LogoURL,
		Category:       org.Category,
		WebsiteUrl:     org.WebsiteURL,
		RefreshedAt:    now,
	}
	err = c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "organization_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "logo_url", "category", "website_url", "refreshed_at", "updated_at"}),
	}).Create(fresh).Error
	if err != nil {
		return nil, err
	}
	c.remember(ctx, fresh)
	return fresh, nil
}

func (c *CharityCache) Search(ctx context.Context, platform models.Platform, query string, limit int) ([]gateway.Organization, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, newValidationError("q", "is required")
	}
	if limit <= 0 || limit > 50 {
		limit = config.SearchLimit
	}
	key := charitySearchKey(platform, query, limit)

	var cached []gateway.Organization
	if ok, err := config.GetRedisObject(ctx, c.redis, key, &cached); err != nil {
		c.warn(err, "redis read failed", platform, query)
	} else if ok {
		return cached, nil
	}

	gw, err := c.gateways.For(platform)
	if err != nil {
		return nil, newValidationError("platform", "is not supported")
	}
	orgs, err := gw.SearchOrganizations(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(ctx, c.redis, key, orgs, searchCacheTTL); err != nil {
		c.warn(err, "redis write failed", platform, query)
	}
	return orgs, nil
}

func (c *CharityCache) remember(ctx context.Context, charity *models.CachedCharity) {
	remaining := c.ttl - c.now().Sub(charity.RefreshedAt)
	if remaining <= 0 {
		return
	}
	if err := config.SetRedisObject(ctx, c.redis, charityKey(charity.Platform, charity.OrganizationId), charity, remaining); err != nil {
		c.warn(err, "redis write failed", charity.Platform, charity.OrganizationId)
	}
}

func (c *CharityCache) warn(err error, msg string, platform models.Platform, key string) {
	if c.logger == nil {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"module":   "donation",
		"platform": platform,
		"key":      key,
	}).WithError(err).Warn(msg)
}
