package models

import "time"

// CachedCharity mirrors a processor's organization record for display.
type CachedCharity struct {
	Platform       Platform  `gorm:"primary_key;size:20" json:"platform"`
	OrganizationId string    `gorm:"primary_key;size:64" json:"organization_id"`
	Name           string    `gorm:"size:255;not null" json:"name"`
	Description    string    `gorm:"type:text" json:"description"`
	LogoUrl        string    `gorm:"size:512" json:"logo_url"`
	Category       string    `gorm:"size:255" json:"category"`
	WebsiteUrl     string    `gorm:"size:512" json:"website_url"`
	RefreshedAt    time.Time `gorm:"not null" json:"refreshed_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *CachedCharity) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.RefreshedAt) < ttl
}
