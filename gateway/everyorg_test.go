package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEveryOrg(t *testing.T, handler http.HandlerFunc) *EveryOrg {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewEveryOrg(config.EveryOrgSettings{
		APIURL:    srv.URL,
		APIKey:    "pk_test",
		DonateURL: "https://www.every.org",
		Timeout:   2 * time.Second,
	}, "https://pbd.example.com/donation/complete", srv.Client())
}

func TestEveryOrgLookupOrganization(t *testing.T) {
	eo := newTestEveryOrg(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0.2/nonprofit/khan-academy", r.URL.Path)
		assert.Equal(t, "pk_test", r.URL.Query().Get("apiKey"))
		_, _ = w.Write([]byte(`{"data":{"nonprofit":{"id":"np_1","primarySlug":"khan-academy","name":"Khan Academy","logoUrl":"https://img/k.png","websiteUrl":"https://khanacademy.org"},"nonprofitTags":[{"tagName":"education"}]}}`))
	})

	org, err := eo.LookupOrganization(context.Background(), "khan-academy")
	require.NoError(t, err)
	assert.Equal(t, "khan-academy", org.ID)
	assert.Equal(t, "Khan Academy", org.Name)
	assert.Equal(t, "education", org.Category)
	assert.Equal(t, models.PlatformEveryOrg, org.Platform)
}

func TestEveryOrgLookupNotFound(t *testing.T) {
	eo := newTestEveryOrg(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := eo.LookupOrganization(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEveryOrgSearch(t *testing.T) {
	eo := newTestEveryOrg(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0.2/search/water", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("take"))
		_, _ = w.Write([]byte(`{"nonprofits":[{"slug":"charity-water","name":"charity: water","tags":["water"]}]}`))
	})

	orgs, err := eo.SearchOrganizations(context.Background(), "water", 5)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "charity-water", orgs[0].ID)
	assert.Equal(t, "water", orgs[0].Category)
}

func TestEveryOrgDonationLookupUnsupported(t *testing.T) {
	eo := newTestEveryOrg(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected, got %s", r.URL.Path)
	})
	_, err := eo.GetDonationByReference(context.Background(), "EO-1")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestEveryOrgBuildDonationURL(t *testing.T) {
	eo := newTestEveryOrg(t, func(w http.ResponseWriter, r *http.Request) {})

	raw, err := eo.BuildDonationURL("khan-academy", decimal.NewFromInt(25), "EO-01XYZ")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "https://www.every.org/khan-academy#/donate?"))

	frag := raw[strings.Index(raw, "?")+1:]
	q, err := url.ParseQuery(frag)
	require.NoError(t, err)
	assert.Equal(t, "25", q.Get("amount"))
	assert.Equal(t, "ONCE", q.Get("frequency"))
	assert.Equal(t, "EO-01XYZ", q.Get("partner_donation_id"))
	assert.Equal(t, "https://pbd.example.com/donation/complete", q.Get("success_url"))
}

func TestRegistryDispatch(t *testing.T) {
	settings := config.Settings{
		JustGiving:    config.JustGivingSettings{APIURL: "http://jg.invalid"},
		EveryOrg:      config.EveryOrgSettings{APIURL: "http://eo.invalid"},
		LivePlatforms: []string{"justgiving"},
	}
	reg := NewRegistry(settings, nil)

	jg, err := reg.For(models.PlatformJustGiving)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformJustGiving, jg.Platform())

	eo, err := reg.For(models.PlatformEveryOrg)
	require.NoError(t, err)
	assert.Equal(t, "USD", eo.Currency())

	assert.True(t, reg.IsLive(models.PlatformJustGiving))
	assert.False(t, reg.IsLive(models.PlatformEveryOrg))

	_, err = reg.For(models.Platform("paypal"))
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.Equal(t, []models.Platform{models.PlatformEveryOrg, models.PlatformJustGiving}, reg.Platforms())
}
