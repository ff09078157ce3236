package gateway

import (
	"context"
	"errors"
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

func newTestJustGiving(t *testing.T, handler http.HandlerFunc) *JustGiving {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewJustGiving(config.JustGivingSettings{
		APIURL:    srv.URL,
		AppID:     "app-123",
		DonateURL: "https://link.justgiving.com/v1/charity/donate",
		Currency:  "GBP",
		Timeout:   2 * time.Second,
	}, "https://pbd.example.com/donation/complete", srv.Client())
}

func TestJustGivingDonationByReferenceAccepted(t *testing.T) {
	jg := newTestJustGiving(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/app-123/v1/donation/ref/JG-01ABC", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"donations":[{"donationId":12345,"donationRef":"JG-01ABC","status":"Accepted","amount":"150.00","currencyCode":"GBP","charityId":2050,"donationDate":"/Date(1700000000000+0000)/"}]}`))
	})

	res, err := jg.GetDonationByReference(context.Background(), "JG-01ABC")
	require.NoError(t, err)
	require.True(t, res.Found)
	require.NotNil(t, res.Donation)
	assert.Equal(t, "12345", res.Donation.ID)
	assert.Equal(t, DonationStatusAccepted, res.Donation.Status)
	assert.True(t, res.Donation.Amount.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, "2050", res.Donation.CharityID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), res.Donation.CreatedAt)
	assert.NotEmpty(t, res.Donation.Raw)
}

func TestJustGivingDonationByReferenceResponseShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"donations array", `{"donations":[{"donationId":"X","donationStatus":"Accepted"}]}`},
		{"single donation", `{"donationId":"X","donationStatus":"Accepted"}`},
		{"status fallback", `{"donations":[{"donationId":"X","status":"Accepted"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jg := newTestJustGiving(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			})

			res, err := jg.GetDonationByReference(context.Background(), "JG-SHAPE")
			require.NoError(t, err)
			require.True(t, res.Found)
			assert.Equal(t, "X", res.Donation.ID)
			assert.Equal(t, DonationStatusAccepted, res.Donation.Status)
			assert.Equal(t, "Accepted", res.Donation.RawStatus)
			assert.Equal(t, "JG-SHAPE", res.Donation.Reference)
		})
	}
}

func TestJustGivingDonationStatusFieldWins(t *testing.T) {
	jg := newTestJustGiving(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"donationId":"X","donationStatus":"Rejected","status":"Accepted"}`))
	})

	res, err := jg.GetDonationByReference(context.Background(), "JG-BOTH")
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, DonationStatusRejected, res.Donation.Status)
}

func TestJustGivingDonationByReferenceBadAmount(t *testing.T) {
	jg := newTestJustGiving(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"donationId":"X","donationStatus":"Accepted","amount":"n/a"}`))
	})

	res, err := jg.GetDonationByReference(context.Background(), "JG-AMT")
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.True(t, res.Donation.Amount.IsZero())
	assert.Equal(t, DonationStatusAccepted, res.Donation.Status)
}

func TestJustGivingDonationStatusMapping(t *testing.T) {
	cases := []struct {
		raw  string
		want DonationStatus
	}{
		{"Accepted", DonationStatusAccepted},
		{"Rejected", DonationStatusRejected},
		{"Cancelled", DonationStatusRejected},
		{"Refunded", DonationStatusRejected},
		{"Pending", DonationStatusPending},
		{"", DonationStatusPending},
	}
	for _, tc := range cases {
		if got := mapJustGivingStatus(tc.raw); got != tc.want {
			t.Fatalf("mapJustGivingStatus(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestJustGivingDonationByReferenceNotFound(t *testing.T) {
	jg := newTestJustGiving(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	res, err := jg.GetDonationByReference(context.Background(), "JG-MISSING")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Nil(t, res.Donation)
}

func TestJustGivingDonationByReferenceEmptyList(t *testing.T) {
	jg := newTestJustGiving(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"donations":[]}`))
	})

	res, err := jg.GetDonationByReference(context.Background(), "JG-EMPTY")
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestJustGivingDonationByReferencePrefersAccepted(t *testing.T) {
	jg := newTestJustGiving(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"donations":[{"donationId":"1","status":"Rejected"},{"donationId":"2","status":"Accepted"}]}`))
	})

	res, err := jg.GetDonationByReference(context.Background(), "JG-TWO")
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, "2", res.Donation.ID)
	assert.Equal(t, "JG-TWO", res.Donation.Reference)
}

func TestJustGivingTransportErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantErr: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: "bad app id", wantErr: true},
		{name: "bad json", status: http.StatusOK, body: "{not json", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jg := newTestJustGiving(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := jg.GetDonationByReference(context.Background(), "JG-X")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTransport))
			var te *TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, models.PlatformJustGiving, te.Platform)
		})
	}
}

func TestJustGivingNetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	jg := NewJustGiving(config.JustGivingSettings{APIURL: base, AppID: "a", Timeout: time.Second}, "https://pbd.example.com/r", nil)
	_, err := jg.GetDonationByReference(context.Background(), "JG-X")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestJustGivingLookupOrganization(t *testing.T) {
	jg := newTestJustGiving(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app-123/v1/charity/2050":
			_, _ = w.Write([]byte(`{"id":2050,"name":"Help the Hedgehogs","description":"d","logoAbsoluteUrl":"https://img/logo.png","websiteUrl":"https://hh.org","categories":["Animals"]}`))
		default:
			http.NotFound(w, r)
		}
	})

	org, err := jg.LookupOrganization(context.Background(), "2050")
	require.NoError(t, err)
	assert.Equal(t, "2050", org.ID)
	assert.Equal(t, "Help the Hedgehogs", org.Name)
	assert.Equal(t, "Animals", org.Category)
	assert.Equal(t, models.PlatformJustGiving, org.Platform)

	_, err = jg.LookupOrganization(context.Background(), "9999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJustGivingSearchOrganizations(t *testing.T) {
	jg := newTestJustGiving(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/app-123/v1/charity/search", r.URL.Path)
		assert.Equal(t, "cancer", r.URL.Query().Get("q"))
		assert.Equal(t, "2", r.URL.Query().Get("pageSize"))
		_, _ = w.Write([]byte(`{"charitySearchResults":[{"charityId":"1","name":"A"},{"charityId":"2","name":"B"},{"charityId":"3","name":"C"}]}`))
	})

	orgs, err := jg.SearchOrganizations(context.Background(), "cancer", 2)
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	assert.Equal(t, "1", orgs[0].ID)
	assert.Equal(t, "B", orgs[1].Name)
}

func TestJustGivingBuildDonationURL(t *testing.T) {
	jg := newTestJustGiving(t, func(w http.ResponseWriter, r *http.Request) {})

	raw, err := jg.BuildDonationURL("2050", decimal.NewFromInt(150), "JG-01ABC")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "https://link.justgiving.com/v1/charity/donate/charityId/2050?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "150", q.Get("donationValue"))
	assert.Equal(t, "GBP", q.Get("currency"))
	assert.Equal(t, "JG-01ABC", q.Get("reference"))

	exit, err := url.Parse(q.Get("exiturl"))
	require.NoError(t, err)
	assert.Equal(t, "pbd.example.com", exit.Host)
	assert.Equal(t, JustGivingDonationIDPlaceholder, exit.Query().Get("jgDonationId"))

	fractional, err := jg.BuildDonationURL("2050", decimal.RequireFromString("12.5"), "JG-01ABD")
	require.NoError(t, err)
	u, _ = url.Parse(fractional)
	assert.Equal(t, "12.50", u.Query().Get("donationValue"))
}

func TestJustGivingBuildDonationURLRejectsBadInput(t *testing.T) {
	jg := newTestJustGiving(t, func(w http.ResponseWriter, r *http.Request) {})

	cases := []struct {
		name   string
		org    string
		amount decimal.Decimal
		ref    string
	}{
		{"missing org", "", decimal.NewFromInt(10), "JG-1"},
		{"zero amount", "1", decimal.Zero, "JG-1"},
		{"negative amount", "1", decimal.NewFromInt(-5), "JG-1"},
		{"sub-cent amount", "1", decimal.RequireFromString("0.004"), "JG-1"},
		{"three decimal places", "1", decimal.RequireFromString("10.005"), "JG-1"},
		{"missing reference", "1", decimal.NewFromInt(10), ""},
	}
	for _, tc := range cases {
		if _, err := jg.BuildDonationURL(tc.org, tc.amount, tc.ref); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestParseJustGivingDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"/Date(1700000000000+0000)/", time.UnixMilli(1700000000000).UTC()},
		{"/Date(1700000000000)/", time.UnixMilli(1700000000000).UTC()},
		{"2024-01-02T03:04:05Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"garbage", time.Time{}},
		{"", time.Time{}},
	}
	for _, tc := range cases {
		if got := parseJustGivingDate(tc.in); !got.Equal(tc.want) {
			t.Fatalf("parseJustGivingDate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
