package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// JustGivingDonationIDPlaceholder is substituted by JustGiving in the exit URL.
const JustGivingDonationIDPlaceholder = "JUSTGIVING-DONATION-ID"

type JustGiving struct {
	client    *httpClient
	donateURL string
	returnURL string
	currency  string
}

func NewJustGiving(s config.JustGivingSettings, returnURL string, hc *http.Client) *JustGiving {
	base := strings.TrimRight(s.APIURL, "/")
	if s.AppID != "" {
		base = base + "/" + url.PathEscape(s.AppID)
	}
	currency := s.Currency
	if currency == "" {
		currency = "GBP"
	}
	return &JustGiving{
		client:    newHTTPClient(models.PlatformJustGiving, base+"/v1", s.Timeout, s.RateLimitPerMin, hc),
		donateURL: strings.TrimRight(s.DonateURL, "/"),
		returnURL: returnURL,
		currency:  currency,
	}
}

func (j *JustGiving) Platform() models.Platform { return models.PlatformJustGiving }

func (j *JustGiving) Currency() string { return j.currency }

type jgCharity struct {
	ID              flexString `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	LogoAbsoluteURL string     `json:"logoAbsoluteUrl"`
	WebsiteURL      string     `json:"websiteUrl"`
	Categories      []string   `json:"categories"`
}

type jgSearchResponse struct {
	Results []struct {
		CharityID   flexString `json:"charityId"`
		Name        string     `json:"name"`
		Description string     `json:"description"`
		LogoURL     string     `json:"logoFileName"`
		WebsiteURL  string     `json:"websiteUrl"`
		Categories  []string   `json:"categories"`
	} `json:"charitySearchResults"`
}

type jgDonation struct {
	DonationID     flexString `json:"donationId"`
	DonationRef    string     `json:"donationRef"`
	DonationStatus string     `json:"donationStatus"`
	Status         string     `json:"status"`
	Amount         flexString `json:"amount"`
	CurrencyCode   string     `json:"currencyCode"`
	CharityID      flexString `json:"charityId"`
	DonationDate   string     `json:"donationDate"`
}

// status prefers donationStatus; older payloads only carry status.
func (d jgDonation) status() string {
	if strings.TrimSpace(d.DonationStatus) != "" {
		return d.DonationStatus
	}
	return d.Status
}

// jgDonationsResponse covers both answers of the by-reference endpoint:
// a donations array, or a single donation object at the top level.
type jgDonationsResponse struct {
	Donations []jgDonation `json:"donations"`
	jgDonation
}

func (r jgDonationsResponse) all() []jgDonation {
	if len(r.Donations) > 0 {
		return r.Donations
	}
	if r.DonationID.String() != "" || r.status() != "" {
		return []jgDonation{r.jgDonation}
	}
	return nil
}

func (j *JustGiving) LookupOrganization(ctx context.Context, id string) (*Organization, error) {
	var raw jgCharity
	if _, err := j.client.getJSON(ctx, "lookup organization", "/charity/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	orgID := raw.ID.String()
	if orgID == "" {
		orgID = id
	}
	return &Organization{
		Platform:    models.PlatformJustGiving,
		ID:          orgID,
		Name:        raw.Name,
		Description: raw.Description,
		LogoURL:     raw.LogoAbsoluteURL,
		Category:    firstNonEmpty(raw.Categories),
		WebsiteURL:  raw.WebsiteURL,
	}, nil
}

func (j *JustGiving) SearchOrganizations(ctx context.Context, query string, maxResults int) ([]Organization, error) {
	if maxResults <= 0 {
		maxResults = config.SearchLimit
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("pageSize", strconv.Itoa(maxResults))

	var raw jgSearchResponse
	if _, err := j.client.getJSON(ctx, "search organizations", "/charity/search", params, &raw); err != nil {
		if errors.Is(err, ErrNotFound) {
			return []Organization{}, nil
		}
		return nil, err
	}
	out := make([]Organization, 0, len(raw.Results))
	for _, r := range raw.Results {
		if len(out) == maxResults {
			break
		}
		out = append(out, Organization{
			Platform:    models.PlatformJustGiving,
			ID:          r.CharityID.String(),
			Name:        r.Name,
			Description: r.Description,
			LogoURL:     r.LogoURL,
			Category:    firstNonEmpty(r.Categories),
			WebsiteURL:  r.WebsiteURL,
		})
	}
	return out, nil
}

func (j *JustGiving) GetDonationByReference(ctx context.Context, reference string) (DonationLookup, error) {
	var raw jgDonationsResponse
	body, err := j.client.getJSON(ctx, "donation by reference", "/donation/ref/"+url.PathEscape(reference), nil, &raw)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return DonationLookup{Found: false}, nil
		}
		return DonationLookup{}, err
	}
	donations := raw.all()
	if len(donations) == 0 {
		return DonationLookup{Found: false}, nil
	}

	// Several attempts can share one reference; an accepted one wins.
	picked := donations[0]
	for _, d := range donations {
		if mapJustGivingStatus(d.status()) == DonationStatusAccepted {
			picked = d
			break
		}
	}
	if picked.DonationID.String() == "" {
		return DonationLookup{}, &TransportError{
			Platform: models.PlatformJustGiving,
			Op:       "donation by reference",
			Err:      errors.New("donation without id"),
		}
	}

	// Amount is informational; status and id drive reconciliation, so an
	// unparseable amount is logged and left zero.
	amount := decimal.Zero
	if rawAmount := picked.Amount.String(); rawAmount != "" {
		parsed, err := decimal.NewFromString(rawAmount)
		if err != nil {
			config.GetLogger().WithFields(logrus.Fields{
				"platform":    models.PlatformJustGiving,
				"reference":   reference,
				"donation_id": picked.DonationID.String(),
				"amount":      rawAmount,
			}).Warn("unparseable donation amount")
		} else {
			amount = parsed
		}
	}
	currency := picked.CurrencyCode
	if currency == "" {
		currency = j.currency
	}
	ref := picked.DonationRef
	if ref == "" {
		ref = reference
	}
	return DonationLookup{
		Found: true,
		Donation: &DonationRecord{
			ID:        picked.DonationID.String(),
			Reference: ref,
			Status:    mapJustGivingStatus(picked.status()),
			RawStatus: picked.status(),
			Amount:    amount,
			Currency:  currency,
			CharityID: picked.CharityID.String(),
			CreatedAt: parseJustGivingDate(picked.DonationDate),
			Raw:       body,
		},
	}, nil
}

// BuildDonationURL returns the hosted donate page with the reference and an
// exit URL that brings the donor back with the JustGiving donation id.
func (j *JustGiving) BuildDonationURL(organizationID string, amount decimal.Decimal, reference string) (string, error) {
	if err := validateURLInputs(organizationID, amount, reference); err != nil {
		return "", err
	}
	exit, err := url.Parse(j.returnURL)
	if err != nil {
		return "", err
	}
	q := exit.Query()
	q.Set("jgDonationId", JustGivingDonationIDPlaceholder)
	exit.RawQuery = q.Encode()

	params := url.Values{}
	params.Set("donationValue", formatAmount(amount))
	params.Set("currency", j.currency)
	params.Set("reference", reference)
	params.Set("exiturl", exit.String())

	return j.donateURL + "/charityId/" + url.PathEscape(organizationID) + "?" + params.Encode(), nil
}

func mapJustGivingStatus(s string) DonationStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accepted", "completed", "paid":
		return DonationStatusAccepted
	case "rejected", "cancelled", "canceled", "refunded", "failed":
		return DonationStatusRejected
	default:
		return DonationStatusPending
	}
}

var jgDatePattern = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// parseJustGivingDate understands both "/Date(1700000000000+0000)/" and RFC3339.
func parseJustGivingDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if m := jgDatePattern.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}
		}
		return time.UnixMilli(ms).UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
