package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/shopspring/decimal"
)

// EveryOrg serves organization lookups and donate links. Donation status is
// not queryable by reference through the partner API, so lookups report
// ErrUnsupported and the poller skips these rows.
type EveryOrg struct {
	client    *httpClient
	apiKey    string
	donateURL string
	returnURL string
	currency  string
}

func NewEveryOrg(s config.EveryOrgSettings, returnURL string, hc *http.Client) *EveryOrg {
	currency := s.Currency
	if currency == "" {
		currency = "USD"
	}
	return &EveryOrg{
		client:    newHTTPClient(models.PlatformEveryOrg, strings.TrimRight(s.APIURL, "/")+"/v0.2", s.Timeout, s.RateLimitPerMin, hc),
		apiKey:    s.APIKey,
		donateURL: strings.TrimRight(s.DonateURL, "/"),
		returnURL: returnURL,
		currency:  currency,
	}
}

func (e *EveryOrg) Platform() models.Platform { return models.PlatformEveryOrg }

func (e *EveryOrg) Currency() string { return e.currency }

type eoNonprofit struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	PrimarySlug string   `json:"primarySlug"`
	EIN         string   `json:"ein"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	LogoURL     string   `json:"logoUrl"`
	WebsiteURL  string   `json:"websiteUrl"`
	Tags        []string `json:"tags"`
}

func (n eoNonprofit) identifier() string {
	switch {
	case n.PrimarySlug != "":
		return n.PrimarySlug
	case n.Slug != "":
		return n.Slug
	case n.EIN != "":
		return n.EIN
	default:
		return n.ID
	}
}

type eoNonprofitResponse struct {
	Data struct {
		Nonprofit     eoNonprofit `json:"nonprofit"`
		NonprofitTags []struct {
			TagName string `json:"tagName"`
		} `json:"nonprofitTags"`
	} `json:"data"`
}

type eoSearchResponse struct {
	Nonprofits []eoNonprofit `json:"nonprofits"`
}

func (e *EveryOrg) params() url.Values {
	v := url.Values{}
	if e.apiKey != "" {
		v.Set("apiKey", e.apiKey)
	}
	return v
}

func (e *EveryOrg) LookupOrganization(ctx context.Context, id string) (*Organization, error) {
	var raw eoNonprofitResponse
	if _, err := e.client.getJSON(ctx, "lookup organization", "/nonprofit/"+url.PathEscape(id), e.params(), &raw); err != nil {
		return nil, err
	}
	np := raw.Data.Nonprofit
	if np.Name == "" {
		return nil, ErrNotFound
	}
	category := firstNonEmpty(np.Tags)
	for _, t := range raw.Data.NonprofitTags {
		if category != "" {
			break
		}
		category = t.TagName
	}
	orgID := np.identifier()
	if orgID == "" {
		orgID = id
	}
	return &Organization{
		Platform:    models.PlatformEveryOrg,
		ID:          orgID,
		Name:        np.Name,
		Description: np.Description,
		LogoURL:     np.LogoURL,
		Category:    category,
		WebsiteURL:  np.WebsiteURL,
	}, nil
}

func (e *EveryOrg) SearchOrganizations(ctx context.Context, query string, maxResults int) ([]Organization, error) {
	if maxResults <= 0 {
		maxResults = config.SearchLimit
	}
	params := e.params()
	params.Set("take", strconv.Itoa(maxResults))

	var raw eoSearchResponse
	if _, err := e.client.getJSON(ctx, "search organizations", "/search/"+url.PathEscape(query), params, &raw); err != nil {
		if errors.Is(err, ErrNotFound) {
			return []Organization{}, nil
		}
		return nil, err
	}
	out := make([]Organization, 0, len(raw.Nonprofits))
	for _, np := range raw.Nonprofits {
		if len(out) == maxResults {
			break
		}
		out = append(out, Organization{
			Platform:    models.PlatformEveryOrg,
			ID:          np.identifier(),
			Name:        np.Name,
			Description: np.Description,
			LogoURL:     np.LogoURL,
			Category:    firstNonEmpty(np.Tags),
			WebsiteURL:  np.WebsiteURL,
		})
	}
	return out, nil
}

func (e *EveryOrg) GetDonationByReference(ctx context.Context, reference string) (DonationLookup, error) {
	return DonationLookup{}, ErrUnsupported
}

func (e *EveryOrg) BuildDonationURL(organizationID string, amount decimal.Decimal, reference string) (string, error) {
	if err := validateURLInputs(organizationID, amount, reference); err != nil {
		return "", err
	}
	fragment := url.Values{}
	fragment.Set("amount", formatAmount(amount))
	fragment.Set("frequency", "ONCE")
	fragment.Set("partner_donation_id", reference)
	if e.returnURL != "" {
		fragment.Set("success_url", e.returnURL)
	}
	return e.donateURL + "/" + url.PathEscape(organizationID) + "#/donate?" + fragment.Encode(), nil
}
