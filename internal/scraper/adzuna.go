package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"jobinsight/discovery-service/internal/errors"
	"jobinsight/discovery-service/internal/model"
)

const (
	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaMaxPages = 3
)

// adzunaDomains maps API country codes to the public site's TLD where the two
// differ.
var adzunaDomains = map[string]string{
	"gb": "co.uk",
	"au": "com.au",
	"br": "com.br",
	"nz": "co.nz",
	"za": "co.za",
}

// AdzunaSource fetches offers from the Adzuna public API. With no
// credentials, Fetch logs a warning and returns nothing.
type AdzunaSource struct {
	AppID   string
	AppKey  string
	Country string // "fr", "gb", "us", …
	BaseURL string

	client *http.Client
	logger *zap.Logger
}

// NewAdzunaSource constructs a source with a shared HTTP client.
func NewAdzunaSource(appID, appKey, country string, logger *zap.Logger) *AdzunaSource {
	if country == "" {
		country = "fr"
	}
	return &AdzunaSource{
		AppID:   appID,
		AppKey:  appKey,
		Country: strings.ToLower(country),
		BaseURL: adzunaBaseURL,
		client:  newHTTPClient(),
		logger:  logger.Named("adzuna"),
	}
}

func (a *AdzunaSource) Name() string { return "adzuna" }

type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

type adzunaResult struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Category     adzunaCategory `json:"category"`
	SalaryMin    float64        `json:"salary_min"`
	SalaryMax    float64        `json:"salary_max"`
	ContractTime string         `json:"contract_time"`
	ContractType string         `json:"contract_type"`
}

type adzunaCategory struct {
	Label string `json:"label"`
}

// Fetch pages through results, newest first, until count postings are
// collected, a page comes back short or adzunaMaxPages is reached.
func (a *AdzunaSource) Fetch(ctx context.Context, keyword string, count int) ([]model.RawPosting, error) {
	if a.AppID == "" || a.AppKey == "" {
		a.logger.Warn("ADZUNA_APP_ID / ADZUNA_APP_KEY not set, skipping")
		return nil, nil
	}

	var results []model.RawPosting
	for page := 1; page <= adzunaMaxPages && len(results) < count; page++ {
		size := min(adzunaPageSize, count-len(results))
		batch, err := a.fetchPage(ctx, keyword, page, size)
		if err != nil {
			return results, errors.Wrapf(err, "page %d", page)
		}
		results = append(results, batch...)
		if len(batch) < size {
			break
		}
	}
	if len(results) > count {
		results = results[:count]
	}
	return results, nil
}

func (a *AdzunaSource) fetchPage(ctx context.Context, keyword string, page, size int) ([]model.RawPosting, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", strings.TrimRight(a.BaseURL, "/"), a.Country, page)

	params := url.Values{}
	params.Set("app_id", a.AppID)
	params.Set("app_key", a.AppKey)
	params.Set("results_per_page", strconv.Itoa(size))
	params.Set("what", keyword)
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "http GET")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("adzuna returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var apiResp adzunaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, errors.Wrap(err, "json unmarshal")
	}

	out := make([]model.RawPosting, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		if r.ID == "" || strings.TrimSpace(r.Title) == "" {
			continue
		}
		out = append(out, model.RawPosting{
			Title:      strings.TrimSpace(r.Title),
			SalaryText: adzunaSalary(r.SalaryMin, r.SalaryMax),
			Link:       a.detailsLink(r.ID),
			Skills:     nonEmpty(r.Category.Label, r.ContractType, r.ContractTime),
			Source:     a.Name(),
		})
	}
	return out, nil
}

func (a *AdzunaSource) detailsLink(id string) string {
	tld, ok := adzunaDomains[a.Country]
	if !ok {
		tld = a.Country
	}
	return fmt.Sprintf("https://www.adzuna.%s/details/%s", tld, id)
}

func adzunaSalary(lo, hi float64) *string {
	var s string
	switch {
	case lo > 0 && hi > 0 && hi != lo:
		s = fmt.Sprintf("%.0f-%.0f", lo, hi)
	case lo > 0:
		s = fmt.Sprintf("%.0f", lo)
	case hi > 0:
		s = fmt.Sprintf("%.0f", hi)
	default:
		return nil
	}
	return &s
}

func nonEmpty(vals ...string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
