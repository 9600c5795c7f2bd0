package enrich

import (
	"context"
	"strconv"
	"time"

	"github.com/horizonte-ai/atlas/internal/fetcher"
	"github.com/horizonte-ai/atlas/internal/model"
)

const metadataTimeout = 10 * time.Second

// MetadataAdapter scrapes the company homepage: title, Open Graph tags,
// JSON-LD organization data, technology fingerprints, social profiles and
// the logo. Free and always selected.
type MetadataAdapter struct {
	fetcher fetcher.Pages
}

// NewMetadataAdapter creates the homepage scraper.
func NewMetadataAdapter(f fetcher.Pages) *MetadataAdapter {
	return &MetadataAdapter{fetcher: f}
}

func (a *MetadataAdapter) Name() string           { return "metadata" }
func (a *MetadataAdapter) Tier() model.SourceTier { return model.TierFree }
func (a *MetadataAdapter) Cost() float64          { return 0 }

// Enrich fetches and mines the homepage.
func (a *MetadataAdapter) Enrich(ctx context.Context, req Request) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	page, err := fetchHomepage(ctx, a.fetcher, req)
	if err != nil {
		return nil, err
	}
	return parseMetadata(page), nil
}

func fetchHomepage(ctx context.Context, f fetcher.Pages, req Request) (*fetcher.Page, error) {
	target := req.WebsiteURL
	if target == "" {
		target = req.Domain
	}
	if target == "" {
		return nil, &NotFoundError{Service: "metadata", Detail: "no website to scrape"}
	}
	return f.FetchSite(ctx, target)
}

// parseMetadata mines one fetched page into lexicon fields.
func parseMetadata(page *fetcher.Page) map[string]any {
	meta := metaTags(page.Body)
	data := map[string]any{}

	name := meta["og:site_name"]
	if name == "" {
		name = cleanTitle(extractTitle(page.Body))
	}
	if name != "" {
		data["company_name"] = name
	}

	desc := meta["description"]
	if desc == "" {
		desc = meta["og:description"]
	}
	if desc != "" {
		data["description"] = desc
	}

	if tech := detectTech(page.Body); len(tech) > 0 {
		data["website_tech"] = tech
	}

	if social := detectSocial(page.Body); len(social) > 0 {
		data["social_media"] = social
		if u, ok := social["linkedin"]; ok {
			data["linkedin_url"] = u
		}
	}

	if logo := resolveLogo(meta, page.Body, page.URL); logo != "" {
		data["logo_url"] = logo
	}

	applyJSONLD(data, page.Body)
	return data
}

// applyJSONLD folds the page's Organization JSON-LD block into data without
// overwriting fields already mined from tags.
func applyJSONLD(data map[string]any, body string) {
	org := jsonLDOrganization(body)
	if org == nil {
		return
	}

	setIfAbsent := func(key string, value any) {
		if _, exists := data[key]; !exists {
			data[key] = value
		}
	}

	if v, ok := org["legalName"].(string); ok && v != "" {
		setIfAbsent("legal_name", v)
	}
	if v, ok := org["name"].(string); ok && v != "" {
		setIfAbsent("company_name", v)
	}
	if v, ok := org["description"].(string); ok && v != "" {
		setIfAbsent("description", v)
	}
	if v, ok := org["telephone"].(string); ok && v != "" {
		setIfAbsent("phone", v)
	}
	if v, ok := org["foundingDate"].(string); ok && len(v) >= 4 {
		if year, err := strconv.Atoi(v[:4]); err == nil {
			setIfAbsent("founded_year", year)
		}
	}
	if addr, ok := org["address"].(map[string]any); ok {
		if v, ok := addr["addressLocality"].(string); ok && v != "" {
			setIfAbsent("city", v)
		}
		if v, ok := addr["addressRegion"].(string); ok && v != "" {
			setIfAbsent("state", v)
		}
		if v, ok := addr["addressCountry"].(string); ok && v != "" {
			setIfAbsent("country", v)
		}
	}
}
