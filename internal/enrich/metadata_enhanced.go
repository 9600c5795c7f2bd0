package enrich

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/fetcher"
	"github.com/horizonte-ai/atlas/internal/model"
)

var (
	whatsappRe = regexp.MustCompile(`(?:wa\.me/|api\.whatsapp\.com/send\?phone=)\+?(\d{10,15})`)
	telHrefRe  = regexp.MustCompile(`href\s*=\s*["']tel:([+\d()\s.-]{8,20})["']`)
	brPhoneRe  = regexp.MustCompile(`(?:\+55\s?)?\(\d{2}\)\s?9?\d{4}[-\s]?\d{4}`)
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// Formatted form only; bare 14-digit runs are too often order numbers.
	cnpjRe = regexp.MustCompile(`\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}`)

	microTelContentRe = regexp.MustCompile(`(?i)<[^>]+itemprop\s*=\s*["']telephone["'][^>]*content\s*=\s*["']([^"']+)["']`)
	microTelTextRe    = regexp.MustCompile(`(?i)<[^>]+itemprop\s*=\s*["']telephone["'][^>]*>([^<]+)<`)

	nonDigitRe = regexp.MustCompile(`\D`)
)

// EnhancedMetadataAdapter runs the homepage scrape and then digs for
// contact details: WhatsApp links, Brazilian phone numbers, e-mail
// addresses, the footer CNPJ and microdata. When the homepage comes up
// empty it tries the /contato page once.
type EnhancedMetadataAdapter struct {
	fetcher fetcher.Pages
}

// NewEnhancedMetadataAdapter creates the contact-mining scraper.
func NewEnhancedMetadataAdapter(f fetcher.Pages) *EnhancedMetadataAdapter {
	return &EnhancedMetadataAdapter{fetcher: f}
}

func (a *EnhancedMetadataAdapter) Name() string           { return "metadata_enhanced" }
func (a *EnhancedMetadataAdapter) Tier() model.SourceTier { return model.TierFree }
func (a *EnhancedMetadataAdapter) Cost() float64          { return 0 }

// Enrich fetches the homepage, mines it, and optionally follows /contato.
func (a *EnhancedMetadataAdapter) Enrich(ctx context.Context, req Request) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*metadataTimeout)
	defer cancel()

	page, err := fetchHomepage(ctx, a.fetcher, req)
	if err != nil {
		return nil, err
	}

	data := parseMetadata(page)
	scanContacts(data, page.Body)

	if _, hasPhone := data["phone"]; !hasPhone {
		if contact := a.fetchContactPage(ctx, page.URL); contact != nil {
			scanContacts(data, contact.Body)
		}
	}

	return data, nil
}

// fetchContactPage tries the conventional Brazilian contact path. A miss is
// normal and only logged.
func (a *EnhancedMetadataAdapter) fetchContactPage(ctx context.Context, pageURL string) *fetcher.Page {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	base.Path = "/contato"
	base.RawQuery = ""
	base.Fragment = ""

	contact, err := a.fetcher.Fetch(ctx, base.String())
	if err != nil {
		zap.L().Debug("metadata_enhanced: no contact page",
			zap.String("url", base.String()),
			zap.Error(err),
		)
		return nil
	}
	return contact
}

// scanContacts mines contact details from raw HTML into data, never
// overwriting fields found earlier.
func scanContacts(data map[string]any, body string) {
	if m := whatsappRe.FindStringSubmatch(body); len(m) > 1 {
		social, _ := data["social_media"].(map[string]string)
		if social == nil {
			social = map[string]string{}
			data["social_media"] = social
		}
		if _, ok := social["whatsapp"]; !ok {
			social["whatsapp"] = "https://wa.me/" + m[1]
		}
		if _, ok := data["phone"]; !ok {
			data["phone"] = "+" + m[1]
		}
	}

	if _, ok := data["phone"]; !ok {
		if phone := findPhone(body); phone != "" {
			data["phone"] = phone
		}
	}

	if _, ok := data["email"]; !ok {
		if email := findEmail(body); email != "" {
			data["email"] = email
		}
	}

	if _, ok := data["cnpj"]; !ok {
		if m := cnpjRe.FindString(body); m != "" {
			data["cnpj"] = nonDigitRe.ReplaceAllString(m, "")
		}
	}
}

func findPhone(body string) string {
	if m := telHrefRe.FindStringSubmatch(body); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if m := microTelContentRe.FindStringSubmatch(body); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if m := microTelTextRe.FindStringSubmatch(body); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return brPhoneRe.FindString(body)
}

// findEmail returns the first address that is not an asset path false
// positive (image@2x.png survives the naive regex).
func findEmail(body string) string {
	for _, m := range emailRe.FindAllString(body, -1) {
		lower := strings.ToLower(m)
		if strings.HasSuffix(lower, ".png") || strings.HasSuffix(lower, ".jpg") ||
			strings.HasSuffix(lower, ".jpeg") || strings.HasSuffix(lower, ".gif") ||
			strings.HasSuffix(lower, ".webp") || strings.HasSuffix(lower, ".svg") {
			continue
		}
		return m
	}
	return ""
}
