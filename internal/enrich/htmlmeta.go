package enrich

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// Regex-based HTML mining. Company sites are too messy for a strict parser;
// these scans only need to find well-known markers, not understand the DOM.
var (
	titleRe       = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaTagRe     = regexp.MustCompile(`(?is)<meta\s[^>]*>`)
	metaKeyRe     = regexp.MustCompile(`(?i)(?:name|property)\s*=\s*["']([^"']+)["']`)
	metaContentRe = regexp.MustCompile(`(?i)content\s*=\s*["']([^"']*)["']`)
	linkTagRe     = regexp.MustCompile(`(?is)<link\s[^>]*>`)
	linkRelRe     = regexp.MustCompile(`(?i)rel\s*=\s*["']([^"']+)["']`)
	linkHrefRe    = regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+)["']`)
	jsonLDRe      = regexp.MustCompile(`(?is)<script[^>]*type\s*=\s*["']application/ld\+json["'][^>]*>(.*?)</script>`)
)

// extractTitle pulls the <title> from HTML.
func extractTitle(body string) string {
	if m := titleRe.FindStringSubmatch(body); len(m) > 1 {
		return strings.TrimSpace(decodeEntities(m[1]))
	}
	return ""
}

// cleanTitle reduces "TechStart | Software sob medida" to the site name.
func cleanTitle(title string) string {
	for _, sep := range []string{" | ", " - ", " – ", " :: ", " • "} {
		if i := strings.Index(title, sep); i > 0 {
			return strings.TrimSpace(title[:i])
		}
	}
	return strings.TrimSpace(title)
}

// metaTags returns name/property → content for every <meta> tag.
func metaTags(body string) map[string]string {
	tags := map[string]string{}
	for _, tag := range metaTagRe.FindAllString(body, -1) {
		key := metaKeyRe.FindStringSubmatch(tag)
		content := metaContentRe.FindStringSubmatch(tag)
		if len(key) > 1 && len(content) > 1 {
			name := strings.ToLower(key[1])
			if _, seen := tags[name]; !seen {
				tags[name] = strings.TrimSpace(decodeEntities(content[1]))
			}
		}
	}
	return tags
}

// techPatterns detect platforms from raw HTML. The list leans toward
// Brazilian SMB stacks (VTEX, Nuvemshop, Tray, RD Station).
var techPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"wordpress", regexp.MustCompile(`(?i)wp-content|wp-includes`)},
	{"woocommerce", regexp.MustCompile(`(?i)woocommerce`)},
	{"shopify", regexp.MustCompile(`(?i)cdn\.shopify\.com|myshopify\.com`)},
	{"vtex", regexp.MustCompile(`(?i)vteximg\.com\.br|vtexassets\.com|vtex-`)},
	{"nuvemshop", regexp.MustCompile(`(?i)nuvemshop|tiendanube`)},
	{"tray", regexp.MustCompile(`(?i)tray\.com\.br|traycorp`)},
	{"magento", regexp.MustCompile(`(?i)magento`)},
	{"wix", regexp.MustCompile(`(?i)wix\.com|wixstatic\.com`)},
	{"squarespace", regexp.MustCompile(`(?i)squarespace\.com`)},
	{"nextjs", regexp.MustCompile(`__NEXT_DATA__|/_next/`)},
	{"react", regexp.MustCompile(`data-reactroot|react-dom|__NEXT_DATA__`)},
	{"vue", regexp.MustCompile(`data-v-app|vue(?:\.runtime)?(?:\.min)?\.js`)},
	{"angular", regexp.MustCompile(`ng-version`)},
	{"jquery", regexp.MustCompile(`(?i)jquery`)},
	{"bootstrap", regexp.MustCompile(`(?i)bootstrap(?:\.min)?\.(?:css|js)`)},
	{"tailwind", regexp.MustCompile(`(?i)tailwindcss|tailwind\.config`)},
	{"google_analytics", regexp.MustCompile(`(?i)google-analytics\.com|gtag\(`)},
	{"google_tag_manager", regexp.MustCompile(`(?i)googletagmanager\.com`)},
	{"hotjar", regexp.MustCompile(`(?i)hotjar`)},
	{"rd_station", regexp.MustCompile(`(?i)rdstation|d335luupugsy2\.cloudfront`)},
	{"cloudflare", regexp.MustCompile(`(?i)cdn-cgi/|cloudflareinsights`)},
}

// detectTech returns the matched technology names in pattern order.
func detectTech(body string) []string {
	var found []string
	for _, p := range techPatterns {
		if p.re.MatchString(body) {
			found = append(found, p.name)
		}
	}
	return found
}

var socialPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"instagram", regexp.MustCompile(`https?://(?:www\.)?instagram\.com/([A-Za-z0-9_.]{2,30})`)},
	{"facebook", regexp.MustCompile(`https?://(?:www\.)?facebook\.com/([A-Za-z0-9_.\-]{2,60})`)},
	{"linkedin", regexp.MustCompile(`https?://(?:[a-z]{2,3}\.)?linkedin\.com/(?:company|in)/([A-Za-z0-9_\-%]{2,80})`)},
	{"youtube", regexp.MustCompile(`https?://(?:www\.)?youtube\.com/(?:@|channel/|c/|user/)([A-Za-z0-9_\-]{2,60})`)},
	{"twitter", regexp.MustCompile(`https?://(?:www\.)?(?:twitter|x)\.com/([A-Za-z0-9_]{2,15})`)},
	{"tiktok", regexp.MustCompile(`https?://(?:www\.)?tiktok\.com/@([A-Za-z0-9_.]{2,30})`)},
}

// detectSocial returns network → first profile URL found in the page.
// Sharing widgets point at the networks' root pages; the {2,} quantifiers
// above skip those.
func detectSocial(body string) map[string]string {
	found := map[string]string{}
	for _, p := range socialPatterns {
		if m := p.re.FindString(body); m != "" {
			found[p.name] = m
		}
	}
	return found
}

// jsonLDOrganization returns the first Organization-like JSON-LD block.
func jsonLDOrganization(body string) map[string]any {
	for _, m := range jsonLDRe.FindAllStringSubmatch(body, -1) {
		var node any
		if err := json.Unmarshal([]byte(m[1]), &node); err != nil {
			continue
		}
		if org := findOrganization(node); org != nil {
			return org
		}
	}
	return nil
}

// findOrganization walks a JSON-LD node, including @graph arrays.
func findOrganization(node any) map[string]any {
	switch n := node.(type) {
	case map[string]any:
		if isOrganizationType(n["@type"]) {
			return n
		}
		if graph, ok := n["@graph"].([]any); ok {
			return findOrganization(graph)
		}
	case []any:
		for _, item := range n {
			if org := findOrganization(item); org != nil {
				return org
			}
		}
	}
	return nil
}

func isOrganizationType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "Organization" || v == "LocalBusiness" || v == "Corporation"
	case []any:
		for _, item := range v {
			if isOrganizationType(item) {
				return true
			}
		}
	}
	return false
}

// resolveLogo prefers og:image, then apple-touch-icon, then rel=icon,
// resolved against the page URL.
func resolveLogo(meta map[string]string, body, pageURL string) string {
	if img := meta["og:image"]; img != "" {
		return absoluteURL(img, pageURL)
	}

	var icon string
	for _, tag := range linkTagRe.FindAllString(body, -1) {
		rel := linkRelRe.FindStringSubmatch(tag)
		href := linkHrefRe.FindStringSubmatch(tag)
		if len(rel) < 2 || len(href) < 2 {
			continue
		}
		relVal := strings.ToLower(rel[1])
		if strings.Contains(relVal, "apple-touch-icon") {
			return absoluteURL(href[1], pageURL)
		}
		if icon == "" && strings.Contains(relVal, "icon") {
			icon = href[1]
		}
	}
	if icon != "" {
		return absoluteURL(icon, pageURL)
	}
	return ""
}

func absoluteURL(href, pageURL string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}
