package fetcher

import "context"

// Pages defines the interface for downloading company web pages.
type Pages interface {
	// Fetch downloads a single URL and returns the decoded page.
	Fetch(ctx context.Context, url string) (*Page, error)

	// FetchSite downloads a company homepage. Bare domains are tried over
	// https first, then plain http.
	FetchSite(ctx context.Context, site string) (*Page, error)
}
