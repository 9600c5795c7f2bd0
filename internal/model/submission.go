package model

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// ProcessingState represents the user-visible state of an analysis run.
type ProcessingState string

const (
	StateQueued        ProcessingState = "queued"
	StateDataGathering ProcessingState = "data_gathering"
	StateAIAnalyzing   ProcessingState = "ai_analyzing"
	StateFinalizing    ProcessingState = "finalizing"
	StateCompleted     ProcessingState = "completed"
	StateFailed        ProcessingState = "failed"
)

// Submission is the immutable input to one pipeline run.
type Submission struct {
	ID                 int64  `json:"id"`
	Company            string `json:"company"`
	Industry           string `json:"industry"`
	WebsiteURL         string `json:"website_url,omitempty"`
	Challenge          string `json:"challenge,omitempty"`
	LinkedInCompanyURL string `json:"linkedin_company_url,omitempty"`
	LinkedInFounderURL string `json:"linkedin_founder_url,omitempty"`
}

// Validate checks the minimum viable submission.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.Company) == "" {
		return eris.New("submission: company is required")
	}
	return nil
}

// Domain returns the normalised registrable domain of the website URL:
// lowercase host, no scheme, no "www." prefix, no port, no path. Empty
// when no website was submitted or the URL does not parse.
func (s Submission) Domain() string {
	raw := strings.TrimSpace(s.WebsiteURL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	return host
}
