package enrich

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/pkg/ipapi"
)

const ipgeoTimeout = 5 * time.Second

// hostResolver is the subset of net.Resolver the adapter needs.
type hostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// IPGeoAdapter locates a company by its web host: DNS A-record lookup
// followed by a free IP geolocation call. Coarse but always available.
type IPGeoAdapter struct {
	resolver hostResolver
	client   ipapi.Client
}

// NewIPGeoAdapter creates the adapter with the default system resolver.
func NewIPGeoAdapter(client ipapi.Client) *IPGeoAdapter {
	return &IPGeoAdapter{resolver: net.DefaultResolver, client: client}
}

func (a *IPGeoAdapter) Name() string           { return "ipgeo" }
func (a *IPGeoAdapter) Tier() model.SourceTier { return model.TierFree }
func (a *IPGeoAdapter) Cost() float64          { return 0 }

// Enrich resolves the domain and geolocates the first address.
func (a *IPGeoAdapter) Enrich(ctx context.Context, req Request) (map[string]any, error) {
	if req.Domain == "" {
		return nil, &NotFoundError{Service: "ipgeo", Detail: "no domain to resolve"}
	}

	ctx, cancel := context.WithTimeout(ctx, ipgeoTimeout)
	defer cancel()

	addrs, err := a.resolver.LookupHost(ctx, req.Domain)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, &NotFoundError{Service: "ipgeo", Detail: "domain has no addresses"}
	}

	ip := pickIPv4(addrs)
	loc, err := a.client.Locate(ctx, ip)
	if err != nil {
		return nil, err
	}
	if !loc.OK() {
		return nil, &InvalidResponseError{Service: "ipgeo", Detail: loc.Message}
	}

	data := map[string]any{
		"ip_address": ip,
	}
	if loc.City != "" {
		data["city"] = loc.City
	}
	if loc.RegionName != "" {
		data["state"] = loc.RegionName
	}
	if loc.Country != "" {
		data["country"] = loc.Country
	}
	if loc.Org != "" {
		data["hosting_provider"] = loc.Org
	} else if loc.ISP != "" {
		data["hosting_provider"] = loc.ISP
	}
	return data, nil
}

// pickIPv4 prefers the first IPv4 address; geolocation databases cover v4
// far better.
func pickIPv4(addrs []string) string {
	for _, a := range addrs {
		if !strings.Contains(a, ":") {
			return a
		}
	}
	return addrs[0]
}
