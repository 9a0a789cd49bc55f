package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nao1215/proxyprobe/internal/model"
)

// Locator geolocates a host without network access, e.g. from a local database.
type Locator interface {
	Locate(ctx context.Context, host string) (*model.LocationResult, error)
}

type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	CountryCode string  `json:"countryCode"`
	Country     string  `json:"country"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Zip         string  `json:"zip"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
}

// Location geolocates the proxy host. A configured Locator is preferred;
// otherwise the geolocation service is queried through the proxy.
func (p *Prober) Location(ctx context.Context, target model.ProbeTarget) (*model.LocationResult, error) {
	if p.locator != nil {
		return p.locator.Locate(ctx, target.Host)
	}
	if p.env.LocationURL == "" {
		return nil, model.ErrNotConfigured
	}

	lookupURL := p.env.LocationURL + url.PathEscape(target.Host)
	resp, body, err := p.get(ctx, target, lookupURL, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &model.StatusError{Code: resp.StatusCode, URL: lookupURL}
	}

	var data ipAPIResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: location response: %w", model.ErrMalformed, err)
	}
	if data.Status != "success" {
		return nil, fmt.Errorf("%w: location lookup failed: %s", model.ErrUpstream, data.Message)
	}

	return &model.LocationResult{
		CountryCode: data.CountryCode,
		Country:     data.Country,
		Region:      data.RegionName,
		City:        data.City,
		Zip:         data.Zip,
		Latitude:    data.Lat,
		Longitude:   data.Lon,
		Timezone:    data.Timezone,
		ISP:         data.ISP,
		Source:      "ip-api",
	}, nil
}
