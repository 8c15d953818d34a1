// Package geocode resolves Korean street addresses to coordinates via
// the Naver Maps geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// NaverClient calls the Naver Cloud Platform geocoding endpoint. An
// address the service does not know yields ok=false, not an error;
// errors are reserved for transport and authentication failures.
type NaverClient struct {
	baseURL  string
	clientID string
	secret   string
	http     *http.Client
}

func NewNaverClient(baseURL, clientID, secret string) *NaverClient {
	return &NaverClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		secret:   secret,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type naverResponse struct {
	Status    string `json:"status"`
	Addresses []struct {
		X string `json:"x"`
		Y string `json:"y"`
	} `json:"addresses"`
	ErrorMessage string `json:"errorMessage"`
}

func (c *NaverClient) Geocode(ctx context.Context, address string) (lat, lng float64, ok bool, err error) {
	q := url.Values{}
	q.Set("query", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/map-geocode/v2/geocode?"+q.Encode(), nil)
	if err != nil {
		return 0, 0, false, err
	}
	req.Header.Set("X-NCP-APIGW-API-KEY-ID", c.clientID)
	req.Header.Set("X-NCP-APIGW-API-KEY", c.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, false, err
	}
	defer resp.Body.Close()
	blob, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return 0, 0, false, fmt.Errorf("geocode %q failed status=%d body=%s", address, resp.StatusCode, string(blob))
	}

	var parsed naverResponse
	if err := json.Unmarshal(blob, &parsed); err != nil {
		return 0, 0, false, fmt.Errorf("geocode %q: decode response: %w", address, err)
	}
	if parsed.Status != "OK" {
		return 0, 0, false, fmt.Errorf("geocode %q: status=%s message=%s", address, parsed.Status, parsed.ErrorMessage)
	}
	if len(parsed.Addresses) == 0 {
		return 0, 0, false, nil
	}

	// Naver returns x=longitude, y=latitude as strings.
	lng, err = strconv.ParseFloat(parsed.Addresses[0].X, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("geocode %q: bad longitude %q", address, parsed.Addresses[0].X)
	}
	lat, err = strconv.ParseFloat(parsed.Addresses[0].Y, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("geocode %q: bad latitude %q", address, parsed.Addresses[0].Y)
	}
	return lat, lng, true, nil
}
