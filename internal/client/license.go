package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// VerifyLicenseRequest is what the federation registry needs to match a
// license: the number alone is ambiguous across federations, so the
// holder's name, birth date and the event code travel with it.
type VerifyLicenseRequest struct {
	LicenseNumber string `json:"license_number"`
	Name          string `json:"name"`
	BirthDate     string `json:"birth_date"`
	EventCode     string `json:"event_code"`
}

// LicenseInfo is the federation's view of one license
type LicenseInfo struct {
	LicenseNumber string `json:"license_number"`
	Valid         bool   `json:"valid"`
	HolderName    string `json:"holder_name,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

// LicenseVerifier checks licenses against the federation registry
type LicenseVerifier interface {
	// Verify reports whether the license is currently valid for the holder
	Verify(ctx context.Context, req *VerifyLicenseRequest) (bool, error)
}

// HTTPLicenseVerifier verifies licenses via the federation HTTP API, with a
// single-flight guard and a short TTL cache so registration bursts do not
// hammer the registry.
type HTTPLicenseVerifier struct {
	baseURL    string
	httpClient *http.Client
	cacheTTL   time.Duration

	sfGroup singleflight.Group
	mu      sync.RWMutex
	cache   map[string]licenseCacheEntry
}

type licenseCacheEntry struct {
	valid     bool
	expiresAt time.Time
}

// NewHTTPLicenseVerifier creates a new license verifier
func NewHTTPLicenseVerifier(baseURL string, cacheTTL time.Duration) *HTTPLicenseVerifier {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &HTTPLicenseVerifier{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		cacheTTL: cacheTTL,
		cache:    make(map[string]licenseCacheEntry),
	}
}

// cacheKey covers every request field. The same number with a different
// holder or event must not reuse a cached verdict.
func cacheKey(req *VerifyLicenseRequest) string {
	return strings.Join([]string{req.LicenseNumber, req.Name, req.BirthDate, req.EventCode}, "|")
}

// Verify checks a license. Concurrent lookups for the same request
// share one upstream call.
func (v *HTTPLicenseVerifier) Verify(ctx context.Context, req *VerifyLicenseRequest) (bool, error) {
	if req == nil || req.LicenseNumber == "" {
		return false, nil
	}

	key := cacheKey(req)

	v.mu.RLock()
	entry, ok := v.cache[key]
	v.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.valid, nil
	}

	result, err, _ := v.sfGroup.Do(key, func() (interface{}, error) {
		return v.fetch(ctx, req)
	})
	if err != nil {
		return false, err
	}

	valid := result.(bool)
	v.mu.Lock()
	v.cache[key] = licenseCacheEntry{
		valid:     valid,
		expiresAt: time.Now().Add(v.cacheTTL),
	}
	v.mu.Unlock()

	return valid, nil
}

func (v *HTTPLicenseVerifier) fetch(ctx context.Context, verifyReq *VerifyLicenseRequest) (bool, error) {
	body, err := json.Marshal(verifyReq)
	if err != nil {
		return false, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/licenses/verify", v.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to verify license: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var response struct {
		Success bool        `json:"success"`
		Data    LicenseInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	if !response.Success {
		return false, fmt.Errorf("registry returned unsuccessful response")
	}

	return response.Data.Valid, nil
}

// StaticLicenseVerifier accepts any non-empty license number. Used in
// development when no federation registry is configured.
type StaticLicenseVerifier struct{}

// Verify accepts every request carrying a license number
func (v *StaticLicenseVerifier) Verify(ctx context.Context, req *VerifyLicenseRequest) (bool, error) {
	return req != nil && req.LicenseNumber != "", nil
}

var (
	_ LicenseVerifier = (*HTTPLicenseVerifier)(nil)
	_ LicenseVerifier = (*StaticLicenseVerifier)(nil)
)
