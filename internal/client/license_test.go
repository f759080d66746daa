package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func verifyRequest() *VerifyLicenseRequest {
	return &VerifyLicenseRequest{
		LicenseNumber: "FFA-12345",
		Name:          "Ada Marchand",
		BirthDate:     "1990-04-12",
		EventCode:     "event-001",
	}
}

func TestHTTPLicenseVerifier_SendsFullRequest(t *testing.T) {
	var got VerifyLicenseRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/licenses/verify" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    LicenseInfo{LicenseNumber: got.LicenseNumber, Valid: true},
		})
	}))
	defer server.Close()

	v := NewHTTPLicenseVerifier(server.URL, time.Minute)

	valid, err := v.Verify(context.Background(), verifyRequest())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !valid {
		t.Error("Expected license to be valid")
	}

	want := verifyRequest()
	if got != *want {
		t.Errorf("Registry saw %+v, want %+v", got, *want)
	}
}

func TestHTTPLicenseVerifier_InvalidLicense(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    LicenseInfo{Valid: false},
		})
	}))
	defer server.Close()

	v := NewHTTPLicenseVerifier(server.URL, time.Minute)

	valid, err := v.Verify(context.Background(), verifyRequest())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if valid {
		t.Error("Expected license to be invalid")
	}
}

func TestHTTPLicenseVerifier_UnknownLicense(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	v := NewHTTPLicenseVerifier(server.URL, time.Minute)

	valid, err := v.Verify(context.Background(), verifyRequest())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if valid {
		t.Error("Unknown license should not verify")
	}
}

func TestHTTPLicenseVerifier_CachesVerdict(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    LicenseInfo{Valid: true},
		})
	}))
	defer server.Close()

	v := NewHTTPLicenseVerifier(server.URL, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), verifyRequest()); err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 upstream call, got %d", n)
	}

	// A different holder with the same number must not hit the cache.
	other := verifyRequest()
	other.Name = "Someone Else"
	if _, err := v.Verify(context.Background(), other); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("Expected 2 upstream calls after holder change, got %d", n)
	}
}

func TestHTTPLicenseVerifier_EmptyNumber(t *testing.T) {
	v := NewHTTPLicenseVerifier("http://registry.invalid", time.Minute)

	valid, err := v.Verify(context.Background(), &VerifyLicenseRequest{})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if valid {
		t.Error("Empty license number should not verify")
	}
}

func TestStaticLicenseVerifier(t *testing.T) {
	v := &StaticLicenseVerifier{}

	if valid, _ := v.Verify(context.Background(), verifyRequest()); !valid {
		t.Error("Expected non-empty license number to pass")
	}
	if valid, _ := v.Verify(context.Background(), &VerifyLicenseRequest{Name: "Ada"}); valid {
		t.Error("Expected empty license number to fail")
	}
	if valid, _ := v.Verify(context.Background(), nil); valid {
		t.Error("Expected nil request to fail")
	}
}
