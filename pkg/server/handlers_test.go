package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseLatLngRadiusDefaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nearby?lat=40.1&lng=-73.2", nil)
	lat, lng, radius, err := parseLatLngRadius(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lat != 40.1 || lng != -73.2 {
		t.Fatalf("expected lat/lng to be parsed, got (%v, %v)", lat, lng)
	}
	if radius != 1000 {
		t.Fatalf("expected the default radius of 1000m, got %v", radius)
	}
}

func TestParseLatLngRadiusExplicit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nearby?lat=1&lng=2&radiusMeters=250", nil)
	_, _, radius, err := parseLatLngRadius(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if radius != 250 {
		t.Fatalf("expected radiusMeters=250, got %v", radius)
	}
}

func TestParseLatLngRadiusInvalidLat(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nearby?lat=not-a-number&lng=2", nil)
	if _, _, _, err := parseLatLngRadius(req); err == nil {
		t.Fatalf("expected an error for a non-numeric lat")
	}
}

func TestParseLatLngRadiusMissingLng(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nearby?lat=1", nil)
	if _, _, _, err := parseLatLngRadius(req); err == nil {
		t.Fatalf("expected an error for a missing lng")
	}
}
