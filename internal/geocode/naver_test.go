package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGeocodeResolves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/map-geocode/v2/geocode" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("X-NCP-APIGW-API-KEY-ID"); got != "id-1" {
			t.Errorf("client id header = %q", got)
		}
		if got := r.URL.Query().Get("query"); got != "서울특별시 강남구 테헤란로 123" {
			t.Errorf("query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","addresses":[{"x":"127.0276","y":"37.4979"}]}`))
	}))
	defer srv.Close()

	c := NewNaverClient(srv.URL, "id-1", "secret-1")
	lat, lng, ok, err := c.Geocode(context.Background(), "서울특별시 강남구 테헤란로 123")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if !ok {
		t.Fatal("expected ok")
	}
	if lat != 37.4979 || lng != 127.0276 {
		t.Fatalf("got %v, %v", lat, lng)
	}
}

func TestGeocodeNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","addresses":[]}`))
	}))
	defer srv.Close()

	_, _, ok, err := NewNaverClient(srv.URL, "id", "secret").Geocode(context.Background(), "없는 주소")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if ok {
		t.Fatal("expected no match")
	}
}

func TestGeocodeAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Authentication Failed"}}`))
	}))
	defer srv.Close()

	_, _, _, err := NewNaverClient(srv.URL, "bad", "bad").Geocode(context.Background(), "서울")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGeocodeBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"INVALID_REQUEST","errorMessage":"query required"}`))
	}))
	defer srv.Close()

	_, _, _, err := NewNaverClient(srv.URL, "id", "secret").Geocode(context.Background(), "")
	if err == nil {
		t.Fatal("expected error")
	}
}
