package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"accounts-ledger/pkg/metrics"
	"accounts-ledger/pkg/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		BaseURL:    srv.URL + "/",
		Resilience: resilience.DirectoryConfig(),
	}, metrics.NoOpCollector{})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClient_RequiresURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}, nil); err == nil {
		t.Error("Expected error for empty base URL")
	}
}

func TestClient_GetOwners(t *testing.T) {
	var gotIDs string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clients" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		gotIDs = r.URL.Query().Get("ids")
		json.NewEncoder(w).Encode([]Owner{{ID: "a", FullName: "Ada", AccountNumbers: []int64{2}}})
	})

	owners, err := c.GetOwners(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("GetOwners failed: %v", err)
	}
	if gotIDs != "a,b" {
		t.Errorf("Expected ids=a,b, got %q", gotIDs)
	}
	if len(owners) != 1 || owners[0].FullName != "Ada" {
		t.Errorf("Unexpected owners: %+v", owners)
	}
}

func TestClient_EmptyResultIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})

	owners, err := c.GetOwners(context.Background(), []string{"ghost"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(owners) != 0 {
		t.Errorf("Expected no owners, got %+v", owners)
	}
}

func TestClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.GetOwners(context.Background(), []string{"a"})
			if !errors.Is(err, ErrUnavailable) {
				t.Errorf("Expected ErrUnavailable, got %v", err)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	d := NewStatic(Owner{ID: "a"})
	d.Add(Owner{ID: "b"})

	owners, err := d.GetOwners(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(owners) != 2 {
		t.Errorf("Expected 2 owners, got %d", len(owners))
	}
}
