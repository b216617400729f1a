package ctlapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"eswap/internal/esconfig"
	"eswap/internal/estat"
)

func TestEnableAndStatusRoundTrip(t *testing.T) {
	cfg := esconfig.New()
	stats := estat.New()
	h := NewHandler(cfg, stats)
	srv := httptest.NewServer(h)
	defer srv.Close()

	body, _ := json.Marshal(ToggleRequest{Enable: true})
	resp, err := http.Post(srv.URL+"/enable", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post enable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("got status %d want 204", resp.StatusCode)
	}
	if !cfg.Enabled() {
		t.Fatalf("expected config enabled after POST /enable")
	}

	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	var st StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Enabled {
		t.Fatalf("expected status.Enabled true")
	}
}

func TestLogLevelRejectsUnknownValue(t *testing.T) {
	cfg := esconfig.New()
	stats := estat.New()
	srv := httptest.NewServer(NewHandler(cfg, stats))
	defer srv.Close()

	body, _ := json.Marshal(LogLevelRequest{Level: "nonsense"})
	resp, err := http.Post(srv.URL+"/log-level", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post log-level: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got status %d want 400", resp.StatusCode)
	}
}
