package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetConnectionStatusAuthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/api/iserver/auth/status" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"authenticated": true,
			"connected":     true,
			"competing":     false,
			"message":       "",
		})
	}))
	defer srv.Close()

	gw := New(Config{BaseURL: srv.URL, Accounts: []string{"A"}})
	status := gw.GetConnectionStatus(context.Background())

	if !status.Reachable || !status.Authenticated || !status.Connected {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestGetConnectionStatusUnreachableOnRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Accounts: []string{"A"}})
	client.client.SetRedirectPolicy(noRedirectPolicy{})

	status := client.GetConnectionStatus(context.Background())
	if status.Reachable {
		t.Errorf("expected unreachable on redirect, got %+v", status)
	}
}

type noRedirectPolicy struct{}

func (noRedirectPolicy) Apply(req *http.Request, via []*http.Request) error {
	return http.ErrUseLastResponse
}

func TestGetPositionsUpdatesLimiterFromConfiguredHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/api/iserver/account":
			w.WriteHeader(http.StatusOK)
		case "/v1/api/portfolio/A/positions/0":
			w.Header().Set("X-Broker-Weight", "42")
			json.NewEncoder(w).Encode([]map[string]any{})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	gw := New(Config{BaseURL: srv.URL, Accounts: []string{"A"}, RateLimitHeader: "X-Broker-Weight"})
	if _, err := gw.GetPositions(context.Background(), "A"); err != nil {
		t.Fatalf("GetPositions returned error: %v", err)
	}

	gw.limiter.mu.RLock()
	used := gw.limiter.usedWeight
	gw.limiter.mu.RUnlock()
	if used != 42 {
		t.Errorf("usedWeight = %d, want 42 read from the configured header", used)
	}
}

func TestGetConfiguredAccountsReportsLastSwitched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gw := New(Config{BaseURL: srv.URL, Accounts: []string{"A", "B"}})

	accounts := gw.GetConfiguredAccounts()
	if len(accounts) != 2 {
		t.Fatalf("expected 2 configured accounts, got %d", len(accounts))
	}
	if !accounts[0].LastSwitchedAt.IsZero() || !accounts[1].LastSwitchedAt.IsZero() {
		t.Fatalf("expected zero LastSwitchedAt before any switch, got %+v", accounts)
	}

	if err := gw.SwitchAccount(context.Background(), "B"); err != nil {
		t.Fatalf("SwitchAccount returned error: %v", err)
	}

	accounts = gw.GetConfiguredAccounts()
	var foundB bool
	for _, a := range accounts {
		if a.AccountID == "B" {
			foundB = true
			if a.LastSwitchedAt.IsZero() {
				t.Errorf("expected non-zero LastSwitchedAt for B after switching")
			}
		}
	}
	if !foundB {
		t.Fatalf("expected account B in configured accounts, got %+v", accounts)
	}
}

func TestGetPositionsFiltersZeroQuantity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/api/iserver/account":
			w.WriteHeader(http.StatusOK)
		case "/v1/api/portfolio/A/positions/0":
			json.NewEncoder(w).Encode([]map[string]any{
				{"conid": 1, "ticker": "AAPL", "position": "100", "avgPrice": "150.00", "mktPrice": "160.00", "currency": "USD"},
				{"conid": 2, "ticker": "MSFT", "position": "0", "avgPrice": "300.00", "mktPrice": "310.00", "currency": "USD"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	gw := New(Config{BaseURL: srv.URL, Accounts: []string{"A"}})
	positions, err := gw.GetPositions(context.Background(), "A")
	if err != nil {
		t.Fatalf("GetPositions returned error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 non-zero position, got %d", len(positions))
	}
	if positions[0].Ticker != "AAPL" {
		t.Errorf("Ticker = %s, want AAPL", positions[0].Ticker)
	}
}
