package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"pegvault/internal/model"
	"pegvault/internal/oracle"
	"pegvault/internal/token"
	"pegvault/internal/vault"
)

type fixture struct {
	srv    *httptest.Server
	pegged *token.Book
	native *token.Book
	stable *token.Book
	vault  *vault.Vault
	oracle *oracle.Oracle
}

func newFixture(t *testing.T, totpSecret string) *fixture {
	t.Helper()

	pegged := token.NewBook("USDP", "ledgerowner")
	native := token.NewBook("TRX", "ledgerowner")
	stable := token.NewBook("USDT", "ledgerowner")
	if err := pegged.SetMinter("ledgerowner", "vault"); err != nil {
		t.Fatal(err)
	}

	v, err := vault.New(vault.Config{
		Identity:        "vault",
		Owner:           "owner",
		FeeCollector:    "collector",
		PriceSource:     "oracle",
		BuyFeeBps:       50,
		SellFeeBps:      50,
		InitialRate:     3_000_000,
		MaxDeviationBps: 1000,
		MinUpdatePeriod: time.Hour,
	}, pegged.AsCaller("vault"), native.AsCaller("vault"), stable.AsCaller("vault"))
	if err != nil {
		t.Fatal(err)
	}

	o, err := oracle.New(oracle.Config{
		Identity:          "oracle",
		Owner:             "owner",
		InitialRate:       3_000_000,
		MaxDeviationBps:   1000,
		MinUpdateInterval: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.SetVault("owner", v); err != nil {
		t.Fatal(err)
	}
	if err := o.AddUpdater("owner", "feeder"); err != nil {
		t.Fatal(err)
	}

	s := NewServer(Config{
		Vault:           v,
		Oracle:          o,
		Pegged:          pegged,
		Native:          native,
		Stable:          stable,
		AdminTOTPSecret: totpSecret,
	})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	return &fixture{srv: ts, pegged: pegged, native: native, stable: stable, vault: v, oracle: o}
}

func (f *fixture) do(t *testing.T, method, path, caller string, body any, hdr map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestPriceEndpoint(t *testing.T) {
	f := newFixture(t, "")
	resp, body := f.do(t, "GET", "/api/v1/price", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["rate"].(float64) != 3_000_000 {
		t.Errorf("rate = %v, want 3000000", body["rate"])
	}
	if body["buy_fee_bps"].(float64) != 50 {
		t.Errorf("buy_fee_bps = %v, want 50", body["buy_fee_bps"])
	}
}

func TestBuyFlowOverHTTP(t *testing.T) {
	f := newFixture(t, "")
	if err := f.native.Mint("ledgerowner", "alice", 1_000_000); err != nil {
		t.Fatal(err)
	}

	// Approve the vault pull through the API, then buy.
	resp, _ := f.do(t, "POST", "/api/v1/approve", "alice",
		map[string]any{"currency": "native", "spender": "vault", "amount": 1_000_000}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d", resp.StatusCode)
	}

	resp, body := f.do(t, "POST", "/api/v1/buy/native", "alice",
		map[string]any{"amount": 1_000_000}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("buy status = %d", resp.StatusCode)
	}
	if body["minted"].(float64) != 2_985_000 {
		t.Errorf("minted = %v, want 2985000", body["minted"])
	}
	if got := f.pegged.BalanceOf("alice"); got != 2_985_000 {
		t.Errorf("pegged balance = %d, want 2985000", got)
	}
}

func TestMissingCallerRejected(t *testing.T) {
	f := newFixture(t, "")
	resp, _ := f.do(t, "POST", "/api/v1/buy/native", "",
		map[string]any{"amount": 1}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestErrorTaxonomyMapping(t *testing.T) {
	f := newFixture(t, "")

	// No allowance: 409.
	if err := f.native.Mint("ledgerowner", "bob", 500); err != nil {
		t.Fatal(err)
	}
	resp, _ := f.do(t, "POST", "/api/v1/buy/native", "bob",
		map[string]any{"amount": 500}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("no-allowance status = %d, want 409", resp.StatusCode)
	}

	// Non-owner fee change: 403 (TOTP disabled in this fixture).
	resp, _ = f.do(t, "POST", "/api/v1/admin/fees", "mallory",
		map[string]any{"side": "buy", "bps": 10}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("unauthorized status = %d, want 403", resp.StatusCode)
	}

	// Zero amount: 400.
	resp, _ = f.do(t, "POST", "/api/v1/sell/stable", "bob",
		map[string]any{"amount": 0}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero-amount status = %d, want 400", resp.StatusCode)
	}
}

func TestOracleUpdateOverHTTP(t *testing.T) {
	f := newFixture(t, "")

	resp, _ := f.do(t, "POST", "/api/v1/oracle/price", "feeder",
		map[string]any{"rate": 3_200_000}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	// The push propagated into the vault mirror.
	rate, _ := f.vault.Rate()
	if rate != 3_200_000 {
		t.Errorf("vault rate = %d, want 3200000", rate)
	}

	// Excessive deviation: 422.
	resp, _ = f.do(t, "POST", "/api/v1/oracle/price", "feeder",
		map[string]any{"rate": 6_000_000}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("deviation status = %d, want 422", resp.StatusCode)
	}

	// Unknown caller: 403.
	resp, _ = f.do(t, "POST", "/api/v1/oracle/price", "mallory",
		map[string]any{"rate": 3_200_000}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("unauthorized status = %d, want 403", resp.StatusCode)
	}
}

func TestAdminTOTPGate(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	f := newFixture(t, secret)

	// Missing code rejected.
	resp, _ := f.do(t, "POST", "/api/v1/admin/fees", "owner",
		map[string]any{"side": "buy", "bps": 25}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no-code status = %d, want 401", resp.StatusCode)
	}

	// Valid code passes through to the engine.
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	resp, _ = f.do(t, "POST", "/api/v1/admin/fees", "owner",
		map[string]any{"side": "buy", "bps": 25},
		map[string]string{"X-Admin-TOTP": code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid-code status = %d, want 200", resp.StatusCode)
	}
	buyBps, _ := f.vault.Fees()
	if buyBps != 25 {
		t.Errorf("buy fee = %d, want 25", buyBps)
	}
}

func TestBalanceAndSupplyEndpoints(t *testing.T) {
	f := newFixture(t, "")
	if err := f.stable.Mint("ledgerowner", "carol", 42_000); err != nil {
		t.Fatal(err)
	}

	resp, body := f.do(t, "GET", "/api/v1/balance/carol", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["stable"].(float64) != 42_000 {
		t.Errorf("stable balance = %v, want 42000", body["stable"])
	}

	resp, body = f.do(t, "GET", "/api/v1/supply", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["stable"].(float64) != 42_000 {
		t.Errorf("stable supply = %v, want 42000", body["stable"])
	}
}

func TestHistoryDisabledWithoutJournal(t *testing.T) {
	f := newFixture(t, "")
	resp, _ := f.do(t, "GET", "/api/v1/history/ops", "", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

var _ model.PriceSink = (*vault.Vault)(nil)
