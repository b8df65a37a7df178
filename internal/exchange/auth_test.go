package exchange

import (
	"strings"
	"testing"

	"polymarket-mm/internal/config"
)

func testAuthConfig() config.Config {
	return config.Config{
		Account: config.AccountConfig{
			PrivateKey: "0x4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d",
			AccountID:  "acct-123",
			ChainID:    421614,
		},
		API: config.APIConfig{
			Key:    "orderly-key",
			Secret: "c2VjcmV0LWJ5dGVz", // base64("secret-bytes")
		},
	}
}

func TestNewAuthDerivesAddress(t *testing.T) {
	t.Parallel()

	a, err := NewAuth(testAuthConfig())
	if err != nil {
		t.Fatalf("NewAuth() error = %v", err)
	}
	if a.Address().Hex() == "" {
		t.Error("expected a non-empty derived address")
	}
	if !a.HasCredentials() {
		t.Error("expected HasCredentials() to be true when key/secret are configured")
	}
}

func TestHasCredentialsFalseWhenMissing(t *testing.T) {
	t.Parallel()

	cfg := testAuthConfig()
	cfg.API.Key = ""
	cfg.API.Secret = ""

	a, err := NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth() error = %v", err)
	}
	if a.HasCredentials() {
		t.Error("expected HasCredentials() to be false when key/secret are empty")
	}
}

func TestTradingHeadersIncludesAccountAndKey(t *testing.T) {
	t.Parallel()

	a, err := NewAuth(testAuthConfig())
	if err != nil {
		t.Fatalf("NewAuth() error = %v", err)
	}

	headers, err := a.TradingHeaders("POST", "/v1/order", `{"symbol":"PERP_ETH_USDC"}`)
	if err != nil {
		t.Fatalf("TradingHeaders() error = %v", err)
	}
	if headers["ORDERLY_ACCOUNT_ID"] != "acct-123" {
		t.Errorf("ORDERLY_ACCOUNT_ID = %q, want acct-123", headers["ORDERLY_ACCOUNT_ID"])
	}
	if headers["ORDERLY_KEY"] != "orderly-key" {
		t.Errorf("ORDERLY_KEY = %q, want orderly-key", headers["ORDERLY_KEY"])
	}
	if headers["ORDERLY_SIGNATURE"] == "" {
		t.Error("expected a non-empty signature")
	}
	if headers["ORDERLY_TIMESTAMP"] == "" {
		t.Error("expected a non-empty timestamp")
	}
}

func TestTradingHeadersSignatureChangesWithBody(t *testing.T) {
	t.Parallel()

	a, err := NewAuth(testAuthConfig())
	if err != nil {
		t.Fatalf("NewAuth() error = %v", err)
	}

	h1, err := a.TradingHeaders("POST", "/v1/order", `{"qty":"1"}`)
	if err != nil {
		t.Fatalf("TradingHeaders() error = %v", err)
	}
	h2, err := a.TradingHeaders("POST", "/v1/order", `{"qty":"2"}`)
	if err != nil {
		t.Fatalf("TradingHeaders() error = %v", err)
	}

	if h1["ORDERLY_SIGNATURE"] == h2["ORDERLY_SIGNATURE"] {
		t.Error("expected different bodies to produce different signatures")
	}
}

func TestRegistrationHeadersSigned(t *testing.T) {
	t.Parallel()

	a, err := NewAuth(testAuthConfig())
	if err != nil {
		t.Fatalf("NewAuth() error = %v", err)
	}

	headers, err := a.RegistrationHeaders(1)
	if err != nil {
		t.Fatalf("RegistrationHeaders() error = %v", err)
	}
	if !strings.HasPrefix(headers["ORDERLY_SIGNATURE"], "0x") {
		t.Errorf("expected hex-prefixed signature, got %q", headers["ORDERLY_SIGNATURE"])
	}
	if headers["ORDERLY_ADDRESS"] != a.Address().Hex() {
		t.Errorf("ORDERLY_ADDRESS = %q, want %q", headers["ORDERLY_ADDRESS"], a.Address().Hex())
	}
}

func TestWSAuthPayload(t *testing.T) {
	t.Parallel()

	a, err := NewAuth(testAuthConfig())
	if err != nil {
		t.Fatalf("NewAuth() error = %v", err)
	}
	payload := a.WSAuthPayload()
	if payload["account_id"] != "acct-123" {
		t.Errorf("account_id = %q, want acct-123", payload["account_id"])
	}
	if payload["orderly_key"] != "orderly-key" {
		t.Errorf("orderly_key = %q, want orderly-key", payload["orderly_key"])
	}
}
