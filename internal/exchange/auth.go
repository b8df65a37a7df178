package exchange

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"polymarket-mm/internal/config"
)

// Credentials holds the trading API key pair returned by the key-registration
// endpoint. These sign every HMAC-authenticated trading request.
type Credentials struct {
	Key    string `json:"orderly_key"`
	Secret string `json:"orderly_secret"`
}

// Auth handles two layers of exchange authentication:
//
//   - L1 (EIP-712): used once to register a trading API key. Signs a typed-data
//     "RegisterKey" message with the wallet's private key, proving ownership of
//     the account the key is being registered against.
//
//   - L2 (HMAC-SHA256): used for all trading operations. Signs
//     "timestamp + method + path [+ body]" with the registered API secret.
type Auth struct {
	privateKey *ecdsa.PrivateKey // EOA private key for L1 signing
	address    common.Address    // EOA address derived from privateKey
	accountID  string            // exchange account identifier
	chainID    *big.Int          // chain id the wallet signature is scoped to
	creds      Credentials       // L2 API credentials (derived or configured)
}

// NewAuth creates an Auth instance from config.
func NewAuth(cfg config.Config) (*Auth, error) {
	keyHex := cfg.Account.PrivateKey
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	return &Auth{
		privateKey: privateKey,
		address:    address,
		accountID:  cfg.Account.AccountID,
		chainID:    big.NewInt(int64(cfg.Account.ChainID)),
		creds: Credentials{
			Key:    cfg.API.Key,
			Secret: cfg.API.Secret,
		},
	}, nil
}

// Address returns the signer's Ethereum address.
func (a *Auth) Address() common.Address {
	return a.address
}

// ChainID returns the configured chain ID.
func (a *Auth) ChainID() *big.Int {
	return a.chainID
}

// AccountID returns the exchange account identifier.
func (a *Auth) AccountID() string {
	return a.accountID
}

// HasCredentials returns whether a trading API key pair is configured.
func (a *Auth) HasCredentials() bool {
	return a.creds.Key != "" && a.creds.Secret != ""
}

// SetCredentials sets the trading API credentials (after deriving them via L1).
func (a *Auth) SetCredentials(creds Credentials) {
	a.creds = creds
}

// RegistrationHeaders generates headers for the one-time key-registration
// request, proving wallet ownership via an EIP-712 signature.
func (a *Auth) RegistrationHeaders(nonce int) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := a.signRegisterKey(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("sign register key: %w", err)
	}

	return map[string]string{
		"ORDERLY_ACCOUNT_ID": a.accountID,
		"ORDERLY_ADDRESS":    a.address.Hex(),
		"ORDERLY_SIGNATURE":  sig,
		"ORDERLY_TIMESTAMP":  timestamp,
		"ORDERLY_NONCE":      strconv.Itoa(nonce),
	}, nil
}

// TradingHeaders generates headers for HMAC-authenticated trading endpoints.
func (a *Auth) TradingHeaders(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := a.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}

	return map[string]string{
		"ORDERLY_ACCOUNT_ID": a.accountID,
		"ORDERLY_KEY":        a.creds.Key,
		"ORDERLY_SIGNATURE":  sig,
		"ORDERLY_TIMESTAMP":  timestamp,
	}, nil
}

// WSAuthPayload returns the subscribe-time auth payload for the private
// WebSocket feed.
func (a *Auth) WSAuthPayload() map[string]string {
	return map[string]string{
		"account_id": a.accountID,
		"orderly_key": a.creds.Key,
	}
}

// signRegisterKey produces an EIP-712 signature proving the wallet controls
// the account a new trading API key is being registered against.
func (a *Auth) signRegisterKey(timestamp string, nonce int) (string, error) {
	sig, err := a.SignTypedData(
		&apitypes.TypedDataDomain{
			Name:    "RegisterKeyDomain",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"RegisterKey": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		apitypes.TypedDataMessage{
			"address":   a.address.Hex(),
			"timestamp": timestamp,
			"nonce":     fmt.Sprintf("%d", nonce),
			"message":   "This message registers a trading API key for the given wallet",
		},
		"RegisterKey",
	)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	return "0x" + common.Bytes2Hex(sig), nil
}

// SignTypedData signs EIP-712 typed data and adjusts V to 27/28.
func (a *Auth) SignTypedData(
	domain *apitypes.TypedDataDomain,
	typesDef apitypes.Types,
	message apitypes.TypedDataMessage,
	primaryType string,
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}

	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// buildHMAC computes the HMAC-SHA256 signature for trading requests.
// message = timestamp + method + requestPath [+ body]
func (a *Auth) buildHMAC(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(a.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path
	if body != "" {
		message += body
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return sig, nil
}
