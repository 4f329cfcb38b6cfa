package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"time"
)

// Credentials holds an exchange API key pair. The secret is used raw as
// the HMAC key by both supported venues.
type Credentials struct {
	Key    string
	Secret string
}

// SignQuery returns the hex HMAC-SHA256 of an url-encoded query string, the
// form Binance expects in the "signature" parameter of signed endpoints.
func (c Credentials) SignQuery(query string) string {
	return hmacHex(sha256.New, []byte(c.Secret), query)
}

// SignSHA384 returns the hex HMAC-SHA384 of message.
func (c Credentials) SignSHA384(message string) string {
	return hmacHex(sha512.New384, []byte(c.Secret), message)
}

// WSAuth is the Bitfinex v2 websocket authentication frame.
type WSAuth struct {
	Event       string `json:"event"`
	APIKey      string `json:"apiKey"`
	AuthSig     string `json:"authSig"`
	AuthPayload string `json:"authPayload"`
	AuthNonce   string `json:"authNonce"`
}

// WSAuthFrame builds a websocket auth frame with a nonce derived from the
// current time.
func (c Credentials) WSAuthFrame() WSAuth {
	return c.WSAuthFrameAt(time.Now().UnixMicro())
}

// WSAuthFrameAt is like WSAuthFrame but lets the caller supply the nonce.
func (c Credentials) WSAuthFrameAt(nonce int64) WSAuth {
	n := strconv.FormatInt(nonce, 10)
	payload := "AUTH" + n
	return WSAuth{
		Event:       "auth",
		APIKey:      c.Key,
		AuthSig:     c.SignSHA384(payload),
		AuthPayload: payload,
		AuthNonce:   n,
	}
}

// V1Headers returns the headers of an authenticated Bitfinex v1 REST call
// whose JSON body is body. The payload header carries the base64 body and
// the signature covers that base64 text.
//
// Returned header keys:
//   - X-BFX-APIKEY
//   - X-BFX-PAYLOAD
//   - X-BFX-SIGNATURE
func (c Credentials) V1Headers(body []byte) map[string]string {
	payload := base64.StdEncoding.EncodeToString(body)
	return map[string]string{
		"X-BFX-APIKEY":    c.Key,
		"X-BFX-PAYLOAD":   payload,
		"X-BFX-SIGNATURE": c.SignSHA384(payload),
	}
}

// Empty reports whether no key has been configured.
func (c Credentials) Empty() bool {
	return c.Key == "" || c.Secret == ""
}

func hmacHex(h func() hash.Hash, key []byte, message string) string {
	mac := hmac.New(h, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (c Credentials) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Credentials{key=%s, secret=%s}", redact(c.Key), redact(c.Secret))
}
