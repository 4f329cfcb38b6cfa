package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignQuery_BinanceVector(t *testing.T) {
	c := Credentials{
		Key:    "vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A",
		Secret: "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j",
	}
	q := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", c.SignQuery(q))
}

func TestWSAuthFrameAt(t *testing.T) {
	c := Credentials{Key: "key", Secret: "secret"}
	f := c.WSAuthFrameAt(1700000000000000)

	assert.Equal(t, "auth", f.Event)
	assert.Equal(t, "key", f.APIKey)
	assert.Equal(t, "AUTH1700000000000000", f.AuthPayload)
	assert.Equal(t, "1700000000000000", f.AuthNonce)
	assert.Equal(t, c.SignSHA384(f.AuthPayload), f.AuthSig)
	assert.Len(t, f.AuthSig, 96)
}

func TestV1Headers(t *testing.T) {
	c := Credentials{Key: "key", Secret: "secret"}
	h := c.V1Headers([]byte(`{"request":"/v1/withdraw"}`))

	assert.Equal(t, "key", h["X-BFX-APIKEY"])
	assert.Equal(t, "eyJyZXF1ZXN0IjoiL3YxL3dpdGhkcmF3In0=", h["X-BFX-PAYLOAD"])
	assert.Equal(t, c.SignSHA384(h["X-BFX-PAYLOAD"]), h["X-BFX-SIGNATURE"])
}

func TestCredentials_StringRedacts(t *testing.T) {
	c := Credentials{Key: "abcdefgh", Secret: "xyz"}
	s := c.String()
	assert.Contains(t, s, "abcd****")
	assert.NotContains(t, s, "efgh")
	assert.Contains(t, s, "secret=****")
	assert.True(t, Credentials{Key: "k"}.Empty())
}

func TestEncryptDecryptSecret(t *testing.T) {
	blob, err := EncryptSecret("s3cr3t-api", "pw")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-api", got)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)

	_, err = EncryptSecret("x", "")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: "raw", EncryptedPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	got, err = LoadSecret(SecretConfig{})
	require.NoError(t, err)
	assert.Empty(t, got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{EncryptedPath: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}
