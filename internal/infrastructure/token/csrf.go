package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"villa-auth/internal/domain"
)

// HMACCSRFGenerator derives CSRF tokens from visitor ids using HMAC-SHA256.
// Implements domain.CSRFTokenGenerator.
type HMACCSRFGenerator struct {
	secret []byte
}

// NewHMACCSRFGenerator creates a new CSRF token generator.
func NewHMACCSRFGenerator(secret string) *HMACCSRFGenerator {
	return &HMACCSRFGenerator{secret: []byte(secret)}
}

// Generate creates a deterministic CSRF token for visitorID.
func (g *HMACCSRFGenerator) Generate(visitorID string) (string, error) {
	if len(g.secret) == 0 {
		return "", domain.ErrCSRFSecretMissing
	}
	return base64.URLEncoding.EncodeToString(g.mac(visitorID)), nil
}

// Verify checks token against the token derived from visitorID in constant time.
func (g *HMACCSRFGenerator) Verify(visitorID, token string) error {
	if len(g.secret) == 0 {
		return domain.ErrCSRFSecretMissing
	}
	got, err := base64.URLEncoding.DecodeString(token)
	if err != nil || visitorID == "" || !hmac.Equal(got, g.mac(visitorID)) {
		return domain.ErrCSRFMismatch
	}
	return nil
}

func (g *HMACCSRFGenerator) mac(visitorID string) []byte {
	m := hmac.New(sha256.New, g.secret)
	m.Write([]byte(visitorID))
	return m.Sum(nil)
}
