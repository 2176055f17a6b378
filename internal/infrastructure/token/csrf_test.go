package token

import (
	"testing"

	"villa-auth/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACCSRFGenerator_Generate(t *testing.T) {
	gen := NewHMACCSRFGenerator("csrf-secret-for-tests-32-characters")

	a, err := gen.Generate("visitor-1")
	require.NoError(t, err)
	b, err := gen.Generate("visitor-1")
	require.NoError(t, err)
	c, err := gen.Generate("visitor-2")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestHMACCSRFGenerator_MissingSecret(t *testing.T) {
	gen := NewHMACCSRFGenerator("")

	_, err := gen.Generate("visitor-1")
	assert.ErrorIs(t, err, domain.ErrCSRFSecretMissing)
	assert.ErrorIs(t, gen.Verify("visitor-1", "x"), domain.ErrCSRFSecretMissing)
}

func TestHMACCSRFGenerator_Verify(t *testing.T) {
	gen := NewHMACCSRFGenerator("csrf-secret-for-tests-32-characters")
	tok, err := gen.Generate("visitor-1")
	require.NoError(t, err)

	tests := []struct {
		name      string
		visitorID string
		token     string
		wantErr   error
	}{
		{name: "matching", visitorID: "visitor-1", token: tok},
		{name: "other visitor", visitorID: "visitor-2", token: tok, wantErr: domain.ErrCSRFMismatch},
		{name: "empty token", visitorID: "visitor-1", token: "", wantErr: domain.ErrCSRFMismatch},
		{name: "not base64", visitorID: "visitor-1", token: "%%%", wantErr: domain.ErrCSRFMismatch},
		{name: "empty visitor", visitorID: "", token: tok, wantErr: domain.ErrCSRFMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gen.Verify(tt.visitorID, tt.token)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
