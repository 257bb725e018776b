package auth

import (
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/Martin-Hayot/auction-ledger/pkg/errors"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New("test-secret")
	require.NoError(t, err)
	return a
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestIdentify_BearerToken(t *testing.T) {
	a := newAuth(t)
	raw, err := a.IssueToken(types.User{ID: "user-1", Email: "a@example.com", Address: "0xABC"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)

	user, err := a.Identify(req)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "a@example.com", user.Email)
	assert.Equal(t, types.Address("0xabc"), user.Address)
}

func TestIdentify_Rejects(t *testing.T) {
	a := newAuth(t)
	other, err := New("another-secret")
	require.NoError(t, err)

	foreign, err := other.IssueToken(types.User{ID: "x", Address: "0x1"}, time.Hour)
	require.NoError(t, err)
	expired, err := a.IssueToken(types.User{ID: "x", Address: "0x1"}, -time.Hour)
	require.NoError(t, err)
	nullAddress, err := a.IssueToken(types.User{ID: "x", Address: "0x0000"}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		cookie string
	}{
		{"no credentials", "", ""},
		{"empty bearer", "Bearer ", ""},
		{"wrong secret", "Bearer " + foreign, ""},
		{"expired", "Bearer " + expired, ""},
		{"null address", "Bearer " + nullAddress, ""},
		{"garbage cookie", "", "not-a-jwe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			_, err := a.Identify(req)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, apperrors.ErrUnauthorized))
		})
	}
}

func TestGenerateEncryptionKey_Deterministic(t *testing.T) {
	a := newAuth(t)
	k1, err := a.GenerateEncryptionKey()
	require.NoError(t, err)
	k2, err := a.GenerateEncryptionKey()
	require.NoError(t, err)
	assert.Len(t, k1, 64)
	assert.Equal(t, k1, k2)
}
