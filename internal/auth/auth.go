package auth

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Martin-Hayot/auction-ledger/pkg/errors"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/charmbracelet/log"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"golang.org/x/crypto/hkdf"
)

const (
	SessionCookie = "authjs.session-token"
	AddressClaim  = "address"
	EmailClaim    = "email"
)

// Authenticator resolves the caller of a request from an HS256 bearer token
// or from an Auth.js encrypted session cookie. Both are keyed by the same secret.
type Authenticator struct {
	secret []byte
}

func New(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New(errors.ErrCodeInternalServer, "auth secret not set")
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

func (a *Authenticator) GenerateEncryptionKey() ([]byte, error) {
	info := fmt.Sprintf("Auth.js Generated Encryption Key (%s)", SessionCookie)

	// HKDF with SHA-256
	hash := sha256.New
	kdf := hkdf.New(hash, a.secret, []byte(SessionCookie), []byte(info))

	key := make([]byte, 64)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}

	return key, nil
}

func (a *Authenticator) JweToJwt(encryptedToken string) (string, error) {
	key, err := a.GenerateEncryptionKey()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate encryption key")
	}

	// Decrypt JWE using DIRECT key encryption
	decrypted, err := jwe.Decrypt([]byte(encryptedToken),
		jwe.WithKey(jwa.DIRECT(), key))
	if err != nil {
		return "", errors.Wrap(err, "failed to decrypt JWE")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(decrypted, &payload); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal decrypted payload")
	}

	token := jwt.New()
	for k, v := range payload {
		if err := token.Set(k, v); err != nil {
			return "", errors.Wrap(err, "failed to copy claim "+k)
		}
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), a.secret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign JWT")
	}

	return string(signed), nil
}

func (a *Authenticator) parse(raw string) (jwt.Token, error) {
	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256(), a.secret),
		jwt.WithValidate(true))
	if err != nil {
		return nil, errors.WithCause(errors.ErrUnauthorized, err)
	}

	// Check expiration
	if exp, ok := token.Expiration(); ok && exp.Before(time.Now()) {
		return nil, errors.New(errors.ErrCodeUnauthorized, "session token expired")
	}

	return token, nil
}

func (a *Authenticator) ValidateTokenFromCookie(r *http.Request) (jwt.Token, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "missing session token cookie")
	}

	// Convert JWE to JWT
	jwtString, err := a.JweToJwt(cookie.Value)
	if err != nil {
		log.Error("Failed to convert JWE to JWT", "error", err)
		return nil, errors.WithCause(errors.ErrUnauthorized, err)
	}

	return a.parse(jwtString)
}

// ValidateBearer verifies the token of an "Authorization: Bearer" header.
func (a *Authenticator) ValidateBearer(r *http.Request) (jwt.Token, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "missing bearer token")
	}
	return a.parse(strings.TrimSpace(raw))
}

// Identify returns the caller of r. A bearer token takes precedence over the
// session cookie. The token must carry a non-null address claim.
func (a *Authenticator) Identify(r *http.Request) (types.User, error) {
	var (
		token jwt.Token
		err   error
	)
	if r.Header.Get("Authorization") != "" {
		token, err = a.ValidateBearer(r)
	} else {
		token, err = a.ValidateTokenFromCookie(r)
	}
	if err != nil {
		return types.User{}, err
	}
	return userFromToken(token)
}

func userFromToken(token jwt.Token) (types.User, error) {
	var user types.User
	if sub, ok := token.Subject(); ok {
		user.ID = sub
	}

	var address string
	if err := token.Get(AddressClaim, &address); err != nil {
		return types.User{}, errors.New(errors.ErrCodeUnauthorized, "token has no address claim")
	}
	user.Address = types.Address(address).Normalize()
	if user.Address.IsZero() {
		return types.User{}, errors.New(errors.ErrCodeUnauthorized, "token address is the null address")
	}

	// Optional claims
	_ = token.Get(EmailClaim, &user.Email)
	_ = token.Get("name", &user.Name)
	_ = token.Get("role", &user.Role)
	if user.ID == "" {
		user.ID = string(user.Address)
	}
	return user, nil
}

// IssueToken signs a bearer token for user valid for ttl.
func (a *Authenticator) IssueToken(user types.User, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.New()
	claims := map[string]interface{}{
		jwt.SubjectKey:    user.ID,
		jwt.IssuedAtKey:   now,
		jwt.ExpirationKey: now.Add(ttl),
		AddressClaim:      string(user.Address),
	}
	if user.Email != "" {
		claims[EmailClaim] = user.Email
	}
	for k, v := range claims {
		if err := token.Set(k, v); err != nil {
			return "", errors.Wrap(err, "failed to set claim "+k)
		}
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), a.secret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign JWT")
	}
	return string(signed), nil
}
