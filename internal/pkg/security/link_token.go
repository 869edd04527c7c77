package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const purposeVerifyEmail = "verify_email"

var (
	ErrInvalidLinkToken = errors.New("invalid link token")
	ErrLinkTokenExpired = errors.New("link token expired")
)

type LinkTokenClaims struct {
	Email     string `json:"email"`
	Purpose   string `json:"purpose"`
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"exp"`
}

// LinkSigner issues and checks the tokens embedded in email verification links.
// Tokens are payload.signature, both base64url, signed with HMAC-SHA256.
type LinkSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewLinkSigner(secret string, ttl time.Duration) (*LinkSigner, error) {
	if secret == "" {
		return nil, errors.New("secret is required for link tokens")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LinkSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the time source, for tests.
func (s *LinkSigner) WithClock(now func() time.Time) *LinkSigner {
	s.now = now
	return s
}

func (s *LinkSigner) IssueLinkToken(email string) (string, time.Time, error) {
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, err
	}
	expires := s.now().Add(s.ttl)
	claims := LinkTokenClaims{
		Email:     email,
		Purpose:   purposeVerifyEmail,
		Nonce:     base64.RawURLEncoding.EncodeToString(nonce),
		ExpiresAt: expires.Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	token := fmt.Sprintf("%s.%s",
		base64.RawURLEncoding.EncodeToString(payload),
		base64.RawURLEncoding.EncodeToString(s.sign(payload)))
	return token, expires, nil
}

// VerifyLinkToken returns the email the token was issued for.
func (s *LinkSigner) VerifyLinkToken(token string) (string, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", ErrInvalidLinkToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidLinkToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidLinkToken
	}
	if !hmac.Equal(sig, s.sign(payload)) {
		return "", ErrInvalidLinkToken
	}
	var claims LinkTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Purpose != purposeVerifyEmail || claims.Email == "" {
		return "", ErrInvalidLinkToken
	}
	if s.now().Unix() > claims.ExpiresAt {
		return "", ErrLinkTokenExpired
	}
	return claims.Email, nil
}

func (s *LinkSigner) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
