package session

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	AdminCookieName = "citecheck_admin"
	AdminCookiePath = "/admin"
	adminAudience   = "admin"
)

type AdminClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// AdminCredentials are the configured operator login. PasswordHash (bcrypt)
// takes precedence over a plain Password.
type AdminCredentials struct {
	Username     string
	Password     string
	PasswordHash string
}

type AdminSessions struct {
	secret     []byte
	ttl        time.Duration
	secureOnly bool
	creds      AdminCredentials
	now        func() time.Time
}

func NewAdminSessions(secret string, ttl time.Duration, secureOnly bool, creds AdminCredentials) *AdminSessions {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &AdminSessions{secret: []byte(secret), ttl: ttl, secureOnly: secureOnly, creds: creds, now: time.Now}
}

// Authenticate checks an operator login against the configured credentials.
func (s *AdminSessions) Authenticate(username, password string) error {
	if s.creds.Username == "" || (s.creds.Password == "" && s.creds.PasswordHash == "") {
		return ErrInvalidCredential
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.creds.Username)) == 1
	var passOK bool
	if s.creds.PasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(s.creds.PasswordHash), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(s.creds.Password)) == 1
	}
	if !userOK || !passOK {
		return ErrInvalidCredential
	}
	return nil
}

func (s *AdminSessions) Issue(username string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			Audience:  jwt.ClaimStrings{adminAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Username: username,
		IsAdmin:  true,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

func (s *AdminSessions) Verify(token string) (*AdminClaims, error) {
	if token == "" {
		return nil, ErrInvalidCredential
	}
	claims := &AdminClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(adminAudience),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || !claims.IsAdmin || claims.Username == "" {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

// TokenFrom reads only the admin cookie. Admin sessions are never accepted as bearer tokens.
func (s *AdminSessions) TokenFrom(c *fiber.Ctx) string {
	return c.Cookies(AdminCookieName)
}

func (s *AdminSessions) SetCookie(c *fiber.Ctx, token string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     AdminCookieName,
		Value:    token,
		Path:     AdminCookiePath,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   s.secureOnly,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (s *AdminSessions) ClearCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     AdminCookieName,
		Value:    "",
		Path:     AdminCookiePath,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   s.secureOnly,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}
