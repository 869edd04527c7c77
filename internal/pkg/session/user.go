package session

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ManuelReschke/CiteCheck/app/models"
)

const (
	UserCookieName = "citecheck_session"
	userCookiePath = "/"
	userAudience   = "user"
)

// UserClaims is the capability carried by a user session. It is not re-checked
// against the account store, so a plan change shows up on the next issued token.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID string      `json:"id"`
	Email  string      `json:"email"`
	Name   string      `json:"name"`
	Plan   models.Plan `json:"plan"`
}

type UserSessions struct {
	secret     []byte
	ttl        time.Duration
	secureOnly bool
	now        func() time.Time
}

func NewUserSessions(secret string, ttl time.Duration, secureOnly bool) *UserSessions {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &UserSessions{secret: []byte(secret), ttl: ttl, secureOnly: secureOnly, now: time.Now}
}

func (s *UserSessions) Issue(u *models.User) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			Audience:  jwt.ClaimStrings{userAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Plan:   u.Plan,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

func (s *UserSessions) Verify(token string) (*UserClaims, error) {
	if token == "" {
		return nil, ErrInvalidCredential
	}
	claims := &UserClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(userAudience),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Email == "" {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

// TokenFrom reads the session cookie, falling back to an Authorization bearer header.
func (s *UserSessions) TokenFrom(c *fiber.Ctx) string {
	if token := c.Cookies(UserCookieName); token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func (s *UserSessions) SetCookie(c *fiber.Ctx, token string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     UserCookieName,
		Value:    token,
		Path:     userCookiePath,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   s.secureOnly,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (s *UserSessions) ClearCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     UserCookieName,
		Value:    "",
		Path:     userCookiePath,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   s.secureOnly,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
