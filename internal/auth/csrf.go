package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	DefaultCookieName = "csrf_token"
	DefaultHeaderName = "X-CSRF-Token"
	DefaultFormField  = "csrf_token"

	tokenContextKey = "csrf_token"
	cookieMaxAge    = 12 * 60 * 60
)

// CSRF implements double-submit protection: the token in the cookie must
// match the one sent in the form field or header.
type CSRF struct {
	cookieName string
	headerName string
	formField  string
	secure     bool
	failure    gin.HandlerFunc
}

type Option func(*CSRF)

// WithSecureCookie marks the cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(c *CSRF) { c.secure = secure }
}

func NewCSRF(opts ...Option) *CSRF {
	c := &CSRF{
		cookieName: DefaultCookieName,
		headerName: DefaultHeaderName,
		formField:  DefaultFormField,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnFailure returns a copy of s that calls h instead of the default 403
// JSON response. h must write the response.
func (s *CSRF) OnFailure(h gin.HandlerFunc) *CSRF {
	cp := *s
	cp.failure = h
	return &cp
}

func (s *CSRF) CookieName() string { return s.cookieName }
func (s *CSRF) HeaderName() string { return s.headerName }
func (s *CSRF) FormField() string  { return s.formField }

// Token returns the request's token, issuing a new cookie when none exists.
func (s *CSRF) Token(c *gin.Context) (string, error) {
	if v, ok := c.Get(tokenContextKey); ok {
		if token, ok := v.(string); ok && token != "" {
			return token, nil
		}
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		c.Set(tokenContextKey, token)
		return token, nil
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		MaxAge:   cookieMaxAge,
		Path:     "/",
		Secure:   s.secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	c.Set(tokenContextKey, token)
	return token, nil
}

// Middleware enforces double-submit CSRF protection on state-changing requests.
func (s *CSRF) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requiresCSRFCheck(c.Request.Method) {
			c.Next()
			return
		}
		cookieToken, err := c.Cookie(s.cookieName)
		sent := c.GetHeader(s.headerName)
		if sent == "" {
			sent = c.PostForm(s.formField)
		}
		if err != nil || cookieToken == "" || sent == "" ||
			subtle.ConstantTimeCompare([]byte(sent), []byte(cookieToken)) != 1 {
			if s.failure != nil {
				s.failure(c)
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
			return
		}
		c.Next()
	}
}

func requiresCSRFCheck(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
