package auth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newCSRFRouter(csrf *CSRF) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		token, err := csrf.Token(c)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, token)
	})
	r.POST("/submit", csrf.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestTokenIssuesCookieOnce(t *testing.T) {
	csrf := NewCSRF()
	router := newCSRFRouter(csrf)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != DefaultCookieName || cookies[0].Value != rec.Body.String() {
		t.Fatalf("unexpected cookies %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if rec2.Body.String() != cookies[0].Value {
		t.Fatalf("token not reused: %q", rec2.Body.String())
	}
	if len(rec2.Result().Cookies()) != 0 {
		t.Fatal("existing cookie should not be reissued")
	}
}

func TestMiddleware(t *testing.T) {
	router := newCSRFRouter(NewCSRF())
	cookie := &http.Cookie{Name: DefaultCookieName, Value: "abc123"}

	tests := []struct {
		name   string
		cookie *http.Cookie
		header string
		form   string
		want   int
	}{
		{name: "matching form field", cookie: cookie, form: "abc123", want: http.StatusNoContent},
		{name: "matching header", cookie: cookie, header: "abc123", want: http.StatusNoContent},
		{name: "mismatch", cookie: cookie, form: "other", want: http.StatusForbidden},
		{name: "missing cookie", form: "abc123", want: http.StatusForbidden},
		{name: "missing token", cookie: cookie, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{}
			if tt.form != "" {
				form.Set(DefaultFormField, tt.form)
			}
			req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.header != "" {
				req.Header.Set(DefaultHeaderName, tt.header)
			}
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCustomFailureHandler(t *testing.T) {
	csrf := NewCSRF().OnFailure(func(c *gin.Context) {
		c.String(http.StatusForbidden, "refresh the page")
	})
	router := newCSRFRouter(csrf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", nil))
	if rec.Code != http.StatusForbidden || rec.Body.String() != "refresh the page" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}
