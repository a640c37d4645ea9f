package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, method jwt.SigningMethod, claims Claims, key interface{}) string {
	t.Helper()
	tokenStr, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "clinician-1",
			Issuer:    "dxenrich-test",
			Audience:  jwt.ClaimStrings{"dxenrich"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"analyst"},
	}
}

func runJWT(t *testing.T, cfg JWTConfig, header string) (*http.Request, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/enrichment", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var seen *http.Request
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		seen = c.Request()
		return c.NoContent(http.StatusOK)
	})(c)
	return seen, err
}

func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", he.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "")
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, header)
			assertUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "dxenrich-test", Audience: "dxenrich"}
	token := createTestToken(t, jwt.SigningMethodHS256, validClaims(), testSigningKey)

	req, err := runJWT(t, cfg, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := UserIDFromContext(req.Context()); got != "clinician-1" {
		t.Errorf("expected subject clinician-1, got %q", got)
	}
	if roles := RolesFromContext(req.Context()); len(roles) != 1 || roles[0] != "analyst" {
		t.Errorf("unexpected roles %v", roles)
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "dxenrich-test", Audience: "dxenrich"}

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExp := validClaims()
	noExp.ExpiresAt = nil
	wrongIss := validClaims()
	wrongIss.Issuer = "someone-else"
	wrongAud := validClaims()
	wrongAud.Audience = jwt.ClaimStrings{"other"}

	tests := map[string]string{
		"wrong key":      createTestToken(t, jwt.SigningMethodHS256, validClaims(), []byte("another-secret-key-of-enough-length")),
		"expired":        createTestToken(t, jwt.SigningMethodHS256, expired, testSigningKey),
		"no expiry":      createTestToken(t, jwt.SigningMethodHS256, noExp, testSigningKey),
		"wrong issuer":   createTestToken(t, jwt.SigningMethodHS256, wrongIss, testSigningKey),
		"wrong audience": createTestToken(t, jwt.SigningMethodHS256, wrongAud, testSigningKey),
		"hs512":          createTestToken(t, jwt.SigningMethodHS512, validClaims(), testSigningKey),
		"garbage":        "not.a.jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := runJWT(t, cfg, "Bearer "+token)
			assertUnauthorized(t, err)
		})
	}
}

func TestJWTConfig_Enabled(t *testing.T) {
	if (JWTConfig{}).Enabled() {
		t.Error("expected disabled without a key")
	}
	if !(JWTConfig{SigningKey: testSigningKey}).Enabled() {
		t.Error("expected enabled with a key")
	}
}
