package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dokterku/presensi/internal/common/testutil"
)

var testSecret = []byte("test-secret")

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(subject string, roles ...string) Claims {
	return Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestCORS(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		router := gin.New()
		router.Use(CORS([]string{"*"}))
		router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		router.ServeHTTP(w, req)

		assert.Equal(t, 200, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("allow list", func(t *testing.T) {
		router := gin.New()
		router.Use(CORS([]string{"https://admin.dokterku.id"}))
		router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "https://admin.dokterku.id")
		router.ServeHTTP(w, req)
		assert.Equal(t, "https://admin.dokterku.id", w.Header().Get("Access-Control-Allow-Origin"))

		w = httptest.NewRecorder()
		req, _ = http.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "https://evil.example")
		router.ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("OPTIONS preflight request", func(t *testing.T) {
		router := gin.New()
		router.Use(CORS([]string{"*"}))
		router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("OPTIONS", "/test", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, 204, w.Code)
	})
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		requestID, exists := c.Get(ContextRequestID)
		assert.True(t, exists)
		assert.NotEmpty(t, requestID)
		c.String(200, "OK")
	})

	t.Run("Generates request ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, 200, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("Uses provided request ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", "custom-request-id")
		router.ServeHTTP(w, req)

		assert.Equal(t, "custom-request-id", w.Header().Get("X-Request-ID"))
	})
}

func TestAuth(t *testing.T) {
	router := gin.New()
	router.Use(Auth(testSecret))
	router.GET("/me", func(c *gin.Context) {
		c.JSON(200, gin.H{"subject": SubjectID(c), "roles": c.GetStringSlice(ContextRoles)})
	})

	call := func(header string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("valid token", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, testSecret, validClaims("staff-42", "staff"))
		w := call("Bearer " + token)
		require.Equal(t, 200, w.Code)

		var body struct {
			Subject string   `json:"subject"`
			Roles   []string `json:"roles"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "staff-42", body.Subject)
		assert.Equal(t, []string{"staff"}, body.Roles)
	})

	t.Run("missing header", func(t *testing.T) {
		w := call("")
		assert.Equal(t, 401, w.Code)
		assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
	})

	t.Run("malformed header", func(t *testing.T) {
		assert.Equal(t, 401, call("Token abc").Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims("staff-42"))
		w := call("Bearer " + token)
		assert.Equal(t, 401, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
	})

	t.Run("expired", func(t *testing.T) {
		claims := validClaims("staff-42")
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		assert.Equal(t, 401, call("Bearer "+signToken(t, jwt.SigningMethodHS256, testSecret, claims)).Code)
	})

	t.Run("no expiry", func(t *testing.T) {
		claims := validClaims("staff-42")
		claims.ExpiresAt = nil
		assert.Equal(t, 401, call("Bearer "+signToken(t, jwt.SigningMethodHS256, testSecret, claims)).Code)
	})

	t.Run("other algorithm", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS512, testSecret, validClaims("staff-42"))
		assert.Equal(t, 401, call("Bearer "+token).Code)
	})

	t.Run("no subject", func(t *testing.T) {
		assert.Equal(t, 401, call("Bearer "+signToken(t, jwt.SigningMethodHS256, testSecret, validClaims(""))).Code)
	})
}

func TestRequireRoles(t *testing.T) {
	setRoles := func(roles []string) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set(ContextRoles, roles)
			c.Next()
		}
	}

	tests := []struct {
		name     string
		roles    []string
		required []string
		want     int
	}{
		{"has required role", []string{"reviewer", "staff"}, []string{"reviewer"}, 200},
		{"missing required role", []string{"staff"}, []string{"admin"}, 403},
		{"one of multiple", []string{"reviewer"}, []string{"admin", "reviewer"}, 200},
		{"no roles", nil, []string{"admin"}, 403},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			if tt.roles != nil {
				router.Use(setRoles(tt.roles))
			}
			router.GET("/verdicts", RequireRoles(tt.required...), func(c *gin.Context) {
				c.String(200, "OK")
			})

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/verdicts", nil)
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	mr := testutil.Start(t)

	newRouter := func(limit int) *gin.Engine {
		router := gin.New()
		router.Use(func(c *gin.Context) {
			if sub := c.GetHeader("X-Test-Subject"); sub != "" {
				c.Set(ContextSubjectID, sub)
			}
		})
		router.Use(RateLimit(mr.Client(), RateLimitConfig{Requests: limit, Window: time.Hour}, zap.NewNop()))
		router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })
		return router
	}

	send := func(router *gin.Engine, subject, ip string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.RemoteAddr = ip + ":1234"
		if subject != "" {
			req.Header.Set("X-Test-Subject", subject)
		}
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("blocks a subject exceeding the limit", func(t *testing.T) {
		router := newRouter(3)
		for i := 0; i < 3; i++ {
			assert.Equal(t, 200, send(router, "staff-1", "192.168.1.1").Code, "request %d", i+1)
		}
		w := send(router, "staff-1", "192.168.1.1")
		assert.Equal(t, 429, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.Contains(t, mr.Keys()[0], "presensi:ratelimit:subject:staff-1:")
	})

	t.Run("staff behind one clinic address are counted separately", func(t *testing.T) {
		router := newRouter(1)
		assert.Equal(t, 200, send(router, "staff-2", "10.1.1.1").Code)
		assert.Equal(t, 200, send(router, "staff-3", "10.1.1.1").Code)
		assert.Equal(t, 429, send(router, "staff-2", "10.1.1.1").Code)
	})

	t.Run("passes requests without a subject", func(t *testing.T) {
		router := newRouter(1)
		for i := 0; i < 3; i++ {
			w := send(router, "", "172.16.0.1")
			assert.Equal(t, 200, w.Code)
			assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
		}
	})

	t.Run("fails open when redis is down", func(t *testing.T) {
		router := newRouter(1)
		mr.Mini().Close()
		for i := 0; i < 3; i++ {
			assert.Equal(t, 200, send(router, "staff-9", "10.0.0.9").Code)
		}
	})
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders(true))
	router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}
