package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/platform/ctxutil"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

func authRouter(t *testing.T, apiKey string, capture *ctxutil.RequestData) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	am := NewAuthMiddleware(log, apiKey)
	r := gin.New()
	r.GET("/ping", am.RequireAPIKey(), func(c *gin.Context) {
		if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil && capture != nil {
			*capture = *rd
		}
		c.String(http.StatusOK, "pong")
	})
	return r
}

func TestRequireAPIKeyRejects(t *testing.T) {
	r := authRouter(t, "secret-key", nil)

	cases := []struct {
		name string
		key  string
	}{
		{"missing", ""},
		{"wrong", "other-key"},
		{"prefix only", "secret"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if c.key != "" {
				req.Header.Set("X-API-Key", c.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestRequireAPIKeyAttachesIdentity(t *testing.T) {
	var got ctxutil.RequestData
	r := authRouter(t, "secret-key", &got)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-Key", "secret-key")
	req.Header.Set("X-User-ID", "student-42")
	req.Header.Set("X-Role", "Teacher")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got.UserID != "student-42" {
		t.Fatalf("user id = %q", got.UserID)
	}
	if got.Role != types.RoleTeacher {
		t.Fatalf("role = %q, header should be lowercased", got.Role)
	}
}

func TestRequireAPIKeyDefaultsInvalidRole(t *testing.T) {
	var got ctxutil.RequestData
	r := authRouter(t, "secret-key", &got)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-Key", "secret-key")
	req.Header.Set("X-Role", "captain")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got.Role != types.RoleStudent {
		t.Fatalf("role = %q, unknown roles fall back to student", got.Role)
	}
}
