package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/storyviews/internal/auth"
)

func TestRequireBearer(t *testing.T) {
	svc := auth.NewJWTService("middleware-test-secret")
	valid, err := svc.GenerateToken("dashboard", auth.RoleAnalyst, []string{"story-1"})
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	foreign, err := auth.NewJWTService("other-secret").GenerateToken("dashboard", auth.RoleAdmin, nil)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{name: "valid token", header: "Bearer " + valid, wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + valid, wantStatus: http.StatusOK},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized, wantCode: "auth_required"},
		{name: "basic scheme", header: "Basic Zm9vOmJhcg==", wantStatus: http.StatusUnauthorized, wantCode: "auth_required"},
		{name: "empty token", header: "Bearer  ", wantStatus: http.StatusUnauthorized, wantCode: "auth_required"},
		{name: "wrong secret", header: "Bearer " + foreign, wantStatus: http.StatusUnauthorized, wantCode: "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotActor string
			var gotClaims *auth.Claims
			handler := RequireBearer(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotActor = GetActor(r.Context())
				gotClaims, _ = GetClaims(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/stories/story-1/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if gotActor != "dashboard" {
					t.Errorf("actor = %q, want dashboard", gotActor)
				}
				if gotClaims == nil || !gotClaims.CanRead("story-1") || gotClaims.CanRead("story-2") {
					t.Errorf("unexpected claims %+v", gotClaims)
				}
				return
			}

			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", body.Error.Code, tt.wantCode)
			}
			if rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("WWW-Authenticate header missing")
			}
		})
	}
}
