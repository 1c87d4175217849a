package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRequireID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain", "u1", "u1", false},
		{"trimmed", "  u1  ", "u1", false},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := requireID("userId", tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("id = %q, want %q", got, tt.want)
			}
		})
	}

	// エラーメッセージにはフィールド名が入る
	if _, err := requireID("roomId", ""); err == nil || err.Error() != "roomId required" {
		t.Fatalf("err = %v, want roomId required", err)
	}
}

func TestRoomGetRejectsBlankRoomId(t *testing.T) {
	h := NewRoomHandler(nil) // 検証で弾かれるためserviceには到達しない
	router := chi.NewRouter()
	router.Get("/room/{roomId}", h.Get)

	req := httptest.NewRequest(http.MethodGet, "/room/%20", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestListTracksRejectsBlankUserId(t *testing.T) {
	h := NewRoomHandler(nil)
	router := chi.NewRouter()
	router.Get("/tracks/{userId}", h.ListTracks)

	req := httptest.NewRequest(http.MethodGet, "/tracks/%20", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
