package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"miyav/internal/api"
	"miyav/internal/models"
)

func TestNotify(t *testing.T) {
	var got api.NotifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/admin/notify" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(models.APIResponse{Success: true, Message: "Notification sent to 2 users"})
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := notify(&out, srv.URL, []string{"u1", "u2"}, "Bakım", "Yarın 03:00"); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if got.Title != "Bakım" || got.Message != "Yarın 03:00" || len(got.UserIDs) != 2 {
		t.Errorf("unexpected request: %+v", got)
	}
	if out.String() != "Notification sent to 2 users\n" {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestNotifyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"success":false,"message":"title and message are required"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := notify(&out, srv.URL, nil, "", ""); err == nil {
		t.Fatal("expected error")
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output %q", out.String())
	}
}
