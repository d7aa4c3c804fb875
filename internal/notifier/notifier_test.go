package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pfrederiksen/hockeygamebot/internal/render"
)

func TestPublishError(t *testing.T) {
	cause := errors.New("boom")

	err := Transient("telegram", cause)
	if IsPermanent(err) {
		t.Error("transient error reported as permanent")
	}
	if !errors.Is(err, cause) {
		t.Error("PublishError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "transient") {
		t.Errorf("Error() = %q", err.Error())
	}

	if !IsPermanent(Permanent("twitter", cause)) {
		t.Error("permanent error not reported as permanent")
	}
	if IsPermanent(cause) {
		t.Error("plain errors are transient")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"héllo", 3, "hél"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestDryRunNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewDryRunNotifier(&buf)

	ack, err := n.Publish(context.Background(), render.Payload{Key: "k1", GameID: "2025020001", Event: "new_occurrence", Text: "NJD GOAL!"}, "")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if ack.ID != "k1" || ack.Channel != "stdout" {
		t.Errorf("ack = %+v", ack)
	}

	out := buf.String()
	for _, want := range []string{"new_occurrence #1", "game 2025020001", "NJD GOAL!", "(Length: 9 characters)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDiscordNotifier_Publish(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n, err := NewDiscordNotifier(server.URL, "Hockey Bot")
	if err != nil {
		t.Fatalf("NewDiscordNotifier() error = %v", err)
	}

	if _, err := n.Publish(context.Background(), render.Payload{Text: strings.Repeat("x", DiscordMessageLimit+10)}, ""); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(got["content"]) != DiscordMessageLimit {
		t.Errorf("content length = %d, want %d", len(got["content"]), DiscordMessageLimit)
	}
	if got["username"] != "Hockey Bot" {
		t.Errorf("username = %q", got["username"])
	}
}

func TestDiscordNotifier_PublishError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	n, _ := NewDiscordNotifier(server.URL, "")
	_, err := n.Publish(context.Background(), render.Payload{Text: "x"}, "")
	if !IsPermanent(err) {
		t.Errorf("expected permanent error for 404, got %v", err)
	}

	if _, err := NewDiscordNotifier("", ""); err == nil {
		t.Error("expected error for empty webhook URL")
	}
}
