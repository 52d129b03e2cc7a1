package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oszuidwest/zwfm-audiodesk/internal/server"
	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
)

type statusBackend struct {
	server.Backend
}

func (statusBackend) Status() types.StatusInfo {
	return types.StatusInfo{Platform: "test/os"}
}

func (statusBackend) Root(kind types.RootKind) (string, error) {
	return "/roots/" + string(kind), nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := NewServer(t.Context(), statusBackend{}, "tok3n")
	ts := httptest.NewServer(s.SetupRoutes())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v", resp)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=tok3n"

	header := http.Header{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("dial with foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %v", resp)
	}
}

func TestWebSocketStatusAndCommand(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{server.TokenHeader: {"tok3n"}})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}

	var status types.WSStatusResponse
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatal(err)
	}
	if status.Type != "status" || status.Status.Platform != "test/os" {
		t.Fatalf("initial status = %+v", status)
	}

	if err := conn.WriteJSON(map[string]any{
		"type": "roots/get",
		"id":   "7",
		"data": map[string]string{"kind": "export"},
	}); err != nil {
		t.Fatal(err)
	}

	var res struct {
		Type    string `json:"type"`
		ID      string `json:"id"`
		Success bool   `json:"success"`
		Data    string `json:"data"`
	}
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatal(err)
	}
	if res.Type != "roots/get_result" || res.ID != "7" || !res.Success || res.Data != "/roots/export" {
		t.Errorf("result = %+v", res)
	}
}
