package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dokzlo13/milight/internal/bridge"
	"github.com/dokzlo13/milight/internal/ledger"
	"github.com/dokzlo13/milight/internal/milight"
)

type fakeInvoker struct {
	reqs []bridge.Request
	err  error
}

func (f *fakeInvoker) Invoke(ctx context.Context, req bridge.Request) (*bridge.Result, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &bridge.Result{ID: "abc", Group: req.Group, Action: req.Action.String(), Sent: 1}, nil
}

type fakeHistory struct {
	entries []*ledger.Entry
}

func (f *fakeHistory) Recent(limit int) ([]*ledger.Entry, error) {
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeHistory) ByGroup(group, limit int) ([]*ledger.Entry, error) {
	var out []*ledger.Entry
	for _, e := range f.entries {
		if e.Group == group && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Action(t *testing.T) {
	inv := &fakeInvoker{}
	h := NewServer(":0", inv, nil, "").Handler()

	rec := do(t, h, http.MethodPost, "/groups/2/actions/night_mode", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var res bridge.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.ID != "abc" || res.Action != "night_mode" {
		t.Errorf("result = %+v", res)
	}
	if len(inv.reqs) != 1 || inv.reqs[0].Group != milight.Group2 || inv.reqs[0].Source != "api" {
		t.Errorf("requests = %+v", inv.reqs)
	}
}

func TestServer_ActionErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		invokeErr  error
		wantStatus int
	}{
		{"unsupported_action", "/groups/1/actions/disco_mode", nil, http.StatusBadRequest},
		{"invalid_group", "/groups/9/actions/on", nil, http.StatusBadRequest},
		{"non_numeric_group", "/groups/all/actions/on", nil, http.StatusBadRequest},
		{"bad_steps", "/groups/1/actions/inc_brightness?steps=x", nil, http.StatusBadRequest},
		{"zero_steps", "/groups/1/actions/inc_brightness?steps=0", nil, http.StatusBadRequest},
		{"negative_steps", "/groups/1/actions/inc_brightness?steps=-2", nil, http.StatusBadRequest},
		{"too_many_steps", "/groups/1/actions/inc_brightness?steps=31", bridge.ErrInvalidSteps, http.StatusBadRequest},
		{"transport_failure", "/groups/1/actions/on", &milight.TransportError{Op: "send", Err: errors.New("down")}, http.StatusBadGateway},
		{"other_failure", "/groups/1/actions/on", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{err: tt.invokeErr}
			h := NewServer(":0", inv, nil, "").Handler()
			rec := do(t, h, http.MethodPost, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.invokeErr == nil && len(inv.reqs) != 0 {
				t.Errorf("rejected request reached the bridge: %+v", inv.reqs)
			}
		})
	}
}

func TestServer_History(t *testing.T) {
	hist := &fakeHistory{entries: []*ledger.Entry{
		{ID: "2", Group: 3, Action: "off", Status: ledger.StatusSent},
		{ID: "1", Group: 1, Action: "on", Status: ledger.StatusSent},
	}}
	h := NewServer(":0", &fakeInvoker{}, hist, "").Handler()

	rec := do(t, h, http.MethodGet, "/history?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var entries []ledger.Entry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "2" {
		t.Errorf("entries = %+v", entries)
	}

	rec = do(t, h, http.MethodGet, "/history?group=1", "")
	entries = nil
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "1" {
		t.Errorf("group 1 entries = %+v", entries)
	}
	if rec := do(t, h, http.MethodGet, "/history?group=7", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid group status = %d", rec.Code)
	}

	if rec := do(t, h, http.MethodGet, "/history?limit=-3", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d", rec.Code)
	}

	disabled := NewServer(":0", &fakeInvoker{}, nil, "").Handler()
	if rec := do(t, disabled, http.MethodGet, "/history", ""); rec.Code != http.StatusNotFound {
		t.Errorf("disabled ledger status = %d", rec.Code)
	}
}

func signed(t *testing.T, method jwt.SigningMethod, key any) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestServer_JWT(t *testing.T) {
	secret := "s3cret"
	inv := &fakeInvoker{}
	h := NewServer(":0", inv, &fakeHistory{}, secret).Handler()

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health without token = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/groups/1/actions/on", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("action without token = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/groups/1/actions/on", signed(t, jwt.SigningMethodHS256, []byte("wrong"))); rec.Code != http.StatusUnauthorized {
		t.Errorf("action with wrong key = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/groups/1/actions/on", signed(t, jwt.SigningMethodHS512, []byte(secret))); rec.Code != http.StatusUnauthorized {
		t.Errorf("action with HS512 token = %d", rec.Code)
	}
	if len(inv.reqs) != 0 {
		t.Fatal("unauthenticated request reached the bridge")
	}

	token := signed(t, jwt.SigningMethodHS256, []byte(secret))
	if rec := do(t, h, http.MethodPost, "/groups/1/actions/on", token); rec.Code != http.StatusAccepted {
		t.Errorf("action with token = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/history", token); rec.Code != http.StatusOK {
		t.Errorf("history with token = %d", rec.Code)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	h := NewServer(":0", &fakeInvoker{}, nil, "").Handler()
	if rec := do(t, h, http.MethodGet, "/groups/1/actions/on", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET action status = %d", rec.Code)
	}
}
