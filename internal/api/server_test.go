package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/answer"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/escalation"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/flow"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/pipeline"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/schedule"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/spam"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/store"
)

type staticAnswer struct{}

func (staticAnswer) Answer(ctx context.Context, participantID, text string) (answer.Reply, error) {
	return answer.Reply{Text: "Respuesta de prueba."}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewInMemoryStore()
	gate, err := schedule.NewGate(schedule.WithHolidaySource(st))
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	loc, err := time.LoadLocation(schedule.DefaultTimezone)
	if err != nil {
		t.Fatalf("failed to load timezone: %v", err)
	}
	gate.SetSimulatedTime(time.Date(2026, 3, 2, 10, 0, 0, 0, loc))

	p := pipeline.New(st, gate, spam.NewGuard(), escalation.NewPolicy(), flow.NewEngine(), staticAnswer{})
	return NewServer(p, nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, payload interface{}) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var envelope models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("response is not a JSON envelope: %v (body: %s)", err, rec.Body.String())
	}
	return rec, envelope
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec, env := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.Status != string(models.APIStatusOK) {
		t.Errorf("expected ok status, got %q", env.Status)
	}
}

func TestInboundMessageEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec, env := doJSON(t, s.Handler(), http.MethodPost, "/messages",
		inboundMessageRequest{From: "+573001112233", Body: "hola", MessageID: "api.1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	result, ok := env.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %T", env.Result)
	}
	if result["reply"] != pipeline.MsgGreeting {
		t.Errorf("expected greeting reply, got %v", result["reply"])
	}
}

func TestInboundMessageValidation(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name    string
		payload inboundMessageRequest
	}{
		{"missing from", inboundMessageRequest{Body: "hola"}},
		{"missing body", inboundMessageRequest{From: "+573001112233"}},
		{"garbage from", inboundMessageRequest{From: "abc", Body: "hola"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/messages", tc.payload)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestConversationLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	// Seed a conversation through the message endpoint.
	doJSON(t, h, http.MethodPost, "/messages", inboundMessageRequest{From: "+573001112233", Body: "hola", MessageID: "api.1"})

	rec, env := doJSON(t, h, http.MethodGet, "/conversations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing conversations, got %d", rec.Code)
	}
	list, ok := env.Result.([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("expected 1 conversation, got %v", env.Result)
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/conversations/+573001112233", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for known conversation, got %d", rec.Code)
	}
	rec, _ = doJSON(t, h, http.MethodGet, "/conversations/+579999999999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown conversation, got %d", rec.Code)
	}

	// Disable the bot; the next message gets no reply.
	rec, _ = doJSON(t, h, http.MethodPost, "/conversations/+573001112233/bot", setBotActiveRequest{Active: false, Reason: "advisor"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 disabling bot, got %d", rec.Code)
	}
	_, env = doJSON(t, h, http.MethodPost, "/messages", inboundMessageRequest{From: "+573001112233", Body: "sigo aquí", MessageID: "api.2"})
	if result, ok := env.Result.(map[string]interface{}); ok {
		if reply, present := result["reply"]; present && reply != "" {
			t.Errorf("expected no reply while bot disabled, got %v", reply)
		}
	}

	// Reactivate and verify the bot answers again.
	rec, _ = doJSON(t, h, http.MethodPost, "/conversations/+573001112233/reactivate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 reactivating, got %d", rec.Code)
	}
	_, env = doJSON(t, h, http.MethodPost, "/messages", inboundMessageRequest{From: "+573001112233", Body: "buenas", MessageID: "api.3"})
	result, ok := env.Result.(map[string]interface{})
	if !ok || result["reply"] == "" {
		t.Errorf("expected a reply after reactivation, got %v", env.Result)
	}
}

func TestScheduleSettingsEndpoints(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rec, env := doJSON(t, h, http.MethodGet, "/schedule/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	settings, ok := env.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected settings object, got %T", env.Result)
	}
	if settings["timezone"] != schedule.DefaultTimezone {
		t.Errorf("expected timezone %q, got %v", schedule.DefaultTimezone, settings["timezone"])
	}

	disabled := false
	rec, env = doJSON(t, h, http.MethodPut, "/schedule/settings", scheduleSettingsRequest{TimetableEnabled: &disabled})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 updating settings, got %d", rec.Code)
	}
	settings, ok = env.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected settings object, got %T", env.Result)
	}
	if settings["timetable_enabled"] != false {
		t.Errorf("expected timetable disabled, got %v", settings["timetable_enabled"])
	}
}
