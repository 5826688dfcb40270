package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/messaging"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/schedule"
)

// inboundMessageRequest is the POST /messages payload: one inbound message
// delivered over plain HTTP (testing, or transports without a native adapter).
type inboundMessageRequest struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	MessageID string `json:"message_id,omitempty"`
}

// inboundMessageResult carries the reply chosen by the pipeline, if any.
type inboundMessageResult struct {
	Reply string `json:"reply,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("service healthy", nil))
}

func (s *Server) inboundMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req inboundMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid JSON payload"))
		return
	}
	from, err := messaging.CanonicalizeParticipantID(req.From)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if req.Body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("body is required"))
		return
	}

	meta := models.InboundMeta{MessageID: req.MessageID, Channel: "api", ReceivedAt: time.Now().Unix()}
	reply, err := s.pipeline.Process(r.Context(), from, req.Body, meta)
	if err != nil {
		slog.Error("Inbound message processing failed", "error", err, "participantID", from)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to process message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(inboundMessageResult{Reply: reply}))
}

func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	convs, err := s.pipeline.Conversations()
	if err != nil {
		slog.Error("Failed to list conversations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to list conversations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(convs))
}

func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.pipeline.Conversation(id)
	if err != nil {
		slog.Error("Failed to load conversation", "error", err, "participantID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to load conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("conversation not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

// setBotActiveRequest toggles automated replies for one participant.
type setBotActiveRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) setBotActiveHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req setBotActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid JSON payload"))
		return
	}
	if err := s.pipeline.SetBotActive(id, req.Active, req.Reason); err != nil {
		slog.Error("Failed to set bot activity", "error", err, "participantID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to update bot activity"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("bot activity updated", nil))
}

func (s *Server) reactivateHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.pipeline.Reactivate(id); err != nil {
		slog.Error("Failed to reactivate conversation", "error", err, "participantID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to reactivate conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("conversation reactivated", nil))
}

func (s *Server) getScheduleSettingsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.pipeline.ScheduleGate().Settings()))
}

// scheduleSettingsRequest updates the gate's runtime-toggleable state. Nil
// fields are left unchanged.
type scheduleSettingsRequest struct {
	TimetableEnabled *bool               `json:"timetable_enabled,omitempty"`
	HolidaysEnabled  *bool               `json:"holidays_enabled,omitempty"`
	Timetable        *schedule.Timetable `json:"timetable,omitempty"`
	SimulatedTime    *time.Time          `json:"simulated_time,omitempty"`
	ClearSimulated   bool                `json:"clear_simulated_time,omitempty"`
}

func (s *Server) putScheduleSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var req scheduleSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid JSON payload"))
		return
	}

	gate := s.pipeline.ScheduleGate()
	if req.TimetableEnabled != nil {
		gate.SetTimetableEnabled(*req.TimetableEnabled)
	}
	if req.HolidaysEnabled != nil {
		gate.SetHolidayCheckEnabled(*req.HolidaysEnabled)
	}
	if req.Timetable != nil {
		gate.SetTimetable(*req.Timetable)
	}
	if req.SimulatedTime != nil {
		gate.SetSimulatedTime(*req.SimulatedTime)
	}
	if req.ClearSimulated {
		gate.ClearSimulatedTime()
	}
	if err := s.pipeline.SaveScheduleSettings(); err != nil {
		slog.Error("Failed to persist schedule settings", "error", err)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(gate.Settings()))
}
