// ABOUTME: HTTP API handlers exposing hub operations and an SSE event stream
// ABOUTME: JSON in, JSON out; no authentication layer on the hub API

package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/loomworks/relay-hub/internal/events"
	"github.com/loomworks/relay-hub/internal/mailbox"
	"github.com/loomworks/relay-hub/internal/registry"
	"github.com/loomworks/relay-hub/internal/store"
	"github.com/loomworks/relay-hub/internal/task"
)

// RegisterAgentRequest is the JSON request body for POST /api/agents.
type RegisterAgentRequest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status,omitempty"`
}

// UpdateStatusRequest is the JSON request body for POST /api/agents/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// SendMessageRequest is the JSON request body for POST /api/messages.
type SendMessageRequest struct {
	From    string         `json:"from"`
	To      string         `json:"to"`
	Type    string         `json:"type"`
	Kind    string         `json:"kind,omitempty"`
	Subject string         `json:"subject"`
	Content map[string]any `json:"content,omitempty"`
}

// SendMessageResponse is the JSON response carrying a generated message id.
type SendMessageResponse struct {
	ID string `json:"id"`
}

// MarkReadRequest is the JSON request body for POST /api/messages/{id}/read.
type MarkReadRequest struct {
	AgentID string `json:"agentId"`
}

// ReplyRequest is the JSON request body for POST /api/messages/{id}/reply.
type ReplyRequest struct {
	From    string         `json:"from"`
	Content map[string]any `json:"content,omitempty"`
}

// ShareFileRequest is the JSON request body for POST /api/files/share.
type ShareFileRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// CreateTaskRequest is the JSON request body for POST /api/tasks.
type CreateTaskRequest struct {
	Creator     string         `json:"creator"`
	Assignees   []string       `json:"assignees"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// TaskStatusRequest is the JSON request body for POST /api/tasks/{id}/status.
type TaskStatusRequest struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// DeliveryReport is the per-recipient fan-out outcome in task responses.
type DeliveryReport struct {
	Recipient string `json:"recipient"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CreateTaskResponse is the JSON response for POST /api/tasks.
type CreateTaskResponse struct {
	Task       *store.SharedTask `json:"task"`
	Deliveries []DeliveryReport  `json:"deliveries"`
}

// TaskStatusResponse is the JSON response for POST /api/tasks/{id}/status.
type TaskStatusResponse struct {
	Deliveries []DeliveryReport `json:"deliveries"`
}

// TaskDetailResponse is the JSON response for GET /api/tasks/{id}.
type TaskDetailResponse struct {
	Task   *store.SharedTask                 `json:"task"`
	Status map[string]*store.TaskStatusEntry `json:"status"`
}

// errorResponse is the JSON body for non-2xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

// APIHandler returns the hub's HTTP API as an http.Handler.
func (h *Hub) APIHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/agents", h.handleRegisterAgent)
	mux.HandleFunc("GET /api/agents", h.handleQueryAgents)
	mux.HandleFunc("GET /api/agents/{id}", h.handleGetAgent)
	mux.HandleFunc("POST /api/agents/{id}/status", h.handleUpdateStatus)
	mux.HandleFunc("GET /api/agents/{id}/messages", h.handleListMessages)

	mux.HandleFunc("POST /api/messages", h.handleSendMessage)
	mux.HandleFunc("POST /api/messages/{id}/read", h.handleMarkRead)
	mux.HandleFunc("POST /api/messages/{id}/reply", h.handleReply)
	mux.HandleFunc("POST /api/files/share", h.handleShareFile)

	mux.HandleFunc("POST /api/tasks", h.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.handleGetTask)
	mux.HandleFunc("POST /api/tasks/{id}/status", h.handleTaskStatus)

	mux.HandleFunc("GET /api/events", h.handleEvents)

	return mux
}

func (h *Hub) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	agent := &store.Agent{
		ID:           req.ID,
		Name:         req.Name,
		Type:         req.Type,
		Capabilities: req.Capabilities,
		Status:       store.AgentStatus(req.Status),
	}
	if err := h.Registry.Register(r.Context(), agent); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (h *Hub) handleQueryAgents(w http.ResponseWriter, r *http.Request) {
	var capabilities []string
	if raw := r.URL.Query().Get("capabilities"); raw != "" {
		capabilities = strings.Split(raw, ",")
	}

	agents, err := h.Registry.Query(r.Context(), capabilities)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *Hub) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.Registry.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *Hub) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	if err := h.Registry.UpdateStatus(r.Context(), r.PathValue("id"), store.AgentStatus(req.Status)); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) handleListMessages(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	var messages []*store.Message
	var err error
	if r.URL.Query().Get("unread") == "true" {
		messages, err = h.Mail.UnreadFor(r.Context(), agentID)
	} else {
		messages, err = h.Mail.MessagesFor(r.Context(), agentID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Hub) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	id, err := h.Mail.Send(r.Context(), &store.Message{
		From:    req.From,
		To:      req.To,
		Type:    store.MessageType(req.Type),
		Kind:    store.MessageKind(req.Kind),
		Subject: req.Subject,
		Content: req.Content,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, SendMessageResponse{ID: id})
}

func (h *Hub) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	if err := h.Mail.MarkRead(r.Context(), req.AgentID, r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) handleReply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	id, err := h.Mail.Reply(r.Context(), r.PathValue("id"), req.From, req.Content)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, SendMessageResponse{ID: id})
}

func (h *Hub) handleShareFile(w http.ResponseWriter, r *http.Request) {
	var req ShareFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("path is required"))
		return
	}

	id, err := h.Mail.ShareFile(r.Context(), req.From, req.To, req.Path, req.Description)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, SendMessageResponse{ID: id})
}

func (h *Hub) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	t, deliveries, err := h.Tasks.CreateSharedTask(r.Context(), req.Creator, req.Assignees, req.Name, req.Description, req.Payload)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateTaskResponse{
		Task:       t,
		Deliveries: deliveryReports(deliveries),
	})
}

func (h *Hub) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	t, err := h.Tasks.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	status, err := h.Tasks.GetTaskStatus(r.Context(), taskID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, TaskDetailResponse{Task: t, Status: status})
}

func (h *Hub) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req TaskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	deliveries, err := h.Tasks.UpdateTaskStatus(r.Context(), req.AgentID, r.PathValue("id"), store.TaskStatus(req.Status), req.Message)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, TaskStatusResponse{Deliveries: deliveryReports(deliveries)})
}

// handleEvents streams hub events as Server-Sent Events. The topic query
// parameter selects presence, tasks, an agent id, or * for everything.
func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = events.TopicAll
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, _ := h.Bus.Subscribe(r.Context(), topic)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func deliveryReports(deliveries []mailbox.Delivery) []DeliveryReport {
	reports := make([]DeliveryReport, 0, len(deliveries))
	for _, d := range deliveries {
		report := DeliveryReport{Recipient: d.Recipient, MessageID: d.MessageID}
		if d.Err != nil {
			report.Error = d.Err.Error()
		}
		reports = append(reports, report)
	}
	return reports
}

// statusFor maps hub errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mailbox.ErrMissingRecipient),
		errors.Is(err, registry.ErrInvalidStatus),
		errors.Is(err, registry.ErrMissingAgentID),
		errors.Is(err, task.ErrInvalidTaskStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
