package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Sooly64/Confusion-Heatmap/internal/models"
	"github.com/Sooly64/Confusion-Heatmap/internal/service"
	"github.com/Sooly64/Confusion-Heatmap/internal/store"
	"github.com/go-chi/chi/v5"
)

// RoomHandler はソケットを持たないダッシュボード向けの読み取り専用API
type RoomHandler struct {
	store  store.Client
	dir    *service.Directory
	ch     *service.Channel
	logger *slog.Logger
}

type statusRequest struct {
	StudentId string        `json:"studentId"`
	Status    models.Status `json:"status"`
}

func (r statusRequest) validate() error {
	if err := validateStudentId(r.StudentId); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return service.ErrInvalidStatus
	}
	return nil
}

type feedbackRequest struct {
	StudentId string `json:"studentId"`
	Text      string `json:"text"`
}

func (r feedbackRequest) validate() error {
	return validateStudentId(r.StudentId)
}

func NewRoomHandler(st store.Client, logger *slog.Logger) *RoomHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomHandler{store: st, dir: service.NewDirectory(st, logger), ch: service.NewChannel(st), logger: logger}
}

// List はアクティブなルームの一覧を返します
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.dir.List(r.Context())
	if err != nil {
		h.logger.Error("list rooms error", "error", err)
		h.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

// Tally はルームの現在の集計を返します
func (h *RoomHandler) Tally(w http.ResponseWriter, r *http.Request) {
	room := normalizeID(chi.URLParam(r, "room"))
	if err := validateRoom(room); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	presence, err := h.store.Read(r.Context(), store.PresencePath(room))
	if err != nil {
		h.logger.Error("read presence error", "room", room, "error", err)
		h.writeServiceError(w, err)
		return
	}
	responses, err := h.store.Read(r.Context(), store.ResponsesPath(room))
	if err != nil {
		h.logger.Error("read responses error", "room", room, "error", err)
		h.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"room": room, "tally": service.Aggregate(presence, responses)})
}

// Feedback は最新のフィードバックを新しい順で返します（limit で件数指定、既定20）
func (h *RoomHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	room := normalizeID(chi.URLParam(r, "room"))
	if err := validateRoom(room); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := service.FeedbackLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	snap, err := h.store.Read(r.Context(), store.FeedbackPath(room))
	if err != nil {
		h.logger.Error("read feedback error", "room", room, "error", err)
		h.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"room": room, "feedback": service.LatestFeedback(snap, limit)})
}

// SetStatus は学生のステータスを書き込みます（ソケットを使わないクライアント向け）
func (h *RoomHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	room := normalizeID(chi.URLParam(r, "room"))
	if err := validateRoom(room); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in statusRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ch.SetStatus(r.Context(), room, normalizeID(in.StudentId), in.Status); err != nil {
		h.logger.Error("set status error", "room", room, "studentId", in.StudentId, "error", err)
		h.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// SubmitFeedback はフィードバックを追記します
func (h *RoomHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	room := normalizeID(chi.URLParam(r, "room"))
	if err := validateRoom(room); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in feedbackRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.ch.SubmitFeedback(r.Context(), room, normalizeID(in.StudentId), in.Text)
	if err != nil {
		if !errors.Is(err, service.ErrEmptyFeedback) {
			h.logger.Error("submit feedback error", "room", room, "studentId", in.StudentId, "error", err)
		}
		h.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (h *RoomHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrAlreadyOwned):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrCaseConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrEmptyFeedback), errors.Is(err, service.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, store.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
