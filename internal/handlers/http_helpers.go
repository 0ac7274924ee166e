package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// リクエストボディの上限（フィードバック本文を含めても十分な大きさ）
const maxBodyBytes = 64 << 10

// エラーコード（クライアントはメッセージではなくこちらで分岐します）
const (
	codeInvalidRequest   = "invalid_request"
	codeForbidden        = "forbidden"
	codeConflict         = "conflict"
	codePayloadTooLarge  = "payload_too_large"
	codeStoreUnavailable = "store_unavailable"
	codeInternal         = "internal"
)

// errorResponse は失敗時のレスポンス
// 成功時の {"success": true, ...} と対になります
type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return codeInvalidRequest
	case http.StatusForbidden:
		return codeForbidden
	case http.StatusConflict:
		return codeConflict
	case http.StatusRequestEntityTooLarge:
		return codePayloadTooLarge
	case http.StatusServiceUnavailable:
		return codeStoreUnavailable
	default:
		return codeInternal
	}
}

// respondJSON はJSONレスポンスを返します
// payloadがnilの場合は空のレスポンスを返します
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// respondError は {"success": false, "code", "message"} を返します
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Code: errorCode(status), Message: msg})
}

// decodeJSON はリクエストボディを dst にデコードします
// 失敗時はエラーレスポンスを書いて false を返します
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil {
		return true
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		tooLarge  *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, io.EOF):
		respondError(w, http.StatusBadRequest, "request body required")
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
	case errors.As(err, &typeErr):
		respondError(w, http.StatusBadRequest, "invalid type for field "+typeErr.Field)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		respondError(w, http.StatusBadRequest, "unknown field "+strings.TrimPrefix(err.Error(), "json: unknown field "))
	default:
		respondError(w, http.StatusBadRequest, "bad request")
	}
	return false
}

// normalizeID はIDの前後の空白を削除して正規化します
func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
