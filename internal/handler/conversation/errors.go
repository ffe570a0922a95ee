package conversation

import (
	"errors"
	"net/http"

	"github.com/zhouzirui/eigo-partner/backend/internal/service/registry"
	"github.com/zhouzirui/eigo-partner/backend/internal/session"
	"github.com/zhouzirui/eigo-partner/backend/pkg/utils"
)

var (
	errBadRequest  = errors.New("bad request")
	errUnsupported = errors.New("unsupported message type")
)

// classify 把错误映射为 HTTP 状态码与错误类别
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrConfiguration):
		return http.StatusServiceUnavailable, "configuration_error"
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, session.ErrNotListening):
		return http.StatusConflict, "not_listening"
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone, "session_closed"
	case errors.Is(err, session.ErrEmptyInput):
		return http.StatusBadRequest, "empty_input"
	case errors.Is(err, session.ErrCaptureUnavailable):
		return http.StatusConflict, "capture_unavailable"
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, session.ErrNoSpeech):
		return http.StatusUnprocessableEntity, "no_speech"
	case errors.Is(err, session.ErrDeviceError):
		return http.StatusInternalServerError, "device_error"
	case errors.Is(err, session.ErrRequestFailed):
		return http.StatusBadGateway, "request_failed"
	case errors.Is(err, errBadRequest), errors.Is(err, errUnsupported):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondErr(w http.ResponseWriter, err error) {
	status, code := classify(err)
	utils.RespondError(w, status, code, err.Error())
}
