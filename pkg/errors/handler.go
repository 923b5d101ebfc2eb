package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrorResponse represents the API error response format
type ErrorResponse struct {
	Error     bool                   `json:"error"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// ErrorHandler renders gateway failures as JSON and logs them at a level
// chosen by status.
type ErrorHandler struct {
	logger *zap.Logger
	debug  bool
}

// NewErrorHandler creates a new error handler. In debug mode responses
// carry stack traces and raw messages of unclassified errors.
func NewErrorHandler(logger *zap.Logger, debug bool) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger, debug: debug}
}

// Handle sends the error response for err. Sync-rule errors keep their
// taxonomy code; transport and gateway errors keep their AppError type;
// anything else is an opaque 500.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	response := ErrorResponse{
		Error:     true,
		RequestID: requestID(r),
		TraceID:   r.Header.Get("X-Amzn-Trace-Id"),
	}
	status := http.StatusInternalServerError
	fields := []zap.Field{zap.Error(err)}

	if domainErr := GetDomainError(err); domainErr != nil {
		if domainErr.StatusCode != 0 {
			status = domainErr.StatusCode
		}
		response.Type = string(domainErr.Type)
		response.Message = domainErr.Message
		response.Code = domainErr.Code
		response.Details = domainErr.Details
		response.Retryable = domainErr.Retryable
		fields = append(fields, zap.String("error_code", domainErr.Code))
	} else if appErr := GetAppError(err); appErr != nil {
		if appErr.HTTPStatus != 0 {
			status = appErr.HTTPStatus
		}
		response.Type = string(appErr.Type)
		response.Message = appErr.Message
		response.Code = appErr.Code
		response.Details = appErr.Details
		response.Retryable = appErr.Retryable()
		if appErr.Code != "" {
			fields = append(fields, zap.String("error_code", appErr.Code))
		}
		if h.debug && appErr.StackTrace != "" {
			response.Details = withDetail(response.Details, "stack_trace", appErr.StackTrace)
		}
	} else {
		response.Type = string(ErrorTypeInternal)
		response.Message = "An internal error occurred"
		if h.debug {
			response.Message = err.Error()
		}
	}

	h.log(r, status, response, fields)
	h.sendJSON(w, status, response)
}

// log writes one entry per failed request. Stale pages and rule violations
// are expected outcomes and stay at Info.
func (h *ErrorHandler) log(r *http.Request, status int, response ErrorResponse, fields []zap.Field) {
	fields = append(fields,
		zap.String("error_type", response.Type),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", response.RequestID),
	)

	switch {
	case status >= 500:
		h.logger.Error(response.Message, fields...)
	case response.Type == string(DomainStaleError), response.Type == string(DomainBusinessRuleError):
		h.logger.Info(response.Message, fields...)
	default:
		h.logger.Warn(response.Message, fields...)
	}
}

func (h *ErrorHandler) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

// Middleware turns panics in later handlers into 500 responses
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.Handle(w, r, NewInternalError(fmt.Sprintf("panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	if id := chimiddleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

func withDetail(details map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out[key] = value
	return out
}
