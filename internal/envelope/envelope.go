// Package envelope renders every response through one uniform JSON shape.
package envelope

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/devrev/qrcore/internal/errors"
	"github.com/devrev/qrcore/internal/reqctx"
	"go.uber.org/zap"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// ErrorBody is the error member of the envelope.
type ErrorBody struct {
	Code    apierrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// Body is the wire shape shared by all routes.
type Body struct {
	Code        int        `json:"code"`
	Status      string     `json:"status"`
	Success     bool       `json:"success"`
	Data        any        `json:"data,omitempty"`
	Error       *ErrorBody `json:"error,omitempty"`
	NextCursor  string     `json:"next_cursor,omitempty"`
	Attribution any        `json:"attribution,omitempty"`
	RequestID   string     `json:"request_id,omitempty"`
}

// Result is either a success carrying data or a failure carrying an error.
type Result struct {
	code        int
	data        any
	err         *apierrors.Error
	nextCursor  string
	attribution any
}

// OK returns a success result.
func OK(code int, data any) Result {
	return Result{code: code, data: data}
}

// Fail returns a failure result. Unclassified errors become internal failures.
func Fail(err error) Result {
	e := apierrors.From(err)
	return Result{code: e.Status(), err: e}
}

// WithCursor attaches a continuation cursor to a success result.
func (r Result) WithCursor(cursor string) Result {
	r.nextCursor = cursor
	return r
}

// WithAttribution attaches scan attribution to a success result.
func (r Result) WithAttribution(a any) Result {
	r.attribution = a
	return r
}

// Code returns the HTTP status of the result.
func (r Result) Code() int {
	return r.code
}

// Err returns the failure, or nil for a success.
func (r Result) Err() *apierrors.Error {
	return r.err
}

// Body builds the wire body for the result.
func (r Result) Body(requestID string) Body {
	if r.err != nil {
		return Body{
			Code:    r.code,
			Status:  statusError,
			Success: false,
			Error: &ErrorBody{
				Code:    r.err.Code(),
				Message: r.err.PublicMessage(),
			},
			RequestID: requestID,
		}
	}
	return Body{
		Code:        r.code,
		Status:      statusSuccess,
		Success:     true,
		Data:        r.data,
		NextCursor:  r.nextCursor,
		Attribution: r.attribution,
	}
}

// Writer serializes results and logs failures.
type Writer struct {
	logger *zap.Logger
}

// NewWriter creates a new envelope writer.
func NewWriter(logger *zap.Logger) *Writer {
	return &Writer{logger: logger}
}

// Encode serializes the result for the request.
func (wr *Writer) Encode(r *http.Request, res Result) ([]byte, error) {
	return json.Marshal(res.Body(reqctx.RequestID(r.Context())))
}

// Write serializes the result and writes it to w.
func (wr *Writer) Write(w http.ResponseWriter, r *http.Request, res Result) {
	if e := res.Err(); e != nil {
		wr.logFailure(r, e)
		if e.Kind == apierrors.KindRateLimited {
			w.Header().Set("Retry-After", "1")
		}
	}

	body, err := wr.Encode(r, res)
	if err != nil {
		wr.logger.Error("failed to encode response", zap.Error(err))
		res = Fail(apierrors.Internal(err))
		body, _ = wr.Encode(r, res)
	}
	WriteRaw(w, res.Code(), body)
}

// Error writes err as a failure envelope.
func (wr *Writer) Error(w http.ResponseWriter, r *http.Request, err error) {
	wr.Write(w, r, Fail(err))
}

// WriteRaw writes an already serialized envelope.
func WriteRaw(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

func (wr *Writer) logFailure(r *http.Request, e *apierrors.Error) {
	fields := []zap.Field{
		zap.Int("status_code", e.Status()),
		zap.String("error_code", string(e.Code())),
		zap.String("message", e.Message),
		zap.String("request_id", reqctx.RequestID(r.Context())),
		zap.String("tenant_id", reqctx.TenantID(r.Context())),
		zap.String("path", r.URL.Path),
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	if e.Kind == apierrors.KindInternal {
		wr.logger.Error("HTTP error response", fields...)
		return
	}
	wr.logger.Warn("HTTP error response", fields...)
}
