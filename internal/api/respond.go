package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"codetoflows.com/backend/internal/core"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent, so an encode failure has nowhere to go.
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err as {"error": msg}. Only core.Error messages reach
// the client; everything else becomes a generic 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := h.logger.With("method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))

	if e, ok := core.AsError(err); ok {
		status := e.Status()
		if status >= http.StatusInternalServerError {
			log.Error("request failed", "kind", e.Kind, "error", err)
		} else {
			log.Debug("request rejected", "kind", e.Kind, "status", status, "message", e.Message)
		}
		writeJSON(w, status, errorResponse{Error: e.Message})
		return
	}

	log.Error("unhandled request error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a size-capped JSON body into dst and validates its tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxPayloadBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.InvalidInput(fmt.Sprintf("Request body exceeds %d bytes.", tooLarge.Limit))
		}
		return core.InvalidInput("Invalid request body.")
	}
	if err := h.validate.Struct(dst); err != nil {
		return core.InvalidInput(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request body."
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s is too long", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
