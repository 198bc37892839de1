package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/guarzo/commentproxy/common"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes: validation 400, missing
// records 404, upstream failures 502, everything else 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := zerolog.Ctx(r.Context())

	var verr *common.ValidationError
	var httpErr *common.HTTPError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, common.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.As(err, &httpErr):
		log.Warn().Err(err).Int("upstream_status", httpErr.StatusCode).Msg("upstream request failed")
		writeJSON(w, http.StatusBadGateway, errorBody{
			Error:   "upstream request failed",
			Details: httpErr.Error(),
		})
	case errors.Is(err, common.ErrMalformedResponse):
		log.Warn().Err(err).Msg("upstream response unreadable")
		writeJSON(w, http.StatusBadGateway, errorBody{
			Error:   "upstream returned an unreadable response",
			Details: err.Error(),
		})
	case isTransportError(err):
		log.Warn().Err(err).Msg("upstream unreachable")
		writeJSON(w, http.StatusBadGateway, errorBody{
			Error:   "upstream unreachable",
			Details: err.Error(),
		})
	default:
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

// isTransportError reports a failure talking to the backend that produced no
// HTTP response (dial errors, timeouts, resets).
func isTransportError(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return common.Invalid("body", "invalid JSON: %v", err)
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, common.Invalid("body", "exceeds %d bytes", maxBodyBytes)
		}
		return nil, common.Invalid("body", "unreadable: %v", err)
	}
	return body, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, common.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

// queryInt returns 0 when the parameter is absent.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, common.Invalid(name, "must be an integer")
	}
	return v, nil
}

func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, common.Invalid(name, "must be an integer")
	}
	return &v, nil
}
