package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/PXY11/UniST/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts pagination and filter parameters from the query
// string. Defaults: limit=100 (max 1000), offset=0. Timestamps accept
// RFC 3339 or the "2006-01-02 15:04:05" journal format (taken as UTC).
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}

	if v := q.Get("sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil || seq < 1 {
			return domain.ListOpts{}, errBadParam("sequence", v)
		}
		opts.Sequence = seq
	}
	if v := q.Get("since"); v != "" {
		ts, err := parseTimestamp(v)
		if err != nil {
			return domain.ListOpts{}, errBadParam("since", v)
		}
		opts.Since = &ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := parseTimestamp(v)
		if err != nil {
			return domain.ListOpts{}, errBadParam("until", v)
		}
		opts.Until = &ts
	}

	return opts, nil
}

// parseTimestamp accepts RFC 3339 or the journal format.
func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
}

// badParamError is a query-parameter validation failure.
type badParamError struct {
	param string
	value string
}

func errBadParam(param, value string) badParamError {
	return badParamError{param: param, value: value}
}

func (e badParamError) Error() string {
	return "invalid " + e.param + " parameter: " + strconv.Quote(e.value)
}

// pathSequence extracts the {sequence} path parameter using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathSequence(r *http.Request) (int64, error) {
	raw := r.PathValue("sequence")
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 1 {
		return 0, errBadParam("sequence", raw)
	}
	return seq, nil
}
