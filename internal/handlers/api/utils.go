package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	apperrors "github.com/Martin-Hayot/auction-ledger/pkg/errors"
	"github.com/charmbracelet/log"
)

// HandlerFunc is an http handler that reports failures as an error.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// WrapHandlerFunc converts f into an http.HandlerFunc, rendering any
// returned error as an AppError JSON body with its mapped status.
func WrapHandlerFunc(f HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := f(w, req)
		if err == nil {
			return
		}
		appErr := apperrors.From(err)
		status := appErr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			log.Error("Request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		} else {
			log.Debugf("Request %s %s rejected: %v", req.Method, req.URL.Path, err)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		io.WriteString(w, appErr.ToJSON())
	}
}

// WriteJSON writes obj as the response body with status 200.
func WriteJSON(w http.ResponseWriter, obj interface{}) error {
	return WriteJSONStatus(w, http.StatusOK, obj)
}

func WriteJSONStatus(w http.ResponseWriter, status int, obj interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(obj)
}

// ParseJSON decodes the request body into dest.
func ParseJSON(r io.Reader, dest interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return apperrors.Newf(apperrors.ErrBadMessageFormat, "invalid request body: %v", err)
	}
	return nil
}

// queryInt reads an integer query parameter, falling back to def when absent.
func queryInt(req *http.Request, name string, def int) (int, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrBadMessageFormat, "query parameter %s must be an integer", name)
	}
	return n, nil
}
