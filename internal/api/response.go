package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	apperr "lodging/internal/errors"
)

const maxBodyBytes = int64(65536)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the HTTP envelope. Unexpected errors are logged
// here and reported to the caller without detail.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	he := apperr.ToHTTP(err)
	if he.Status >= http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	writeJSON(w, he.Status, he)
}

// decode reads a JSON body into dst and validates its tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) *apperr.HTTPError {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.ErrBadRequest("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.ErrBadRequest("invalid field " + verrs[0].Field() + ": " + verrs[0].Tag())
		}
		return apperr.ErrBadRequest("invalid request")
	}
	return nil
}
