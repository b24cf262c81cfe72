package utils

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// WriteJSONResponse writes value as a JSON body with the passed in status
func WriteJSONResponse(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if value == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(value); err != nil {
		logrus.WithError(err).Error("error writing json response")
	}
}

// WriteErrorResponse writes a {"message": ...} body with the passed in status
func WriteErrorResponse(w http.ResponseWriter, status int, message string) {
	WriteJSONResponse(w, status, map[string]string{"message": message})
}
