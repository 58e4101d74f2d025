package utils

import (
	"encoding/json"
	"net/http"
)

// WriteJSONResponse writes data as a JSON body with the given status code.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
