package authhttp

import (
	"encoding/json"
	"net/http"
)

type errResp struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}

func unauthorized(w http.ResponseWriter, msg string) { sendErr(w, http.StatusUnauthorized, msg) }
func forbidden(w http.ResponseWriter, msg string)    { sendErr(w, http.StatusForbidden, msg) }
