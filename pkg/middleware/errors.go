package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Errorf Middleware errors are rendered the same way as the issuer API errors, to ease handling on the client side.
func Errorf(format string, a ...interface{}) Errors {
	return Errors{
		Errors: []Error{
			{
				Message: fmt.Sprintf(format, a...),
			},
		},
	}
}

type Error struct {
	Message string `json:"message"`
}

type Errors struct {
	Errors []Error `json:"errors"`
}

func (e Errors) write(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}
