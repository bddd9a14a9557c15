package orchestrator

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, body interface{}) {
	enc := json.NewEncoder(w)
	_ = enc.Encode(body)
}
