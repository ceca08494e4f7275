package logging

import (
	"encoding/json"
	"log"
	"time"
)

// Fields is one structured log line. Empty fields are dropped.
type Fields struct {
	Service    string `json:"service"`
	RequestID  string `json:"request_id,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	CartID     string `json:"cart_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	Code       string `json:"code,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

func Log(fields Fields) {
	fields.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(fields)
	if err != nil {
		log.Printf("{\"service\":%q,\"status\":\"log_error\",\"error\":%q}", fields.Service, err.Error())
		return
	}
	log.Print(string(data))
}

// Err is Log with the error text filled in and status "error".
func Err(fields Fields, err error) {
	fields.Status = "error"
	if err != nil {
		fields.Error = err.Error()
	}
	Log(fields)
}
