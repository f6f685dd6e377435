package domain

import "time"

// AuditEvent records one completed query/answer exchange.
type AuditEvent struct {
	EventID         string       `json:"event_id"`
	RequesterID     string       `json:"user_id,omitempty"`
	RequesterName   string       `json:"user_name,omitempty"`
	Query           string       `json:"query"`
	DetectedSubject string       `json:"detected_ticker,omitempty"`
	Answer          string       `json:"answer"`
	ContextUsed     AuditContext `json:"context_used"`
	Model           string       `json:"model_name"`
	ResponseTimeMS  int64        `json:"response_time_ms"`
	Timestamp       time.Time    `json:"timestamp"`
}

// AuditContext is the structured summary of the context an answer was built from.
type AuditContext struct {
	Status        AnswerStatus `json:"status"`
	ContextLength int          `json:"context_length"`
	Sources       []Source     `json:"sources"`
}
