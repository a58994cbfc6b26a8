package requestlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level is the severity attached to an Entry.
type Level string

// Supported entry levels.
const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Type groups entries by their origin so sinks can route them.
type Type string

// Supported entry types.
const (
	TypeRequest Type = "request"
	TypeCron    Type = "cron"
	TypeErrors  Type = "errors"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Entry is one structured log record.
type Entry struct {
	// ID uniquely identifies the entry for sink-side deduplication.
	ID uuid.UUID `json:"id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS        time.Time `json:"_time"`
	Level     Level     `json:"level"`
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	Host      string    `json:"host,omitempty"`
	Path      string    `json:"path,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	// Status is the HTTP status written to the client, zero for non-request entries.
	Status   int           `json:"status,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
	// Mention asks the remote sink to page a human.
	Mention bool              `json:"mention,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// NewEntry stamps a fresh ID and timestamp.
func NewEntry(typ Type, level Level, message string) Entry {
	return Entry{
		ID:      uuid.New(),
		TS:      time.Now().UTC(),
		Level:   level,
		Type:    typ,
		Message: message,
	}
}

// Validate performs coarse validation on Entry payloads.
func (e Entry) Validate() error {
	if e.ID == uuid.Nil {
		return errors.New("entry id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Level {
	case LevelInfo, LevelWarn, LevelError:
	default:
		return fmt.Errorf("unknown level %q", e.Level)
	}
	switch e.Type {
	case TypeRequest:
		if e.Method == "" {
			return errors.New("request entry requires method")
		}
	case TypeCron, TypeErrors:
		if e.Message == "" {
			return fmt.Errorf("%s entry requires message", e.Type)
		}
	default:
		return fmt.Errorf("unknown type %q", e.Type)
	}
	if e.Duration < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// LevelForStatus maps an HTTP status to a log level: 5xx is an error, 4xx a
// warning, everything else informational.
func LevelForStatus(code int) Level {
	switch {
	case code >= 500:
		return LevelError
	case code >= 400:
		return LevelWarn
	default:
		return LevelInfo
	}
}

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
