// Package trace persists the audit record written for every provider
// attempt, successful or failed.
package trace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/tokenizer"
)

// Record is one provider attempt. Exactly one Record is written per
// attempt, on both success and failure paths.
type Record struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	PromptID        *uint  `gorm:"index" json:"prompt_id,omitempty"`
	ModelID         string `gorm:"size:255;index" json:"model_id"`
	Status          int    `json:"status"`
	InputTokens     *int   `json:"input_tokens,omitempty"`
	OutputTokens    *int   `json:"output_tokens,omitempty"`
	ReasoningTokens *int   `json:"reasoning_tokens,omitempty"`
	RequestBody     string `gorm:"type:text" json:"request_body"`
	RawResponse     string `gorm:"type:text" json:"raw_response"`
	ResponseID      string `gorm:"size:64;index" json:"response_id"`
}

// TableName pins the table name independent of gorm pluralization.
func (Record) TableName() string { return "trace_records" }

// Attempt is the logger input: the request that was sent and either the
// response or the terminal error of the attempt.
type Attempt struct {
	Request  *llm.MaterializedRequest
	Response *llm.ChatResponse
	Err      error
	Status   int
}

// Logger writes one Record per attempt. A write failure propagates as a
// DbLoggingError and is fatal to the surrounding execution.
type Logger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewLogger creates a trace logger. A nil zap logger is replaced with a
// no-op.
func NewLogger(db *gorm.DB, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{db: db, logger: logger.With(zap.String("component", "trace"))}
}

// Migrate creates the trace table.
func (l *Logger) Migrate() error {
	return l.db.AutoMigrate(&Record{})
}

// Log persists one attempt and returns the record id. The write runs on a
// detached context so caller cancellation cannot lose a record for an
// attempt that already executed.
func (l *Logger) Log(ctx context.Context, a Attempt) (uint, error) {
	rec := buildRecord(a)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := l.db.WithContext(writeCtx).Create(rec).Error; err != nil {
		l.logger.Error("trace write failed", zap.Error(err))
		return 0, &llm.Error{
			Class:      llm.ClassDbLogging,
			Message:    "failed to persist trace record",
			HTTPStatus: http.StatusInternalServerError,
			Cause:      err,
		}
	}
	return rec.ID, nil
}

// Get returns a record by id, or nil when absent.
func (l *Logger) Get(ctx context.Context, id uint) (*Record, error) {
	var rec Record
	err := l.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func buildRecord(a Attempt) *Record {
	rec := &Record{Status: a.Status}

	if a.Request != nil {
		rec.PromptID = a.Request.PromptID
		rec.ModelID = a.Request.Model
		if body, err := json.Marshal(a.Request); err == nil {
			rec.RequestBody = string(body)
		}
	}

	switch {
	case a.Err != nil:
		errBody, _ := json.Marshal(map[string]string{"error": a.Err.Error()})
		rec.RawResponse = string(errBody)
		if rec.Status == 0 {
			rec.Status = statusOf(a.Err)
		}
	case a.Response != nil:
		if raw, err := json.Marshal(a.Response); err == nil {
			rec.RawResponse = string(raw)
		}
		if rec.Status == 0 {
			rec.Status = http.StatusOK
		}
		fillTokens(rec, a)
	}

	if a.Response != nil && a.Response.ID != "" {
		rec.ResponseID = a.Response.ID
	} else {
		rec.ResponseID = uuid.NewString()
	}
	return rec
}

func statusOf(err error) int {
	var e *llm.Error
	if errors.As(err, &e) && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

func fillTokens(rec *Record, a Attempt) {
	if u := a.Response.Usage; u != nil {
		in, out := u.PromptTokens, u.CompletionTokens
		rec.InputTokens = &in
		rec.OutputTokens = &out
		if u.CompletionTokensDetails != nil && u.CompletionTokensDetails.ReasoningTokens > 0 {
			r := u.CompletionTokensDetails.ReasoningTokens
			rec.ReasoningTokens = &r
		}
		return
	}

	// No usage from upstream: estimate so the trace still carries counts.
	// Estimation failures leave the fields null.
	if a.Request == nil {
		return
	}
	est := tokenizer.NewEstimator(a.Request.Model)
	if in, err := est.CountMessages(a.Request.Messages); err == nil {
		rec.InputTokens = &in
	}
	if len(a.Response.Choices) > 0 && a.Response.Choices[0].Message != nil {
		if out, err := est.CountText(a.Response.Choices[0].Message.Content); err == nil {
			rec.OutputTokens = &out
		}
	}
}
