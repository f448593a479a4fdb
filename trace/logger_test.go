package trace

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/promptgate/promptgate/llm"
)

func testLogger(t *testing.T) *Logger {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection: every pooled conn to :memory: is a distinct database.
	sqlDB.SetMaxOpenConns(1)
	l := NewLogger(db, nil)
	require.NoError(t, l.Migrate())
	return l
}

func sampleRequest() *llm.MaterializedRequest {
	promptID := uint(7)
	return &llm.MaterializedRequest{
		Model: "gpt-4o",
		Messages: []llm.Message{
			llm.NewSystemMessage("You are terse."),
			llm.NewUserMessage("hello"),
		},
		Provider: llm.KindOpenAI,
		PromptID: &promptID,
	}
}

func TestLogSuccessfulAttempt(t *testing.T) {
	l := testLogger(t)

	resp := &llm.ChatResponse{
		ID:      "chatcmpl-123",
		Object:  "chat.completion",
		Model:   "gpt-4o",
		Choices: []llm.Choice{{Message: &llm.Message{Role: llm.RoleAssistant, Content: "hi"}}},
		Usage: &llm.Usage{
			PromptTokens:     12,
			CompletionTokens: 3,
			TotalTokens:      15,
			CompletionTokensDetails: &llm.CompletionTokensDetails{ReasoningTokens: 2},
		},
	}

	id, err := l.Log(context.Background(), Attempt{Request: sampleRequest(), Response: resp})
	require.NoError(t, err)
	require.NotZero(t, id)

	rec, err := l.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, http.StatusOK, rec.Status)
	assert.Equal(t, "gpt-4o", rec.ModelID)
	assert.Equal(t, "chatcmpl-123", rec.ResponseID)
	require.NotNil(t, rec.PromptID)
	assert.Equal(t, uint(7), *rec.PromptID)
	require.NotNil(t, rec.InputTokens)
	assert.Equal(t, 12, *rec.InputTokens)
	require.NotNil(t, rec.OutputTokens)
	assert.Equal(t, 3, *rec.OutputTokens)
	require.NotNil(t, rec.ReasoningTokens)
	assert.Equal(t, 2, *rec.ReasoningTokens)

	// The request body is the outbound wire shape, not the routing fields.
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(rec.RequestBody), &body))
	assert.Equal(t, "gpt-4o", body["model"])
	assert.NotContains(t, rec.RequestBody, "base_url")
}

func TestLogFailedAttempt(t *testing.T) {
	l := testLogger(t)

	attemptErr := llm.NewError(llm.ClassRateLimit, "rate limited").WithHTTPStatus(http.StatusTooManyRequests)
	id, err := l.Log(context.Background(), Attempt{Request: sampleRequest(), Err: attemptErr})
	require.NoError(t, err)

	rec, err := l.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, http.StatusTooManyRequests, rec.Status)
	assert.Nil(t, rec.InputTokens)
	assert.NotEmpty(t, rec.ResponseID)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(rec.RawResponse), &body))
	assert.Contains(t, body["error"], "rate limited")
}

func TestLogEstimatesTokensWithoutUsage(t *testing.T) {
	l := testLogger(t)

	resp := &llm.ChatResponse{
		ID:      "chatcmpl-456",
		Model:   "gpt-4o",
		Choices: []llm.Choice{{Message: &llm.Message{Role: llm.RoleAssistant, Content: "a short answer"}}},
	}

	id, err := l.Log(context.Background(), Attempt{Request: sampleRequest(), Response: resp})
	require.NoError(t, err)

	rec, err := l.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, rec.ReasoningTokens)
	if rec.InputTokens == nil {
		t.Skip("tokenizer encoding data unavailable; counts stay null")
	}
	assert.Positive(t, *rec.InputTokens)
	require.NotNil(t, rec.OutputTokens)
	assert.Positive(t, *rec.OutputTokens)
}

func TestLogGeneratesResponseIDWhenAbsent(t *testing.T) {
	l := testLogger(t)

	resp := &llm.ChatResponse{
		Model:   "gpt-4o",
		Choices: []llm.Choice{{Message: &llm.Message{Role: llm.RoleAssistant, Content: "x"}}},
	}
	id, err := l.Log(context.Background(), Attempt{Request: sampleRequest(), Response: resp})
	require.NoError(t, err)

	rec, err := l.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, rec.ResponseID, 36)
}

func TestLogWriteFailureIsDbLoggingError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "trace_records"`).WillReturnError(assertableError("disk full"))
	mock.ExpectRollback()

	l := NewLogger(db, nil)
	_, err = l.Log(context.Background(), Attempt{Request: sampleRequest(), Err: llm.NewError(llm.ClassTimeout, "deadline")})
	require.Error(t, err)
	assert.Equal(t, llm.ClassDbLogging, llm.ClassOf(err))

	var e *llm.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusInternalServerError, e.HTTPStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRecord(t *testing.T) {
	l := testLogger(t)
	rec, err := l.Get(context.Background(), 9999)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

type assertableError string

func (e assertableError) Error() string { return string(e) }
