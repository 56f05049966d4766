package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/erg0nix/palaver/internal/core"
)

// RequestLogger appends completion traffic to a daily JSONL file for debugging.
type RequestLogger struct {
	logDir       string
	logRequests  bool
	logResponses bool
	logger       *slog.Logger
	mu           sync.Mutex
}

type LogEntry struct {
	Timestamp  string         `json:"timestamp"`
	RequestID  string         `json:"request_id"`
	Type       string         `json:"type"`
	Messages   []core.Turn    `json:"messages,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Reply      string         `json:"reply,omitempty"`
	Usage      *core.Usage    `json:"usage,omitempty"`
	Duration   string         `json:"duration,omitempty"`
	Error      string         `json:"error,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
}

func NewRequestLogger(logDir string, logRequests, logResponses bool, logger *slog.Logger) *RequestLogger {
	return &RequestLogger{
		logDir:       logDir,
		logRequests:  logRequests,
		logResponses: logResponses,
		logger:       logger,
	}
}

func (l *RequestLogger) LogRequest(requestID core.RequestID, messages []core.Turn, payload map[string]any) {
	if !l.logRequests {
		return
	}

	l.writeLog(LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: string(requestID),
		Type:      "request",
		Messages:  messages,
		Payload:   payload,
	})
	l.logger.Debug("completion request", "request_id", requestID, "message_count", len(messages))
}

func (l *RequestLogger) LogResponse(requestID core.RequestID, response Response, duration time.Duration) {
	if !l.logResponses {
		return
	}

	l.writeLog(LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: string(requestID),
		Type:      "response",
		Reply:     response.Content,
		Usage:     response.Usage,
		Duration:  duration.String(),
	})
}

func (l *RequestLogger) LogError(requestID core.RequestID, statusCode int, errorBody []byte, messages []core.Turn) {
	l.writeLog(LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		RequestID:  string(requestID),
		Type:       "error",
		StatusCode: statusCode,
		Error:      string(errorBody),
		Messages:   messages,
	})

	msgSummary := make([]string, 0, min(5, len(messages)))
	start := max(0, len(messages)-5)
	for i := start; i < len(messages); i++ {
		msg := messages[i]
		content := msg.Content
		if len(content) > 50 {
			content = content[:50] + "..."
		}
		msgSummary = append(msgSummary, fmt.Sprintf("[%s] %s", msg.Role, content))
	}

	l.logger.Error("completion request failed",
		"request_id", requestID,
		"status_code", statusCode,
		"error", string(errorBody),
		"recent_messages", msgSummary,
	)
}

func (l *RequestLogger) writeLog(entry LogEntry) {
	if l.logDir == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_ = os.MkdirAll(l.logDir, 0o755)

	logFile := filepath.Join(l.logDir, fmt.Sprintf("completion_%s.jsonl", time.Now().Format("2006-01-02")))

	data, _ := json.Marshal(entry)
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	_, _ = f.Write(data)
	_, _ = f.WriteString("\n")
}
