package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jonathan/conciliation-filer/internal/feed"
	"github.com/jonathan/conciliation-filer/internal/types"
)

// SSE event names beyond the feed's job and log events.
const (
	eventComplete = "complete"
	eventError    = "error"
)

// SSEWriter writes a job's change feed as Server-Sent Events.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sends the stream headers and flushes them so the client sees
// the stream open before the first event.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

func (s *SSEWriter) write(event, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	if id != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteJob sends a job snapshot.
func (s *SSEWriter) WriteJob(job *types.Job) error {
	return s.write(string(feed.EventJob), "", job)
}

// WriteLog sends a log entry. Its sequence number is the event ID, so a
// reconnecting client can tell which entries it already has.
func (s *SSEWriter) WriteLog(entry *types.LogEntry) error {
	return s.write(string(feed.EventLog), strconv.FormatInt(entry.Seq, 10), entry)
}

// WriteFeedEvent sends ev as a job or log event. Events without a payload are skipped.
func (s *SSEWriter) WriteFeedEvent(ev feed.Event) error {
	switch {
	case ev.Type == feed.EventLog && ev.Log != nil:
		return s.WriteLog(ev.Log)
	case ev.Type == feed.EventJob && ev.Job != nil:
		return s.WriteJob(ev.Job)
	}
	return nil
}

// WriteComment sends a comment line, used as a keep-alive.
func (s *SSEWriter) WriteComment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(message string) {
	s.write(eventError, "", map[string]string{"error": message}) //nolint:errcheck
}

// WriteComplete sends the final event of a job stream.
func (s *SSEWriter) WriteComplete(jobID string, status types.JobStatus) {
	s.write(eventComplete, "", map[string]string{ //nolint:errcheck
		"job_id": jobID,
		"status": string(status),
	})
}
