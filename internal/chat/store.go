package chat

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// DefaultHistoryFile is where accepted events are appended, one per line.
const DefaultHistoryFile = "chat_history.txt"

// FormatLine renders ev in the history file format "author:body". Colons and
// newlines inside the body are written as-is.
func FormatLine(ev ChatEvent) string {
	return ev.Author + ":" + ev.Body + "\n"
}

// ParseLine parses one history line. The author ends at the first colon;
// lines without a colon are rejected.
func ParseLine(line string) (ChatEvent, bool) {
	line = strings.TrimSpace(line)
	author, body, ok := strings.Cut(line, ":")
	if !ok {
		return ChatEvent{}, false
	}
	return ChatEvent{Author: author, Body: body}, true
}

// LoadHistory reads every parseable line of the history file at path. A
// missing file yields an empty history.
func LoadHistory(path string) ([]ChatEvent, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: open history: %w", err)
	}
	defer f.Close()

	var events []ChatEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if ev, ok := ParseLine(sc.Text()); ok {
			events = append(events, ev)
		}
	}
	if err := sc.Err(); err != nil {
		return events, fmt.Errorf("chat: read history: %w", err)
	}
	return events, nil
}

// HistoryFile appends accepted events to a durable file. Writes are
// serialized; each event is written with a single call so lines from
// concurrent sessions never interleave.
type HistoryFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenHistory opens (or creates) the history file at path for appending.
func OpenHistory(path string) (*HistoryFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("chat: open history for append: %w", err)
	}
	return &HistoryFile{path: path, f: f}, nil
}

// Append writes ev as one line.
func (h *HistoryFile) Append(ev ChatEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.f == nil {
		return fmt.Errorf("chat: history %s is closed", h.path)
	}
	if _, err := h.f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("chat: append history: %w", err)
	}
	return nil
}

// Path returns the file path.
func (h *HistoryFile) Path() string {
	return h.path
}

// Close closes the file. Appends after Close return an error.
func (h *HistoryFile) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.f == nil {
		return nil
	}
	err := h.f.Close()
	h.f = nil
	return err
}
