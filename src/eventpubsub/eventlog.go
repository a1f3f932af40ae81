package eventpubsub

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
)

// EventLog is a durable append-only record of published events.
type EventLog interface {
	Append(event eventmodels.Event) error
}

// LogRecord is one line of the durable log.
type LogRecord struct {
	Type    eventmodels.EventName `json:"type"`
	Payload json.RawMessage       `json:"payload"`
}

// FileEventLog appends newline-delimited JSON records to a single file.
type FileEventLog struct {
	mu   sync.Mutex
	file *os.File
}

func OpenFileEventLog(path string) (*FileEventLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("OpenFileEventLog: failed to open %s: %w", path, err)
	}

	return &FileEventLog{file: file}, nil
}

func (l *FileEventLog) Append(event eventmodels.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("FileEventLog.Append: failed to marshal payload for %s: %w", event.Type, err)
	}

	line, err := json.Marshal(LogRecord{Type: event.Type, Payload: payload})
	if err != nil {
		return fmt.Errorf("FileEventLog.Append: failed to marshal record for %s: %w", event.Type, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("FileEventLog.Append: write failed: %w", err)
	}

	return nil
}

func (l *FileEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// ReadLogRecords decodes a durable log in original order.
func ReadLogRecords(r io.Reader) ([]LogRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var records []LogRecord
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record LogRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("ReadLogRecords: failed to parse record %d: %w", len(records)+1, err)
		}

		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ReadLogRecords: scan failed: %w", err)
	}

	return records, nil
}
