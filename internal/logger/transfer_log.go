package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"nudge/internal/constants"
)

type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	TransferID string    `json:"transfer_id"`
	Type       string    `json:"type"`
	Seq        uint32    `json:"seq,omitempty"`
	Size       int       `json:"size,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Error      string    `json:"error,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// TransferLog appends one JSON line per transfer event to
// <log dir>/<transfer id>.log.
type TransferLog struct {
	mu         sync.Mutex
	file       *os.File
	enc        *json.Encoder
	logDir     string
	transferID string
	remoteAddr string
}

func NewTransferLog(dir, transferID string) (*TransferLog, error) {
	if dir == "" {
		var err error
		dir, err = DefaultLogDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get log directory: %w", err)
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(dir, transferID+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &TransferLog{
		file:       file,
		enc:        json.NewEncoder(file),
		logDir:     dir,
		transferID: transferID,
	}, nil
}

func DefaultLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(homeDir, "AppData", "Local", constants.AppName, "logs"), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", constants.AppName), nil
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, constants.AppName, "logs"), nil
		}
		return filepath.Join(homeDir, ".local", "share", constants.AppName, "logs"), nil
	}
}

// SetRemote records the peer address attached to later entries.
func (l *TransferLog) SetRemote(addr string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.remoteAddr = addr
	l.mu.Unlock()
}

// Log appends entry. A nil log or a closed one drops it.
func (l *TransferLog) Log(entry LogEntry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}

	entry.Timestamp = time.Now()
	entry.TransferID = l.transferID
	if entry.RemoteAddr == "" {
		entry.RemoteAddr = l.remoteAddr
	}
	l.enc.Encode(entry)
}

// Trace records a transport event; it satisfies transport.Tracer.
func (l *TransferLog) Trace(event string, seq uint32, size int, err error) {
	entry := LogEntry{Type: event, Seq: seq, Size: size}
	if err != nil {
		entry.Error = err.Error()
	}
	l.Log(entry)
}

func (l *TransferLog) LogEvent(message string) {
	l.Log(LogEntry{Type: "event", Message: message})
}

func (l *TransferLog) LogError(err error) {
	l.Log(LogEntry{Type: "error", Error: err.Error()})
}

func (l *TransferLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *TransferLog) Path() string {
	if l == nil {
		return ""
	}
	return filepath.Join(l.logDir, l.transferID+".log")
}
