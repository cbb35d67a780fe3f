package security

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

// AuditEvent never carries a passphrase, only its fingerprint.
type AuditEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	IP          string    `json:"ip,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Details     string    `json:"details"`
	Severity    string    `json:"severity"`
}

type AuditLogger struct {
	mu          sync.Mutex
	file        *os.File
	enc         *json.Encoder
	logDir      string
	logCount    int
	windowStart time.Time
	diskOK      bool
	sinks       []func(AuditEvent)
}

// NewAuditLogger opens today's audit file in dir, or in the platform audit
// directory when dir is empty.
func NewAuditLogger(dir string) (*AuditLogger, error) {
	if dir == "" {
		var err error
		dir, err = getAuditLogDir()
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	filename := filepath.Join(dir, fmt.Sprintf("audit-%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	al := &AuditLogger{
		file:        file,
		enc:         json.NewEncoder(file),
		logDir:      dir,
		windowStart: time.Now(),
	}
	al.diskOK = al.hasEnoughDiskSpace()
	return al, nil
}

// NewEventLogger returns an AuditLogger that writes no file and only feeds
// its sinks.
func NewEventLogger() *AuditLogger {
	return &AuditLogger{windowStart: time.Now()}
}

func getAuditLogDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", constants.AppName, "audit"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Logs", constants.AppName, "audit"), nil
	default:
		return filepath.Join(home, ".local", "share", constants.AppName, "audit"), nil
	}
}

// AddSink registers fn to receive every event, including ones the file
// writer drops for rate or disk reasons.
func (al *AuditLogger) AddSink(fn func(AuditEvent)) {
	if al == nil {
		return
	}
	al.mu.Lock()
	al.sinks = append(al.sinks, fn)
	al.mu.Unlock()
}

func (al *AuditLogger) Log(event AuditEvent) {
	if al == nil {
		return
	}

	al.mu.Lock()
	now := time.Now()
	event.Timestamp = now

	if now.Sub(al.windowStart) > time.Minute {
		al.windowStart = now
		al.logCount = 0
		al.diskOK = al.hasEnoughDiskSpace()
	}

	if al.logCount < constants.MaxAuditLogsPerMinute && al.diskOK && al.enc != nil {
		al.logCount++
		al.enc.Encode(event)
	}
	sinks := al.sinks
	al.mu.Unlock()

	for _, fn := range sinks {
		fn(event)
	}
}

func (al *AuditLogger) LogRegister(ip, fingerprint, fileName string, size uint64) {
	al.Log(AuditEvent{
		EventType:   "register",
		IP:          ip,
		Fingerprint: fingerprint,
		Details:     fmt.Sprintf("Transfer registered: %s (%d bytes)", fileName, size),
		Severity:    "info",
	})
}

func (al *AuditLogger) LogLookup(ip, fingerprint string) {
	al.Log(AuditEvent{
		EventType:   "lookup",
		IP:          ip,
		Fingerprint: fingerprint,
		Details:     "Transfer metadata served",
		Severity:    "info",
	})
}

func (al *AuditLogger) LogConfirm(ip, fingerprint string) {
	al.Log(AuditEvent{
		EventType:   "confirm",
		IP:          ip,
		Fingerprint: fingerprint,
		Details:     "Transfer confirmed, peers introduced",
		Severity:    "info",
	})
}

func (al *AuditLogger) LogReject(ip, fingerprint, reason string) {
	al.Log(AuditEvent{
		EventType:   "reject",
		IP:          ip,
		Fingerprint: fingerprint,
		Details:     reason,
		Severity:    "warning",
	})
}

func (al *AuditLogger) LogBruteForce(ip string, attempts int) {
	al.Log(AuditEvent{
		EventType: "brute_force",
		IP:        ip,
		Details:   fmt.Sprintf("Multiple failed attempts: %d", attempts),
		Severity:  "critical",
	})
}

func (al *AuditLogger) LogExpire(fingerprint string) {
	al.Log(AuditEvent{
		EventType:   "expire",
		Fingerprint: fingerprint,
		Details:     "Pending transfer expired",
		Severity:    "info",
	})
}

func (al *AuditLogger) LogInvalidRequest(ip, reason string) {
	al.Log(AuditEvent{
		EventType: "invalid_request",
		IP:        ip,
		Details:   reason,
		Severity:  "warning",
	})
}

func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.file != nil {
		err := al.file.Close()
		al.file = nil
		al.enc = nil
		return err
	}
	return nil
}
