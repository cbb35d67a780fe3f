package security

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBruteForceProtectorBlocks(t *testing.T) {
	bf := NewBruteForceProtector(3, time.Minute)
	defer bf.Close()

	now := time.Unix(1_700_000_000, 0)
	bf.now = func() time.Time { return now }

	ip := "203.0.113.9"
	assert.True(t, bf.Check(ip))
	assert.False(t, bf.RecordFailure(ip))
	assert.False(t, bf.RecordFailure(ip))
	assert.True(t, bf.Check(ip))
	assert.True(t, bf.RecordFailure(ip), "third failure blocks")
	assert.False(t, bf.Check(ip))
	assert.Equal(t, 3, bf.Attempts(ip))

	assert.True(t, bf.Check("198.51.100.1"), "other clients unaffected")

	now = now.Add(2 * time.Minute)
	assert.True(t, bf.Check(ip), "block lifts after the window")
	assert.Equal(t, 0, bf.Attempts(ip))
}

func TestBruteForceProtectorSuccessResets(t *testing.T) {
	bf := NewBruteForceProtector(2, time.Minute)
	defer bf.Close()

	bf.RecordFailure("10.0.0.1")
	bf.RecordSuccess("10.0.0.1")
	assert.Equal(t, 0, bf.Attempts("10.0.0.1"))
	assert.False(t, bf.RecordFailure("10.0.0.1"))
}

func TestBruteForceProtectorNil(t *testing.T) {
	var bf *BruteForceProtector
	assert.True(t, bf.Check("x"))
	assert.False(t, bf.RecordFailure("x"))
	bf.RecordSuccess("x")
	bf.Close()
}

func TestConnectionLimiter(t *testing.T) {
	cl := NewConnectionLimiter(2)
	assert.True(t, cl.TryConnect("a"))
	assert.True(t, cl.TryConnect("a"))
	assert.False(t, cl.TryConnect("a"))
	assert.True(t, cl.TryConnect("b"))
	cl.Disconnect("a")
	assert.True(t, cl.TryConnect("a"))
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "127.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", GetClientIP(r), "loopback proxy is trusted")

	r.RemoteAddr = "198.51.100.4:5555"
	assert.Equal(t, "198.51.100.4", GetClientIP(r), "untrusted proxy header ignored")
}

func TestAddrIP(t *testing.T) {
	assert.Equal(t, "192.0.2.1", AddrIP(&net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 4000}))
}

func TestValidatePassphrase(t *testing.T) {
	assert.True(t, ValidatePassphrase("correct-horse-battery"))
	assert.True(t, ValidatePassphrase("a-b"))
	// Other generators or word lists may produce these.
	assert.True(t, ValidatePassphrase("single"))
	assert.True(t, ValidatePassphrase("Upper-Case"))
	assert.True(t, ValidatePassphrase("café-7"))
	assert.True(t, ValidatePassphrase(strings.Repeat("a", 128)))

	assert.False(t, ValidatePassphrase(""))
	assert.False(t, ValidatePassphrase(strings.Repeat("a", 129)))
	assert.False(t, ValidatePassphrase("two words"))
	assert.False(t, ValidatePassphrase("tab\there"))
	assert.False(t, ValidatePassphrase("bell\x07"))
	assert.False(t, ValidatePassphrase("bad\xffutf8"))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "a.bin", SanitizeFileName("a.bin", "out"))
	assert.Equal(t, "passwd", SanitizeFileName("../../etc/passwd", "out"))
	assert.Equal(t, "evil.exe", SanitizeFileName(`C:\Users\x\evil.exe`, "out"))
	assert.Equal(t, "out", SanitizeFileName("..", "out"))
	assert.Equal(t, "out", SanitizeFileName("", "out"))
	assert.Equal(t, "ab", SanitizeFileName("a\x00\x1bb", "out"))
}

func TestAuditLoggerWritesFingerprintsOnly(t *testing.T) {
	dir := t.TempDir()
	al, err := NewAuditLogger(dir)
	require.NoError(t, err)

	var seen []AuditEvent
	al.AddSink(func(e AuditEvent) { seen = append(seen, e) })

	al.LogRegister("192.0.2.1", "abc123def456", "a.bin", 1024)
	al.LogReject("192.0.2.2", "abc123def456", "hash mismatch")
	require.NoError(t, al.Close())
	require.NoError(t, al.Close())

	files, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()

	var events []AuditEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		events = append(events, e)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "register", events[0].EventType)
	assert.Equal(t, "abc123def456", events[0].Fingerprint)
	assert.Equal(t, "warning", events[1].Severity)
	assert.Len(t, seen, 2)
}

func TestAuditLoggerNil(t *testing.T) {
	var al *AuditLogger
	al.LogConfirm("x", "y")
	assert.NoError(t, al.Close())
}
