package security

import (
	"net/http"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxPassphraseLen = 128

// ValidatePassphrase rejects input that cannot be a passphrase: empty, too
// long, or containing spaces or control characters. The relay decides the
// rest.
func ValidatePassphrase(p string) bool {
	if p == "" || len(p) > maxPassphraseLen || !utf8.ValidString(p) {
		return false
	}
	for _, r := range p {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// ValidatePort checks if port is valid
func ValidatePort(port int) bool {
	return port > 0 && port <= 65535
}

// ValidateOrigin checks if request origin is allowed
func ValidateOrigin(r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(allowedOrigins) == 0 {
		return true
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	return false
}

// SanitizeInput removes null bytes and control characters.
func SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	var result strings.Builder
	for _, r := range input {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// SanitizeFileName reduces a peer-supplied name to a safe base name. It
// returns fallback when nothing usable is left.
func SanitizeFileName(name, fallback string) string {
	name = SanitizeInput(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return fallback
	}
	return name
}
