package security

import (
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// ConnectionLimiter caps concurrent connections per IP. The relay uses it
// for event-feed subscribers.
type ConnectionLimiter struct {
	mu          sync.RWMutex
	connections map[string]int
	maxConn     int
}

func NewConnectionLimiter(maxConn int) *ConnectionLimiter {
	return &ConnectionLimiter{
		connections: make(map[string]int),
		maxConn:     maxConn,
	}
}

func (cl *ConnectionLimiter) TryConnect(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.connections[ip] >= cl.maxConn {
		return false
	}
	cl.connections[ip]++
	return true
}

func (cl *ConnectionLimiter) Disconnect(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.connections[ip] > 0 {
		cl.connections[ip]--
		if cl.connections[ip] == 0 {
			delete(cl.connections, ip)
		}
	}
}

var (
	trustedProxies []*net.IPNet
	proxyOnce      sync.Once
)

func initTrustedProxies() {
	proxyOnce.Do(func() {
		defaultCIDRs := []string{"127.0.0.0/8", "::1/128"}
		if env := os.Getenv("NUDGE_TRUSTED_PROXIES"); env != "" {
			defaultCIDRs = strings.Split(env, ",")
		}
		for _, cidr := range defaultCIDRs {
			cidr = strings.TrimSpace(cidr)
			_, network, err := net.ParseCIDR(cidr)
			if err == nil {
				trustedProxies = append(trustedProxies, network)
			}
		}
	})
}

func isTrustedProxy(ip string) bool {
	initTrustedProxies()
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range trustedProxies {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// GetClientIP extracts client IP, only trusting proxy headers from trusted sources.
func GetClientIP(r *http.Request) string {
	directIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if directIP == "" {
		directIP = r.RemoteAddr
	}

	if isTrustedProxy(directIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			clientIP := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(clientIP) != nil {
				return clientIP
			}
		}
	}

	return directIP
}

// AddrIP returns the host part of a datagram source address.
func AddrIP(addr net.Addr) string {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// BruteForceProtector blocks an IP for blockDuration after maxAttempts
// failed passphrase lookups or confirmations.
type BruteForceProtector struct {
	mu            sync.Mutex
	attempts      map[string]*ipAttempts
	maxAttempts   int
	blockDuration time.Duration
	now           func() time.Time
	stop          chan struct{}
	stopOnce      sync.Once
}

type ipAttempts struct {
	count     int
	blockedAt *time.Time
}

func NewBruteForceProtector(maxAttempts int, blockDuration time.Duration) *BruteForceProtector {
	bf := &BruteForceProtector{
		attempts:      make(map[string]*ipAttempts),
		maxAttempts:   maxAttempts,
		blockDuration: blockDuration,
		now:           time.Now,
		stop:          make(chan struct{}),
	}
	go bf.cleanup()
	return bf
}

// Check reports whether ip may try again. A nil protector allows everything.
func (bf *BruteForceProtector) Check(ip string) bool {
	if bf == nil || bf.maxAttempts <= 0 {
		return true
	}

	bf.mu.Lock()
	defer bf.mu.Unlock()

	attempts, exists := bf.attempts[ip]
	if !exists {
		return true
	}

	if attempts.blockedAt != nil {
		if bf.now().Sub(*attempts.blockedAt) < bf.blockDuration {
			return false
		}
		attempts.count = 0
		attempts.blockedAt = nil
	}

	return attempts.count < bf.maxAttempts
}

// RecordFailure counts a miss and reports whether it just blocked ip.
func (bf *BruteForceProtector) RecordFailure(ip string) bool {
	if bf == nil || bf.maxAttempts <= 0 {
		return false
	}

	bf.mu.Lock()
	defer bf.mu.Unlock()

	attempts, exists := bf.attempts[ip]
	if !exists {
		attempts = &ipAttempts{count: 0}
		bf.attempts[ip] = attempts
	}

	attempts.count++
	if attempts.count >= bf.maxAttempts && attempts.blockedAt == nil {
		now := bf.now()
		attempts.blockedAt = &now
		return true
	}
	return false
}

func (bf *BruteForceProtector) RecordSuccess(ip string) {
	if bf == nil {
		return
	}
	bf.mu.Lock()
	defer bf.mu.Unlock()
	delete(bf.attempts, ip)
}

func (bf *BruteForceProtector) Attempts(ip string) int {
	if bf == nil {
		return 0
	}
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if a, ok := bf.attempts[ip]; ok {
		return a.count
	}
	return 0
}

func (bf *BruteForceProtector) Close() {
	if bf == nil {
		return
	}
	bf.stopOnce.Do(func() { close(bf.stop) })
}

func (bf *BruteForceProtector) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-bf.stop:
			return
		case <-ticker.C:
			bf.mu.Lock()
			for ip, attempts := range bf.attempts {
				if attempts.blockedAt != nil && bf.now().Sub(*attempts.blockedAt) > bf.blockDuration {
					delete(bf.attempts, ip)
				}
			}
			bf.mu.Unlock()
		}
	}
}
