package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("relay-1", "_nudge._udp", "local.")
	entry.Port = 4000
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}

	r, ok := relayFromEntry(entry)
	assert.True(t, ok)
	assert.Equal(t, "relay-1", r.Instance)
	assert.Equal(t, "192.168.1.20:4000", r.Addr())

	entry.AddrIPv4 = nil
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	r, ok = relayFromEntry(entry)
	assert.True(t, ok)
	assert.Equal(t, "[fe80::1]:4000", r.Addr())

	entry.AddrIPv6 = nil
	_, ok = relayFromEntry(entry)
	assert.False(t, ok, "no address")

	_, ok = relayFromEntry(nil)
	assert.False(t, ok)
}

func TestAdvertiserShutdownNil(t *testing.T) {
	var a *Advertiser
	a.Shutdown()
}

func TestDiscoverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := Discover(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNoRelay)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBrowseResult(t *testing.T) {
	found := make(chan Relay, 1)
	_, err := browseResult(context.Background(), found)
	assert.ErrorIs(t, err, ErrNoRelay, "window passed with nothing found")

	found <- Relay{Instance: "relay-1", Host: "192.168.1.20", Port: 4000}
	r, err := browseResult(context.Background(), found)
	require.NoError(t, err)
	assert.Equal(t, "relay-1", r.Instance)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	found <- Relay{Instance: "relay-1"}
	_, err = browseResult(ctx, found)
	assert.ErrorIs(t, err, context.Canceled)

	ctx, cancel = context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	_, err = browseResult(ctx, make(chan Relay))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
