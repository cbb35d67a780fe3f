// Package discovery advertises a relay on the local network over mDNS and
// lets peers find one without configuring a relay host.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/grandcat/zeroconf"

	"nudge/internal/constants"
	"nudge/internal/logger"
)

var ErrNoRelay = errors.New("no relay found on the local network")

type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the relay listening on port. instance defaults to
// the hostname.
func Advertise(instance string, port int) (*Advertiser, error) {
	if instance == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("hostname: %w", err)
		}
		instance = hostname
	}

	txt := []string{"app=" + constants.AppName, "version=" + constants.Version}
	server, err := zeroconf.Register(instance, constants.ServiceType, constants.ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}

	log := logger.Component("discovery")
	log.Info().Str("instance", instance).Int("port", port).Msg("relay advertised")
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// Relay is one advertised relay.
type Relay struct {
	Instance string
	Host     string
	Port     int
}

func (r Relay) Addr() string {
	return net.JoinHostPort(r.Host, fmt.Sprint(r.Port))
}

// Discover browses for window and returns the first relay seen. It returns
// ctx.Err() when ctx ends first and ErrNoRelay when the window passes.
func Discover(ctx context.Context, window time.Duration) (Relay, error) {
	if window <= 0 {
		window = constants.DiscoverWindow
	}
	if err := ctx.Err(); err != nil {
		return Relay{}, err
	}
	parent := ctx

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Relay{}, fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan Relay, 1)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			if r, ok := relayFromEntry(entry); ok {
				select {
				case found <- r:
					cancel()
				default:
				}
			}
		}
	}(entries)

	if err := resolver.Browse(ctx, constants.ServiceType, constants.ServiceDomain, entries); err != nil {
		return Relay{}, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()
	return browseResult(parent, found)
}

func browseResult(parent context.Context, found <-chan Relay) (Relay, error) {
	if err := parent.Err(); err != nil {
		return Relay{}, err
	}
	select {
	case r := <-found:
		return r, nil
	default:
		return Relay{}, ErrNoRelay
	}
}

func relayFromEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	if entry == nil || entry.Port == 0 {
		return Relay{}, false
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return Relay{}, false
	}
	return Relay{Instance: entry.Instance, Host: host, Port: entry.Port}, true
}
