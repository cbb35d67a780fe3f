//go:build linux

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Tune raises the socket buffers to size bytes. The *FORCE options bypass
// net.core.rmem_max when we have CAP_NET_ADMIN; otherwise the kernel caps
// the plain options.
func Tune(c *net.UDPConn, size int) error {
	if size <= 0 {
		return nil
	}

	raw, err := c.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		for _, opt := range [][2]int{
			{unix.SO_RCVBUFFORCE, unix.SO_RCVBUF},
			{unix.SO_SNDBUFFORCE, unix.SO_SNDBUF},
		} {
			if unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt[0], size) == nil {
				continue
			}
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt[1], size); e != nil {
				sockErr = fmt.Errorf("setsockopt %d: %w", opt[1], e)
			}
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
