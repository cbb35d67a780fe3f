//go:build !linux

package transport

import "net"

// Tune raises the socket buffers to size bytes.
func Tune(c *net.UDPConn, size int) error {
	if size <= 0 {
		return nil
	}
	if err := c.SetReadBuffer(size); err != nil {
		return err
	}
	return c.SetWriteBuffer(size)
}
