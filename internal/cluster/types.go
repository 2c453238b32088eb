package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"
)

// MaxMessageSize bounds a single message. Larger payloads go through chunked transfer.
const MaxMessageSize = 64 * 1024

var (
	// ErrConnectionRefused means nothing is listening at the address.
	ErrConnectionRefused = errors.New("connection refused")
	// ErrMessageTooLarge is returned when a payload exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// Address is the reachable host/port of a listener.
type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParseAddress parses "host:port".
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Address{}, fmt.Errorf("invalid port in %q", s)
	}
	return Address{Host: host, Port: port}, nil
}

var dialTimeout = 2 * time.Second

// Send opens a connection to addr, writes the full payload and closes.
// A refused connection is reported as ErrConnectionRefused; resets and broken
// pipes are left for IsTransient.
func Send(ctx context.Context, addr Address, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("send %d bytes to %s: %w", len(payload), addr, ErrMessageTooLarge)
	}
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return classify(addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(payload); err != nil {
		return classify(addr, err)
	}
	return nil
}

// Probe reports whether something accepts connections at addr. No data is sent.
func Probe(ctx context.Context, addr Address) bool {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// IsRefused reports whether err came from a refused connection.
func IsRefused(err error) bool {
	return errors.Is(err, ErrConnectionRefused)
}

// IsTransient reports whether err is a reset or broken pipe worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF)
}

func classify(addr Address, err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("send to %s: %w: %v", addr, ErrConnectionRefused, err)
	}
	return fmt.Errorf("send to %s: %w", addr, err)
}

// Hostname returns the advertised host name for listeners, falling back to loopback.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "127.0.0.1"
	}
	return h
}
