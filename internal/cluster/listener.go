package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Inbox is an unbounded FIFO fed by a listener and drained by one consumer.
// Ready holds a token only while the queue is non-empty.
type Inbox struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
}

// NewInbox returns an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{notify: make(chan struct{}, 1)}
}

// Push appends a payload. Safe for many producers.
func (q *Inbox) Push(b []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, b)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop removes the oldest payload without blocking.
func (q *Inbox) TryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// drop the token of an already consumed push
		select {
		case <-q.notify:
		default:
		}
	}
	return b, true
}

// Len returns the number of queued payloads.
func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready is signalled after pushes; consumers select on it alongside a timer.
func (q *Inbox) Ready() <-chan struct{} {
	return q.notify
}

// Wait blocks until a message may be available, d elapses or ctx is done.
func (q *Inbox) Wait(ctx context.Context, d time.Duration) error {
	if q.Len() > 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.notify:
	case <-timer.C:
	}
	return nil
}

// Listener accepts one message per inbound connection and queues it.
type Listener struct {
	ln    net.Listener
	addr  Address
	inbox *Inbox
	wg    sync.WaitGroup
	once  sync.Once
}

// readTimeout bounds how long a peer may take to deliver one message.
var readTimeout = 5 * time.Second

// Listen binds an OS-assigned port on all interfaces and advertises it under
// host. An empty host uses the machine's hostname.
func Listen(host string) (*Listener, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	if host == "" {
		host = Hostname()
	}
	l := &Listener{
		ln:    ln,
		addr:  Address{Host: host, Port: ln.Addr().(*net.TCPAddr).Port},
		inbox: NewInbox(),
	}
	l.wg.Add(1)
	go l.serve()
	return l, nil
}

// Address is where peers reach this listener.
func (l *Listener) Address() Address {
	return l.addr
}

// Inbox returns the queue this listener feeds.
func (l *Listener) Inbox() *Inbox {
	return l.inbox
}

// Close stops accepting connections; after it returns, probes are refused.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		err = l.ln.Close()
		l.wg.Wait()
	})
	return err
}

func (l *Listener) serve() {
	defer l.wg.Done()
	for {
		payload, err := l.receiveOne()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithError(err).Debug("dropping inbound message")
			continue
		}
		if len(payload) == 0 {
			// a liveness probe: connected and closed without data
			continue
		}
		l.inbox.Push(payload)
	}
}

// receiveOne blocks until one connection delivers one message, then closes it.
func (l *Listener) receiveOne() ([]byte, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	payload, err := io.ReadAll(io.LimitReader(conn, MaxMessageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read from %s: %w", conn.RemoteAddr(), err)
	}
	if len(payload) > MaxMessageSize {
		return nil, fmt.Errorf("from %s: %w", conn.RemoteAddr(), ErrMessageTooLarge)
	}
	return payload, nil
}
