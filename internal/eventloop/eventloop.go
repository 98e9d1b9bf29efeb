// Package eventloop drives the server's single-threaded cooperative event
// loop: one readiness poll over the listening socket and every live
// connection, followed by timer processing, generalized from a
// goroutine-per-table background loop into the single poller thread the
// connection state machine requires.
package eventloop

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/lzgustavo/kvd/internal/conn"
	"github.com/lzgustavo/kvd/internal/idlelist"
	"github.com/lzgustavo/kvd/internal/store"
)

const maxPollTimeoutMs = 10_000

// Loop owns the listening socket, the connection table, the idle list, and
// the key store. It is not safe for concurrent use; Run is meant to be the
// only goroutine that ever touches these fields.
type Loop struct {
	listenFd int
	db       *store.Store
	idle     *idlelist.List
	conns    map[int]*conn.Conn
	log      *zap.Logger

	idleTimeoutUs int64
	maxTTLPerTick int
}

// New builds a Loop bound to an already-listening, non-blocking socket.
func New(listenFd int, db *store.Store, log *zap.Logger, idleTimeoutUs int64, maxTTLPerTick int) *Loop {
	return &Loop{
		listenFd:      listenFd,
		db:            db,
		idle:          idlelist.New(),
		conns:         make(map[int]*conn.Conn),
		log:           log,
		idleTimeoutUs: idleTimeoutUs,
		maxTTLPerTick: maxTTLPerTick,
	}
}

func nowUs() int64 {
	return time.Now().UnixNano() / 1000
}

// Run executes the loop until ctx is cancelled or Poll returns a fatal
// error. ctx is checked once per iteration, before Poll, so a cancellation
// takes effect only after the current Poll returns (at most
// maxPollTimeoutMs later).
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fds := make([]unix.PollFd, 1, len(l.conns)+1)
		fds[0] = unix.PollFd{Fd: int32(l.listenFd), Events: unix.POLLIN}
		order := make([]int, 0, len(l.conns))
		for fd, c := range l.conns {
			ev := int16(unix.POLLIN)
			if c.WantWrite() {
				ev = unix.POLLOUT
			}
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: ev})
			order = append(order, fd)
		}

		_, err := unix.Poll(fds, l.computeTimeoutMs())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		if fds[0].Revents != 0 {
			l.acceptAll()
		}

		now := nowUs()
		for i, fd := range order {
			revents := fds[i+1].Revents
			if revents == 0 {
				continue
			}
			c := l.conns[fd]
			if revents&unix.POLLOUT != 0 {
				c.HandleWritable()
			} else {
				c.HandleReadable(l.db, now)
			}
			if c.State != conn.StateEnd {
				l.idle.Touch(c.IdleNode, now)
			}
		}

		l.reapEnded()
		l.processTimers()
	}
}

// computeTimeoutMs implements timeout_ms = min(idle deadline, ttl
// deadline) - now, clamped to [0, maxPollTimeoutMs], or maxPollTimeoutMs if
// neither timer exists.
func (l *Loop) computeTimeoutMs() int {
	now := nowUs()
	deadlineUs, have := int64(0), false

	if head := l.idle.Front(); head != nil {
		deadlineUs, have = head.LastActivityUs+l.idleTimeoutUs, true
	}
	if d, ok := l.db.NextDeadline(); ok && (!have || d < deadlineUs) {
		deadlineUs, have = d, true
	}
	if !have {
		return maxPollTimeoutMs
	}

	remainMs := (deadlineUs - now) / 1000
	if remainMs < 0 {
		remainMs = 0
	}
	if remainMs > maxPollTimeoutMs {
		remainMs = maxPollTimeoutMs
	}
	return int(remainMs)
}

func (l *Loop) acceptAll() {
	for {
		fd, _, err := unix.Accept(l.listenFd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			l.log.Warn("accept failed", zap.Error(err))
			return
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			continue
		}

		c := conn.New(fd)
		l.idle.Touch(c.IdleNode, nowUs())
		l.conns[fd] = c
		l.log.Debug("accepted connection", zap.Int("fd", fd))
	}
}

func (l *Loop) reapEnded() {
	for fd, c := range l.conns {
		if c.State == conn.StateEnd {
			c.Close()
			delete(l.conns, fd)
			l.log.Debug("connection closed", zap.Int("fd", fd))
		}
	}
}

// processTimers closes idle-timed-out connections, then expires due TTL
// entries up to maxTTLPerTick so a burst of simultaneous expirations can't
// stall the loop.
func (l *Loop) processTimers() {
	now := nowUs()
	for {
		head := l.idle.Front()
		if head == nil || head.LastActivityUs+l.idleTimeoutUs >= now+1000 {
			break
		}
		c := head.Value.(*conn.Conn)
		l.log.Debug("idle timeout", zap.Int("fd", c.Fd))
		c.Close()
		delete(l.conns, c.Fd)
	}
	if n := l.db.ExpireTick(now, l.maxTTLPerTick); n > 0 {
		l.log.Debug("ttl sweep", zap.Int("expired", n))
	}
}
