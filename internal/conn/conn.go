// Package conn implements the per-connection state machine: non-blocking
// read/parse/dispatch/write-drain cycling between the REQ and RES states
// described by the wire protocol, plus the fixed-capacity buffers each
// connection owns.
package conn

import (
	"bytes"

	"golang.org/x/sys/unix"

	"github.com/lzgustavo/kvd/internal/command"
	"github.com/lzgustavo/kvd/internal/idlelist"
	"github.com/lzgustavo/kvd/internal/proto"
	"github.com/lzgustavo/kvd/internal/store"
)

// State is one of the connection's three lifecycle states.
type State int

const (
	StateReq State = iota
	StateRes
	StateEnd
)

// bufCap is the fixed per-direction buffer capacity.
const bufCap = 8192

// Conn is a single accepted client connection.
type Conn struct {
	Fd    int
	State State

	rbuf [bufCap]byte // backing storage; valid bytes are rbuf[:rlen]
	rlen int

	wbuf     [bufCap]byte // backing storage; unsent bytes are wbuf[wbufSent:wlen]
	wlen     int
	wbufSent int

	IdleNode *idlelist.Node
}

// New returns a fresh connection in the REQ state, ready to be linked into
// the idle list by the caller.
func New(fd int) *Conn {
	c := &Conn{
		Fd:    fd,
		State: StateReq,
	}
	c.IdleNode = &idlelist.Node{Value: c}
	return c
}

// WantWrite reports whether the event loop should poll this connection for
// writability instead of readability.
func (c *Conn) WantWrite() bool {
	return c.State == StateRes
}

// HandleReadable drains the socket, parses every complete request it can
// find, dispatches each against db, and queues the responses. If any
// response was queued it attempts an immediate write drain.
func (c *Conn) HandleReadable(db *store.Store, nowUs int64) {
	for {
		if c.rlen == bufCap {
			break
		}
		n, err := unix.Read(c.Fd, c.rbuf[c.rlen:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				break
			}
			c.State = StateEnd
			return
		}
		if n == 0 {
			c.State = StateEnd
			return
		}
		c.rlen += n
	}

	consumedTotal := 0
	for {
		// A full write buffer means the peer isn't draining replies fast
		// enough; stop dispatching further pipelined requests this round
		// and leave them in rbuf for the next readable tick.
		if c.wlen == bufCap {
			break
		}

		payload, consumed, err := proto.TryParseFrame(c.rbuf[consumedTotal:c.rlen])
		if err != nil {
			c.State = StateEnd
			return
		}
		if consumed == 0 {
			break
		}

		args, derr := proto.DecodeRequest(payload)
		var reply proto.Value
		if derr != nil {
			reply = proto.ErrVal(proto.ErrArg, "malformed request")
		} else {
			reply = command.Dispatch(db, args, nowUs)
		}

		framed, ferr := proto.WriteFrame(encodeReply(reply))
		if ferr != nil {
			c.State = StateEnd
			return
		}
		if c.wlen+len(framed) > bufCap {
			// Doesn't fit in the remaining write buffer; leave this
			// frame's bytes unconsumed and retry after a drain.
			break
		}
		copy(c.wbuf[c.wlen:], framed)
		c.wlen += len(framed)
		consumedTotal += consumed
	}

	if consumedTotal > 0 {
		remaining := c.rlen - consumedTotal
		copy(c.rbuf[:remaining], c.rbuf[consumedTotal:c.rlen])
		c.rlen = remaining
	}

	if c.wlen > 0 {
		c.State = StateRes
		c.drainWrite()
	}
}

// HandleWritable continues draining wbuf. Callers only invoke this while
// WantWrite reports true.
func (c *Conn) HandleWritable() {
	c.drainWrite()
}

func (c *Conn) drainWrite() {
	for c.wbufSent < c.wlen {
		n, err := unix.Write(c.Fd, c.wbuf[c.wbufSent:c.wlen])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return
			}
			c.State = StateEnd
			return
		}
		c.wbufSent += n
	}

	c.wlen = 0
	c.wbufSent = 0
	c.State = StateReq
}

func encodeReply(v proto.Value) []byte {
	var buf bytes.Buffer
	proto.EncodeValue(&buf, v)
	return buf.Bytes()
}

// Close releases the underlying file descriptor and unlinks the connection
// from the idle list.
func (c *Conn) Close() error {
	c.IdleNode.Detach()
	c.State = StateEnd
	return unix.Close(c.Fd)
}
