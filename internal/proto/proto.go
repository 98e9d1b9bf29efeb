// Package proto implements the server's wire protocol: a little-endian,
// length-prefixed frame envelope shared by requests and responses, an
// argv-style request payload, and a tagged-value response payload.
package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Size and count limits, named exactly as in the protocol it implements.
const (
	MaxMsg  = 4096
	MaxArgs = 1024
)

// Response value tags.
const (
	TagNil = 0x00
	TagErr = 0x01
	TagStr = 0x02
	TagInt = 0x03
	TagDbl = 0x04
	TagArr = 0x05
)

// Error codes carried by an Err response value.
const (
	ErrUnknown = 1
	ErrTooBig  = 2
	ErrType    = 3
	ErrArg     = 4
)

var (
	// ErrOversizeFrame is returned by TryParseFrame when a frame's
	// declared length exceeds MaxMsg; the caller must close the
	// connection without replying.
	ErrOversizeFrame = errors.New("proto: frame exceeds max message size")

	// ErrMalformed is returned by DecodeRequest when a payload's
	// internal structure doesn't match the argv encoding.
	ErrMalformed = errors.New("proto: malformed request payload")
)

// Value is a single tagged response value, recursively for TagArr.
type Value struct {
	Tag  byte
	Str  []byte
	Int  int64
	Dbl  float64
	Code int32
	Msg  string
	Arr  []Value
}

// Nil, ErrVal, StrVal, IntVal, DblVal and ArrVal build response values.
func Nil() Value                     { return Value{Tag: TagNil} }
func ErrVal(code int32, msg string) Value { return Value{Tag: TagErr, Code: code, Msg: msg} }
func StrVal(s []byte) Value          { return Value{Tag: TagStr, Str: s} }
func IntVal(i int64) Value           { return Value{Tag: TagInt, Int: i} }
func DblVal(f float64) Value         { return Value{Tag: TagDbl, Dbl: f} }
func ArrVal(vs []Value) Value        { return Value{Tag: TagArr, Arr: vs} }

// EncodeValue appends v's wire representation to buf.
func EncodeValue(buf *bytes.Buffer, v Value) {
	buf.WriteByte(v.Tag)
	switch v.Tag {
	case TagNil:
		// no payload

	case TagErr:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.Code))
		buf.Write(b[:])
		writeString(buf, []byte(v.Msg))

	case TagStr:
		writeString(buf, v.Str)

	case TagInt:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.Int))
		buf.Write(b[:])

	case TagDbl:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.Dbl))
		buf.Write(b[:])

	case TagArr:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(len(v.Arr)))
		buf.Write(b[:])
		for _, e := range v.Arr {
			EncodeValue(buf, e)
		}
	}
}

func writeString(buf *bytes.Buffer, s []byte) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
	buf.Write(b[:])
	buf.Write(s)
}

// DecodeValue reads one tagged value from r.
func DecodeValue(r io.Reader) (Value, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return Value{}, err
	}

	switch tag[0] {
	case TagNil:
		return Nil(), nil

	case TagErr:
		var cb [4]byte
		if _, err := io.ReadFull(r, cb[:]); err != nil {
			return Value{}, err
		}
		msg, err := readString(r)
		if err != nil {
			return Value{}, err
		}
		return ErrVal(int32(binary.LittleEndian.Uint32(cb[:])), string(msg)), nil

	case TagStr:
		s, err := readString(r)
		if err != nil {
			return Value{}, err
		}
		return StrVal(s), nil

	case TagInt:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return IntVal(int64(binary.LittleEndian.Uint64(b[:]))), nil

	case TagDbl:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return DblVal(math.Float64frombits(binary.LittleEndian.Uint64(b[:]))), nil

	case TagArr:
		var cb [4]byte
		if _, err := io.ReadFull(r, cb[:]); err != nil {
			return Value{}, err
		}
		n := binary.LittleEndian.Uint32(cb[:])
		arr := make([]Value, n)
		for i := range arr {
			v, err := DecodeValue(r)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return ArrVal(arr), nil

	default:
		return Value{}, fmt.Errorf("proto: unknown response tag %d", tag[0])
	}
}

func readString(r io.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lb[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// TryParseFrame looks for one complete frame (4-byte length prefix plus
// that many payload bytes) at the start of buf. It returns the payload and
// the number of bytes consumed. If buf doesn't yet hold a complete frame it
// returns (nil, 0, nil) for the caller to retry after the next read. It
// returns ErrOversizeFrame if the declared length exceeds MaxMsg.
func TryParseFrame(buf []byte) (payload []byte, consumed int, err error) {
	if len(buf) < 4 {
		return nil, 0, nil
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	if n > MaxMsg {
		return nil, 0, ErrOversizeFrame
	}
	if len(buf) < 4+int(n) {
		return nil, 0, nil
	}
	return buf[4 : 4+n], 4 + int(n), nil
}

// WriteFrame wraps payload in its length-prefix envelope. It returns
// ErrOversizeFrame if payload exceeds MaxMsg.
func WriteFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxMsg {
		return nil, ErrOversizeFrame
	}
	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

// DecodeRequest parses a request payload into its argv-style vector of
// byte strings, enforcing nstr <= MaxArgs and exact consumption of the
// payload.
func DecodeRequest(payload []byte) ([][]byte, error) {
	if len(payload) < 4 {
		return nil, ErrMalformed
	}
	n := binary.LittleEndian.Uint32(payload[:4])
	if n > MaxArgs {
		return nil, ErrMalformed
	}

	pos := 4
	args := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		if pos+4 > len(payload) {
			return nil, ErrMalformed
		}
		l := binary.LittleEndian.Uint32(payload[pos : pos+4])
		pos += 4
		if l > uint32(len(payload)-pos) {
			return nil, ErrMalformed
		}
		args = append(args, payload[pos:pos+int(l)])
		pos += int(l)
	}
	if pos != len(payload) {
		return nil, ErrMalformed
	}
	return args, nil
}

// EncodeRequest builds a request payload (without the frame envelope) from
// an argv-style vector of byte strings.
func EncodeRequest(args [][]byte) ([]byte, error) {
	if len(args) > MaxArgs {
		return nil, ErrMalformed
	}
	var buf bytes.Buffer
	var nb [4]byte
	binary.LittleEndian.PutUint32(nb[:], uint32(len(args)))
	buf.Write(nb[:])
	for _, a := range args {
		writeString(&buf, a)
	}
	return buf.Bytes(), nil
}
