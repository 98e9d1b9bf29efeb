// Package command implements the server's dispatch table: decoding an
// argv-style request into one of the supported commands and producing a
// tagged response value.
package command

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/lzgustavo/kvd/internal/proto"
	"github.com/lzgustavo/kvd/internal/store"
)

type handlerFunc func(db *store.Store, args [][]byte, nowUs int64) proto.Value

type handler struct {
	arity int
	fn    handlerFunc
}

var table = map[string]handler{
	"get":     {2, cmdGet},
	"set":     {3, cmdSet},
	"del":     {2, cmdDel},
	"keys":    {1, cmdKeys},
	"zadd":    {4, cmdZadd},
	"zrem":    {3, cmdZrem},
	"zscore":  {3, cmdZscore},
	"zquery":  {6, cmdZquery},
	"pexpire": {3, cmdPexpire},
	"pttl":    {2, cmdPttl},
}

// Dispatch decodes args[0] as a command name (case-insensitive), checks its
// arity, runs it against db, and returns its response value. nowUs is the
// monotonic "now" used for TTL bookkeeping. Responses whose encoded size
// would exceed proto.MaxMsg are replaced with a 2BIG error.
func Dispatch(db *store.Store, args [][]byte, nowUs int64) proto.Value {
	if len(args) == 0 {
		return proto.ErrVal(proto.ErrUnknown, "empty command")
	}

	name := strings.ToLower(string(args[0]))
	h, ok := table[name]
	if !ok {
		return proto.ErrVal(proto.ErrUnknown, "unknown command '"+name+"'")
	}
	if len(args) != h.arity {
		return proto.ErrVal(proto.ErrArg, "wrong number of arguments for '"+name+"'")
	}

	return capResponse(h.fn(db, args, nowUs))
}

func capResponse(v proto.Value) proto.Value {
	var buf bytes.Buffer
	proto.EncodeValue(&buf, v)
	if buf.Len() > proto.MaxMsg {
		return proto.ErrVal(proto.ErrTooBig, "response too large")
	}
	return v
}

func cmdGet(db *store.Store, args [][]byte, _ int64) proto.Value {
	e, ok := db.Get(string(args[1]))
	if !ok {
		return proto.Nil()
	}
	if e.Kind != store.KindString {
		return proto.ErrVal(proto.ErrType, "value is not a string")
	}
	return proto.StrVal(e.Str)
}

func cmdSet(db *store.Store, args [][]byte, _ int64) proto.Value {
	db.SetString(string(args[1]), args[2])
	return proto.Nil()
}

func cmdDel(db *store.Store, args [][]byte, _ int64) proto.Value {
	if db.Delete(string(args[1])) {
		return proto.IntVal(1)
	}
	return proto.IntVal(0)
}

func cmdKeys(db *store.Store, _ [][]byte, _ int64) proto.Value {
	keys := db.Keys()
	out := make([]proto.Value, len(keys))
	for i, k := range keys {
		out[i] = proto.StrVal([]byte(k))
	}
	return proto.ArrVal(out)
}

func cmdZadd(db *store.Store, args [][]byte, _ int64) proto.Value {
	score, err := strconv.ParseFloat(string(args[2]), 64)
	if err != nil || score != score { // reject NaN
		return proto.ErrVal(proto.ErrArg, "score is not a valid number")
	}

	e, ok := db.GetOrCreateZSet(string(args[1]))
	if !ok {
		return proto.ErrVal(proto.ErrType, "value is not a sorted set")
	}
	if e.ZSet.Add(string(args[3]), score) {
		return proto.IntVal(1)
	}
	return proto.IntVal(0)
}

func cmdZrem(db *store.Store, args [][]byte, _ int64) proto.Value {
	e, ok := db.Get(string(args[1]))
	if !ok {
		return proto.IntVal(0)
	}
	if e.Kind != store.KindZSet {
		return proto.ErrVal(proto.ErrType, "value is not a sorted set")
	}
	if e.ZSet.Remove(string(args[2])) {
		return proto.IntVal(1)
	}
	return proto.IntVal(0)
}

func cmdZscore(db *store.Store, args [][]byte, _ int64) proto.Value {
	e, ok := db.Get(string(args[1]))
	if !ok {
		return proto.Nil()
	}
	if e.Kind != store.KindZSet {
		return proto.ErrVal(proto.ErrType, "value is not a sorted set")
	}
	score, found := e.ZSet.Score(string(args[2]))
	if !found {
		return proto.Nil()
	}
	return proto.DblVal(score)
}

func cmdZquery(db *store.Store, args [][]byte, _ int64) proto.Value {
	score, err := strconv.ParseFloat(string(args[2]), 64)
	if err != nil || score != score {
		return proto.ErrVal(proto.ErrArg, "score is not a valid number")
	}
	offset, err := strconv.ParseInt(string(args[4]), 10, 64)
	if err != nil {
		return proto.ErrVal(proto.ErrArg, "offset is not a valid integer")
	}
	limit, err := strconv.ParseInt(string(args[5]), 10, 64)
	if err != nil {
		return proto.ErrVal(proto.ErrArg, "limit is not a valid integer")
	}

	e, ok := db.Get(string(args[1]))
	if !ok {
		return proto.ArrVal(nil)
	}
	if e.Kind != store.KindZSet {
		return proto.ErrVal(proto.ErrType, "value is not a sorted set")
	}

	members := e.ZSet.Query(score, string(args[3]), offset, limit)
	out := make([]proto.Value, 0, len(members)*2)
	for _, m := range members {
		out = append(out, proto.StrVal([]byte(m.Name)), proto.DblVal(m.Score))
	}
	return proto.ArrVal(out)
}

func cmdPexpire(db *store.Store, args [][]byte, nowUs int64) proto.Value {
	ms, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return proto.ErrVal(proto.ErrArg, "ttl is not a valid integer")
	}
	e, ok := db.Get(string(args[1]))
	if !ok {
		return proto.IntVal(0)
	}
	db.SetTTL(e, ms, nowUs)
	return proto.IntVal(1)
}

func cmdPttl(db *store.Store, args [][]byte, nowUs int64) proto.Value {
	e, ok := db.Get(string(args[1]))
	if !ok {
		return proto.IntVal(-2)
	}
	return proto.IntVal(db.TTLms(e, nowUs))
}
