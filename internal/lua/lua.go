// Package lua implements LuaBridge (spec §4.10, EVAL/EVALSHA/SCRIPT): a
// small VM interface decoupling the Dispatcher from any specific Lua
// runtime, backed by github.com/yuin/gopher-lua — the standard Go-ecosystem
// Lua VM (no pack repo embeds one, so this is named per the "out-of-pack
// deps need naming, not grounding" rule). The redis.call/redis.pcall
// bridge itself is grounded on original_source/src/tikv/lua.rs and
// src/cmd/eval.rs: inner calls re-enter the Dispatcher's ops modules
// through the supplied CallFunc closure, sharing the enclosing transaction.
package lua

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	glua "github.com/yuin/gopher-lua"

	"github.com/redistd/redistd/internal/resp"
)

// CallFunc re-enters the core command dispatch (e.g. the Dispatcher's
// per-type ops modules) with the enclosing transaction as parent. argv[0]
// is the command name.
type CallFunc func(argv [][]byte) (resp.Reply, error)

// VM is the bridge contract. Concrete implementations need not be
// goroutine-safe for concurrent Eval calls on the same script; the
// Dispatcher only ever runs one EVAL at a time per connection, and
// transactions are not shared across connections.
type VM interface {
	// Load computes and caches script's SHA1, returning it.
	Load(script string) (sha string, err error)

	// Exists reports whether sha is in the script cache.
	Exists(sha string) bool

	// Flush clears the script cache.
	Flush()

	// Eval runs shaOrScript (a cached SHA1 or raw script body) with the
	// given KEYS/ARGV, invoking call for each redis.call/pcall. Returns
	// NOSCRIPT if shaOrScript looks like a SHA1 that isn't cached.
	Eval(ctx context.Context, shaOrScript string, keys, argv [][]byte, call CallFunc) (resp.Reply, error)

	// Kill sets an atomic flag checked between script steps, aborting the
	// current Eval at its next interpreter step (SCRIPT KILL).
	Kill()
}

// ErrNoScript is returned by Eval when shaOrScript looks like a SHA1 that
// isn't in the cache. Callers translate it to the wire-level NOSCRIPT error.
var ErrNoScript = errors.New("lua: no matching script")

func sha1Hex(script string) string {
	sum := sha1.Sum([]byte(script))
	return hex.EncodeToString(sum[:])
}

func looksLikeSHA1(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// GopherVM is the gopher-lua-backed VM implementation.
type GopherVM struct {
	mu      sync.Mutex
	cache   map[string]string // sha -> script body
	killAll bool
}

// NewGopherVM constructs an empty VM.
func NewGopherVM() *GopherVM {
	return &GopherVM{cache: make(map[string]string)}
}

func (v *GopherVM) Load(script string) (string, error) {
	sha := sha1Hex(script)
	v.mu.Lock()
	v.cache[sha] = script
	v.mu.Unlock()
	return sha, nil
}

func (v *GopherVM) Exists(sha string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.cache[sha]
	return ok
}

func (v *GopherVM) Flush() {
	v.mu.Lock()
	v.cache = make(map[string]string)
	v.mu.Unlock()
}

// Kill requests cancellation of the Eval calls currently in flight. One VM
// is shared by every connection, and the flag is a single bit with no
// per-script targeting: any in-flight Eval whose watchdog observes it
// cancels its script, and each new Eval clears the flag when it starts.
func (v *GopherVM) Kill() {
	v.mu.Lock()
	v.killAll = true
	v.mu.Unlock()
}

func (v *GopherVM) Eval(ctx context.Context, shaOrScript string, keys, argv [][]byte, call CallFunc) (resp.Reply, error) {
	script := shaOrScript
	if looksLikeSHA1(shaOrScript) {
		v.mu.Lock()
		cached, ok := v.cache[shaOrScript]
		v.mu.Unlock()
		if !ok {
			return nil, ErrNoScript
		}
		script = cached
	} else {
		if _, err := v.Load(shaOrScript); err != nil {
			return nil, err
		}
	}

	v.mu.Lock()
	v.killAll = false
	v.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	L := glua.NewState()
	defer L.Close()
	L.SetContext(runCtx)

	watchdog := make(chan struct{})
	defer close(watchdog)
	go func() {
		for {
			select {
			case <-watchdog:
				return
			default:
			}
			v.mu.Lock()
			k := v.killAll
			v.mu.Unlock()
			if k {
				cancel()
				return
			}
		}
	}()

	L.SetGlobal("KEYS", bytesToLuaTable(L, keys))
	L.SetGlobal("ARGV", bytesToLuaTable(L, argv))
	registerRedisTable(L, call)

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("lua: %w", err)
	}
	if L.GetTop() == 0 {
		return resp.Nil, nil
	}
	ret := luaToResp(L.Get(-1))
	return ret, nil
}

func bytesToLuaTable(L *glua.LState, items [][]byte) *glua.LTable {
	t := L.NewTable()
	for i, item := range items {
		t.RawSetInt(i+1, glua.LString(item))
	}
	return t
}

func registerRedisTable(L *glua.LState, call CallFunc) {
	redisTable := L.NewTable()
	L.SetField(redisTable, "call", L.NewFunction(func(L *glua.LState) int {
		reply, err := invokeCall(L, call)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(respToLua(L, reply))
		return 1
	}))
	L.SetField(redisTable, "pcall", L.NewFunction(func(L *glua.LState) int {
		reply, err := invokeCall(L, call)
		if err != nil {
			errTable := L.NewTable()
			L.SetField(errTable, "err", glua.LString(err.Error()))
			L.Push(errTable)
			return 1
		}
		L.Push(respToLua(L, reply))
		return 1
	}))
	L.SetGlobal("redis", redisTable)
}

func invokeCall(L *glua.LState, call CallFunc) (resp.Reply, error) {
	n := L.GetTop()
	argv := make([][]byte, 0, n)
	for i := 1; i <= n; i++ {
		argv = append(argv, []byte(L.CheckString(i)))
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("redis.call requires at least one argument")
	}
	return call(argv)
}

// luaToResp converts a script's final stack value into a wire reply:
// boolean false and nil both map to resp.Nil (Lua's two falsy values),
// numbers truncate to integers (Lua numbers are floats; RESP has no float
// reply type), strings become bulk, tables become arrays stopping at the
// first nil element (Lua's standard "array with a hole" truncation rule).
func luaToResp(v glua.LValue) resp.Reply {
	switch lv := v.(type) {
	case glua.LBool:
		if !bool(lv) {
			return resp.Nil
		}
		return resp.Integer(1)
	case glua.LNumber:
		return resp.Integer(int64(lv))
	case glua.LString:
		return resp.Bulk(string(lv))
	case *glua.LTable:
		if errVal := lv.RawGetString("err"); errVal != glua.LNil {
			return resp.Error(errVal.String())
		}
		if okVal := lv.RawGetString("ok"); okVal != glua.LNil {
			return resp.SimpleString(okVal.String())
		}
		var arr resp.Array
		for i := 1; ; i++ {
			elem := lv.RawGetInt(i)
			if elem == glua.LNil {
				break
			}
			arr = append(arr, luaToResp(elem))
		}
		return arr
	default:
		return resp.Nil
	}
}

func respToLua(L *glua.LState, r resp.Reply) glua.LValue {
	switch v := r.(type) {
	case resp.SimpleString:
		t := L.NewTable()
		L.SetField(t, "ok", glua.LString(v))
		return t
	case resp.Error:
		t := L.NewTable()
		L.SetField(t, "err", glua.LString(v))
		return t
	case resp.Integer:
		return glua.LNumber(v)
	case resp.Bulk:
		if v == nil {
			return glua.LFalse
		}
		return glua.LString(v)
	case resp.Array:
		t := L.NewTable()
		for i, elem := range v {
			t.RawSetInt(i+1, respToLua(L, elem))
		}
		return t
	default:
		return glua.LFalse
	}
}
