package dispatcher

import (
	"context"
	"errors"
	"strings"

	"github.com/redistd/redistd/internal/lua"
	"github.com/redistd/redistd/internal/resp"
	"github.com/redistd/redistd/internal/store"
)

// levelHandler is a Dispatcher-level command: one that never opens a
// transaction of its own (PING/ECHO/SELECT), manages its own transaction
// lifetime directly (EVAL/EVALSHA), or only touches in-process state
// (CLIENT, SCRIPT, COMMAND COUNT).
type levelHandler func(d *Dispatcher, ctx context.Context, st *connState, args [][]byte) resp.Reply

var dispatcherLevelTable = map[string]levelHandler{
	"PING": func(d *Dispatcher, ctx context.Context, st *connState, args [][]byte) resp.Reply {
		switch len(args) {
		case 1:
			return resp.SimpleString("PONG")
		case 2:
			return resp.Bulk(args[1])
		default:
			return resp.ErrWrongNumArgs("ping")
		}
	},
	"ECHO": func(d *Dispatcher, ctx context.Context, st *connState, args [][]byte) resp.Reply {
		if len(args) != 2 {
			return resp.ErrWrongNumArgs("echo")
		}
		return resp.Bulk(args[1])
	},
	"SELECT": func(d *Dispatcher, ctx context.Context, st *connState, args [][]byte) resp.Reply {
		if len(args) != 2 {
			return resp.ErrWrongNumArgs("select")
		}
		if _, ok := parseInt(args[1]); !ok {
			return resp.ErrNotInteger
		}
		// Multi-database support is out of scope; accepted but inert.
		return resp.OK
	},
	"COMMAND": func(d *Dispatcher, ctx context.Context, st *connState, args [][]byte) resp.Reply {
		if len(args) == 2 && strings.ToUpper(string(args[1])) == "COUNT" {
			return resp.Integer(int64(len(commandTable) + len(dispatcherLevelTable)))
		}
		return resp.Array{}
	},
	"DBSIZE": func(d *Dispatcher, ctx context.Context, st *connState, args [][]byte) resp.Reply {
		if len(args) != 1 {
			return resp.ErrWrongNumArgs("dbsize")
		}
		snap, err := d.txc.Snapshot(ctx)
		if err != nil {
			return resp.Errorf("ERR %s", err.Error())
		}
		start, end := d.codec.MetaKeyRange()
		kvs, err := snap.Scan(ctx, start, end, 0)
		if err != nil {
			return resp.Errorf("ERR %s", err.Error())
		}
		return resp.Integer(int64(len(kvs)))
	},
	"CLIENT":  handleClient,
	"EVAL":    handleEval(false),
	"EVALSHA": handleEval(true),
	"SCRIPT":  handleScript,
}

func handleClient(d *Dispatcher, ctx context.Context, st *connState, args [][]byte) resp.Reply {
	if len(args) < 2 {
		return resp.ErrWrongNumArgs("client")
	}
	switch strings.ToUpper(string(args[1])) {
	case "GETNAME":
		return resp.Bulk(d.registry.Name(st.id))
	case "SETNAME":
		if len(args) != 3 {
			return resp.ErrWrongNumArgs("client|setname")
		}
		d.registry.SetName(st.id, string(args[2]))
		return resp.OK
	case "LIST":
		infos := d.registry.List()
		var b strings.Builder
		for _, info := range infos {
			b.WriteString("id=")
			b.WriteString(info.ID)
			b.WriteString(" addr=")
			b.WriteString(info.Addr)
			b.WriteString(" name=")
			b.WriteString(info.Name)
			b.WriteString(" cmd=")
			b.WriteString(info.LastCmd)
			b.WriteString("\n")
		}
		return resp.Bulk(b.String())
	case "KILL":
		if len(args) == 3 {
			// Bare form: CLIENT KILL addr:port
			n := d.registry.KillByAddr(string(args[2]))
			if n == 0 {
				return resp.Error("ERR No such client")
			}
			return resp.OK
		}
		if len(args) == 4 && strings.ToUpper(string(args[2])) == "ADDR" {
			n := d.registry.KillByAddr(string(args[3]))
			return resp.Integer(int64(n))
		}
		if len(args) == 4 && strings.ToUpper(string(args[2])) == "ID" {
			if d.registry.Kill(string(args[3])) {
				return resp.Integer(1)
			}
			return resp.Integer(0)
		}
		return resp.ErrSyntax
	default:
		return resp.Errorf("ERR unknown CLIENT subcommand '%s'", string(args[1]))
	}
}

func handleEval(bySha bool) levelHandler {
	return func(d *Dispatcher, ctx context.Context, st *connState, args [][]byte) resp.Reply {
		name := "eval"
		if bySha {
			name = "evalsha"
		}
		if len(args) < 3 {
			return resp.ErrWrongNumArgs(name)
		}
		numKeys, ok := parseInt(args[2])
		if !ok || numKeys < 0 {
			return resp.Error("ERR value is not an integer or out of range")
		}
		rest := args[3:]
		if int64(len(rest)) < numKeys {
			return resp.Error("ERR Number of keys can't be greater than number of args")
		}
		keys := rest[:numKeys]
		argv := rest[numKeys:]
		if bySha && !d.vm.Exists(string(args[1])) {
			return resp.Error("NOSCRIPT No matching script. Please use EVAL.")
		}

		var finalReply resp.Reply
		err := d.txc.ExecInTxn(ctx, nil, func(txn store.Txn) error {
			call := func(callArgv [][]byte) (resp.Reply, error) {
				if len(callArgv) == 0 {
					return nil, errors.New("redis.call requires a command name")
				}
				cmdName := strings.ToUpper(string(callArgv[0]))
				r := d.dispatch(ctx, st, txn, cmdName, callArgv)
				if e, isErr := r.(resp.Error); isErr {
					return nil, errors.New(string(e))
				}
				return r, nil
			}
			r, err := d.vm.Eval(ctx, string(args[1]), keys, argv, call)
			if err != nil {
				return err
			}
			finalReply = r
			return nil
		})
		if err != nil {
			// ExecInTxn's retry wrapper only preserves ErrTxnAborted via
			// %w, formatting the body error as text (%v) alongside it —
			// errors.Is can't see through that, so NOSCRIPT is recognized
			// by its message instead of its sentinel here.
			if strings.Contains(err.Error(), lua.ErrNoScript.Error()) {
				return resp.Error("NOSCRIPT No matching script. Please use EVAL.")
			}
			return resp.Errorf("ERR %s", err.Error())
		}
		return finalReply
	}
}

func handleScript(d *Dispatcher, ctx context.Context, st *connState, args [][]byte) resp.Reply {
	if len(args) < 2 {
		return resp.ErrWrongNumArgs("script")
	}
	switch strings.ToUpper(string(args[1])) {
	case "LOAD":
		if len(args) != 3 {
			return resp.ErrWrongNumArgs("script|load")
		}
		sha, err := d.vm.Load(string(args[2]))
		if err != nil {
			return resp.Errorf("ERR %s", err.Error())
		}
		return resp.Bulk(sha)
	case "EXISTS":
		out := make(resp.Array, len(args)-2)
		for i, sha := range args[2:] {
			if d.vm.Exists(string(sha)) {
				out[i] = resp.Integer(1)
			} else {
				out[i] = resp.Integer(0)
			}
		}
		return out
	case "FLUSH":
		d.vm.Flush()
		return resp.OK
	case "KILL":
		d.vm.Kill()
		return resp.OK
	default:
		return resp.Errorf("ERR unknown SCRIPT subcommand '%s'", string(args[1]))
	}
}
