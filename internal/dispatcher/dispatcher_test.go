package dispatcher

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redistd/redistd/internal/clientreg"
	"github.com/redistd/redistd/internal/config"
	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/lua"
	"github.com/redistd/redistd/internal/metrics"
	"github.com/redistd/redistd/internal/resp"
	"github.com/redistd/redistd/internal/store"
	"github.com/redistd/redistd/internal/txn"
)

func newTestDispatcher(t *testing.T, password string) *Dispatcher {
	t.Helper()
	codec := keycodec.New([]byte("t1"), 4)
	eng := store.NewMemEngine()
	txc := txn.New(eng, txn.DefaultRetryPolicy(), nil)
	cfg := config.Default()
	cfg.Password = password
	return New(codec, txc, clientreg.New(), metrics.New(), lua.NewGopherVM(), nil, cfg)
}

func args(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

func TestHandleRequiresAuthWhenPasswordSet(t *testing.T) {
	d := newTestDispatcher(t, "secret")
	st := &connState{authorized: false}

	r := d.handle(context.Background(), st, args("GET", "k"))
	require.Equal(t, resp.ErrNoAuth, r)

	r = d.handle(context.Background(), st, args("AUTH", "wrong"))
	require.Equal(t, resp.ErrWrongPass, r)
	require.False(t, st.authorized)

	r = d.handle(context.Background(), st, args("AUTH", "secret"))
	require.Equal(t, resp.OK, r)
	require.True(t, st.authorized)

	r = d.handle(context.Background(), st, args("GET", "k"))
	require.Equal(t, resp.Nil, r)
}

func TestMultiExecQueuesAndRunsTogether(t *testing.T) {
	d := newTestDispatcher(t, "")
	st := &connState{authorized: true}

	require.Equal(t, resp.OK, d.handle(context.Background(), st, args("MULTI")))
	require.True(t, st.inMulti)

	r := d.handle(context.Background(), st, args("SET", "k", "v"))
	require.Equal(t, resp.SimpleString("QUEUED"), r)

	r = d.handle(context.Background(), st, args("GET", "k"))
	require.Equal(t, resp.SimpleString("QUEUED"), r)

	r = d.handle(context.Background(), st, args("EXEC"))
	arr, ok := r.(resp.Array)
	require.True(t, ok)
	require.Len(t, arr, 2)
	require.Equal(t, resp.OK, arr[0])
	require.Equal(t, resp.Bulk("v"), arr[1])
	require.False(t, st.inMulti)
}

func TestMultiNestedRejected(t *testing.T) {
	d := newTestDispatcher(t, "")
	st := &connState{authorized: true}
	require.Equal(t, resp.OK, d.handle(context.Background(), st, args("MULTI")))
	r := d.handle(context.Background(), st, args("MULTI"))
	require.Equal(t, resp.Error("ERR MULTI calls can not be nested"), r)
}

func TestExecWithoutMultiRejected(t *testing.T) {
	d := newTestDispatcher(t, "")
	st := &connState{authorized: true}
	r := d.handle(context.Background(), st, args("EXEC"))
	require.Equal(t, resp.Error("ERR EXEC without MULTI"), r)
}

func TestDiscardClearsQueue(t *testing.T) {
	d := newTestDispatcher(t, "")
	st := &connState{authorized: true}
	d.handle(context.Background(), st, args("MULTI"))
	d.handle(context.Background(), st, args("SET", "k", "v"))
	r := d.handle(context.Background(), st, args("DISCARD"))
	require.Equal(t, resp.OK, r)
	require.False(t, st.inMulti)
	require.Nil(t, st.queued)
}

func TestMultiAbortsOnError(t *testing.T) {
	d := newTestDispatcher(t, "")
	st := &connState{authorized: true}
	d.handle(context.Background(), st, args("MULTI"))
	// LPUSH against a string key fails at exec time with WRONGTYPE.
	d.handle(context.Background(), st, args("SET", "k", "v"))
	d.handle(context.Background(), st, args("LPUSH", "k", "x"))
	r := d.handle(context.Background(), st, args("EXEC"))
	require.Equal(t, resp.Error("EXECABORT Transaction discarded because of previous errors."), r)
}

func TestQueueRejectsUnknownCommand(t *testing.T) {
	d := newTestDispatcher(t, "")
	st := &connState{authorized: true}
	d.handle(context.Background(), st, args("MULTI"))
	r := d.handle(context.Background(), st, args("NOTACOMMAND", "x"))
	require.Equal(t, resp.Error("ERR unknown command 'NOTACOMMAND'"), r)
}

func TestEvalSharesTransactionWithCall(t *testing.T) {
	d := newTestDispatcher(t, "")
	st := &connState{authorized: true}

	r := d.handle(context.Background(), st, args("EVAL", "redis.call('SET', KEYS[1], ARGV[1]); return redis.call('GET', KEYS[1])", "1", "k", "v"))
	require.Equal(t, resp.Bulk("v"), r)
}

func TestEvalShaNoScript(t *testing.T) {
	d := newTestDispatcher(t, "")
	st := &connState{authorized: true}
	r := d.handle(context.Background(), st, args("EVALSHA", "0000000000000000000000000000000000000a", "0"))
	require.Equal(t, resp.Error("NOSCRIPT No matching script. Please use EVAL."), r)
}

func TestScriptLoadThenEvalSha(t *testing.T) {
	d := newTestDispatcher(t, "")
	st := &connState{authorized: true}

	r := d.handle(context.Background(), st, args("SCRIPT", "LOAD", "return 1"))
	sha, ok := r.(resp.Bulk)
	require.True(t, ok)

	r = d.handle(context.Background(), st, args("EVALSHA", string(sha), "0"))
	require.Equal(t, resp.Integer(1), r)
}

func TestDelRemovesKey(t *testing.T) {
	d := newTestDispatcher(t, "")
	st := &connState{authorized: true}

	require.Equal(t, resp.OK, d.handle(context.Background(), st, args("SET", "k", "v")))
	r := d.handle(context.Background(), st, args("DEL", "k"))
	require.Equal(t, resp.Integer(1), r)
	r = d.handle(context.Background(), st, args("GET", "k"))
	require.Equal(t, resp.Nil, r)
}

func TestClientGetNameSetName(t *testing.T) {
	d := newTestDispatcher(t, "")
	conn1, conn2 := net.Pipe()
	defer conn1.Close()
	defer conn2.Close()
	id, _ := d.registry.Register(conn1)
	st := &connState{authorized: true, id: id}

	r := d.handle(context.Background(), st, args("CLIENT", "SETNAME", "myconn"))
	require.Equal(t, resp.OK, r)

	r = d.handle(context.Background(), st, args("CLIENT", "GETNAME"))
	require.Equal(t, resp.Bulk("myconn"), r)
}
