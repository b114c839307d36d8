package lua

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redistd/redistd/internal/resp"
)

func TestLoadAndEvalBySHA(t *testing.T) {
	vm := NewGopherVM()
	sha, err := vm.Load("return 1")
	require.NoError(t, err)
	require.True(t, vm.Exists(sha))

	r, err := vm.Eval(context.Background(), sha, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, resp.Integer(1), r)
}

func TestEvalMissingSHAReturnsNoScript(t *testing.T) {
	vm := NewGopherVM()
	_, err := vm.Eval(context.Background(), "000000000000000000000000000000000000000a", nil, nil, nil)
	require.ErrorIs(t, err, ErrNoScript)
}

func TestEvalReadsKeysAndArgv(t *testing.T) {
	vm := NewGopherVM()
	r, err := vm.Eval(context.Background(), "return KEYS[1] .. ARGV[1]", [][]byte{[]byte("k")}, [][]byte{[]byte("v")}, nil)
	require.NoError(t, err)
	require.Equal(t, resp.Bulk("kv"), r)
}

func TestEvalInvokesRedisCall(t *testing.T) {
	vm := NewGopherVM()
	var seen [][]byte
	call := func(argv [][]byte) (resp.Reply, error) {
		seen = argv
		return resp.BulkString("called"), nil
	}
	r, err := vm.Eval(context.Background(), `return redis.call('GET', KEYS[1])`, [][]byte{[]byte("mykey")}, nil, call)
	require.NoError(t, err)
	require.Equal(t, resp.Bulk("called"), r)
	require.Equal(t, [][]byte{[]byte("GET"), []byte("mykey")}, seen)
}

func TestFlushClearsCache(t *testing.T) {
	vm := NewGopherVM()
	sha, _ := vm.Load("return 1")
	vm.Flush()
	require.False(t, vm.Exists(sha))
}
