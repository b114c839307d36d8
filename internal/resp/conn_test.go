package resp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadCommandMultiBulk(t *testing.T) {
	in := bytes.NewBufferString("*2\r\n$3\r\nGET\r\n$1\r\nk\r\n")
	c := NewConn(in, &bytes.Buffer{})
	args, err := c.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("GET"), []byte("k")}, args)
}

func TestReadCommandInline(t *testing.T) {
	in := bytes.NewBufferString("PING hello\r\n")
	c := NewConn(in, &bytes.Buffer{})
	args, err := c.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("PING"), []byte("hello")}, args)
}

func TestWriteReplyTypes(t *testing.T) {
	var out bytes.Buffer
	c := NewConn(&bytes.Buffer{}, &out)

	require.NoError(t, c.WriteReply(OK))
	require.NoError(t, c.WriteReply(Integer(42)))
	require.NoError(t, c.WriteReply(BulkString("hi")))
	require.NoError(t, c.WriteReply(Nil))
	require.NoError(t, c.WriteReply(Array{Integer(1), BulkString("x")}))
	require.NoError(t, c.Flush())

	want := "+OK\r\n:42\r\n$2\r\nhi\r\n$-1\r\n*2\r\n:1\r\n$1\r\nx\r\n"
	require.Equal(t, want, out.String())
}

func TestWriteReplyError(t *testing.T) {
	var out bytes.Buffer
	c := NewConn(&bytes.Buffer{}, &out)
	require.NoError(t, c.WriteReply(Errorf("ERR %s", "boom")))
	require.NoError(t, c.Flush())
	require.Equal(t, "-ERR boom\r\n", out.String())
}
