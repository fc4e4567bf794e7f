package bootstrap

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtio-nfs/vnfsd/internal/nfs4"
)

func TestSplitExport(t *testing.T) {
	assert.Equal(t, []string{"srv", "data"}, splitExport("/srv/data"))
	assert.Equal(t, []string{"srv", "data"}, splitExport("/srv/data/"))
	assert.Nil(t, splitExport("/"))
}

func TestRandomVerifierNotFixed(t *testing.T) {
	v1, err := randomVerifier()
	require.NoError(t, err)
	v2, err := randomVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2, "each bootstrap must generate a fresh verifier, not the C original's hardcoded one")
}

func TestClientNameUnique(t *testing.T) {
	assert.NotEqual(t, clientName(), clientName())
}

func TestGateBlocksUntilOpen(t *testing.T) {
	g := NewGate()
	assert.False(t, g.Ready())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)

	g.Open()
	assert.True(t, g.Ready())

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, g.Wait(ctx2))
}

// scriptedServer answers every COMPOUND call with the next canned raw
// response in order, regardless of what was actually sent -- enough to
// drive bootstrap's sequential handshake without a real NFS server.
func scriptedServer(t *testing.T, ln net.Listener, responses [][]byte) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	for _, resp := range responses {
		var hdr [4]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(hdr[:]) &^ 0x80000000
		body := make([]byte, length)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		d := nfs4.NewDecoder(body)
		xid, err := d.Uint32()
		require.NoError(t, err)

		e := nfs4.NewEncoder()
		e.Uint32(xid)
		e.Uint32(1) // REPLY
		e.Uint32(0) // MSG_ACCEPTED
		e.Uint32(0) // AUTH_NONE
		e.Opaque(nil)
		e.Uint32(0) // SUCCESS
		e.Raw(resp)

		framed := nfs4.NewEncoder()
		framed.Uint32(uint32(len(e.Bytes())) | 0x80000000)
		framed.Raw(e.Bytes())
		if _, err := conn.Write(framed.Bytes()); err != nil {
			return
		}
	}
}

func encodeCompoundResult(status uint32, ops []func(*nfs4.Encoder)) []byte {
	e := nfs4.NewEncoder()
	e.Uint32(status)
	e.String("")
	e.Uint32(uint32(len(ops)))
	for _, op := range ops {
		op(e)
	}
	return e.Bytes()
}

func TestRunBootstrapsAgainstSrvData(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	wantFH := []byte{0xaa, 0xbb}
	rootLookup := encodeCompoundResult(nfs4.NFS4Ok, []func(*nfs4.Encoder){
		func(e *nfs4.Encoder) { e.Uint32(nfs4.OpPutrootfh); e.Uint32(nfs4.NFS4Ok) },
		func(e *nfs4.Encoder) { e.Uint32(nfs4.OpLookup); e.Uint32(nfs4.NFS4Ok) },
		func(e *nfs4.Encoder) { e.Uint32(nfs4.OpLookup); e.Uint32(nfs4.NFS4Ok) },
		func(e *nfs4.Encoder) { e.Uint32(nfs4.OpGetfh); e.Uint32(nfs4.NFS4Ok); e.Opaque(wantFH) },
	})

	var confirmVerifier [8]byte
	setClientID := encodeCompoundResult(nfs4.NFS4Ok, []func(*nfs4.Encoder){
		func(e *nfs4.Encoder) {
			e.Uint32(nfs4.OpSetclientid)
			e.Uint32(nfs4.NFS4Ok)
			e.Uint64(777)
			e.FixedOpaque(confirmVerifier[:])
		},
	})
	confirm := encodeCompoundResult(nfs4.NFS4Ok, []func(*nfs4.Encoder){
		func(e *nfs4.Encoder) { e.Uint32(nfs4.OpSetclientidConfirm); e.Uint32(nfs4.NFS4Ok) },
	})

	go scriptedServer(t, ln, [][]byte{rootLookup, setClientID, confirm})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := nfs4.Dial(ctx, ln.Addr().String(), 0, 0)
	require.NoError(t, err)
	defer client.Close()

	gate := NewGate()
	result, err := Run(ctx, client, "/srv/data", gate)
	require.NoError(t, err)
	assert.Equal(t, wantFH, result.RootFH)
	assert.EqualValues(t, 777, result.ClientID)
	assert.True(t, gate.Ready())
}
