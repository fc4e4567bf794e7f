package vnfs

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/virtio-nfs/vnfsd/cfg"
	"github.com/virtio-nfs/vnfsd/internal/metrics"
	"github.com/virtio-nfs/vnfsd/internal/nfs4"
)

// noopMeter returns a meter backed by a manual reader that nothing ever
// collects from -- enough to satisfy NewOTelMetrics without asserting
// anything about exported data, which the dedicated internal/metrics tests
// already cover.
func noopMeter(t *testing.T) metric.Meter {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return provider.Meter("vnfsd-test")
}

// scriptedServer answers each COMPOUND call in order with the next canned
// raw COMPOUND4res body, matching internal/bootstrap's test helper.
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

func opOK(code uint32, body func(*nfs4.Encoder)) func(*nfs4.Encoder) {
	return func(e *nfs4.Encoder) {
		e.Uint32(code)
		e.Uint32(nfs4.NFS4Ok)
		if body != nil {
			body(e)
		}
	}
}

// newTestFacade dials a scripted fake server and returns a Facade whose
// bootstrap gate is already open (rootFH/clientID set directly, bypassing
// bootstrap.Run), ready to exercise data-path handlers.
func newTestFacade(t *testing.T, responses [][]byte) *Facade {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go scriptedServer(t, ln, responses)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := nfs4.Dial(ctx, ln.Addr().String(), 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	m, err := metrics.NewOTelMetrics(context.Background(), noopMeter(t))
	require.NoError(t, err)

	fs := New(cfg.Config{Export: "/srv/data", NThreads: 4}, client, timeutil.RealClock(), m)
	fs.rootFH = []byte{0xaa, 0xbb}
	fs.clientID = 777
	fs.gate.Open()
	return fs
}

// encodeStandardAttrsForTest encodes the same field set nfs4.StandardAttributes
// requests, in ascending bit order, for use as a canned GETATTR response.
func encodeStandardAttrsForTest(fileid uint64, mode uint32) (nfs4.Bitmap4, []byte) {
	e := nfs4.NewEncoder()
	e.Uint32(nfs4.NF4REG)       // type
	e.Uint64(0)                 // size
	e.Uint64(fileid)            // fileid
	e.Uint32(mode)              // mode
	e.Uint32(1)                 // numlinks
	e.String("0")               // owner
	e.String("0")               // owner_group
	e.Uint64(0)                 // space_used
	e.Int64(0)                  // time_access.seconds
	e.Uint32(0)                 // time_access.nseconds
	e.Int64(0)                  // time_metadata.seconds
	e.Uint32(0)                 // time_metadata.nseconds
	e.Int64(0)                  // time_modify.seconds
	e.Uint32(0)                 // time_modify.nseconds
	return nfs4.StandardAttributes(), e.Bytes()
}

func TestDataPathHandlersReturnEAGAINBeforeBootstrapReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := nfs4.Dial(ctx, ln.Addr().String(), 0, 0)
	require.NoError(t, err)
	defer client.Close()

	m, err := metrics.NewOTelMetrics(context.Background(), noopMeter(t))
	require.NoError(t, err)

	fs := New(cfg.Config{Export: "/srv/data", NThreads: 4}, client, timeutil.RealClock(), m)

	op := &fuseops.GetInodeAttributesOp{Inode: 42}
	err = fs.GetInodeAttributes(context.Background(), op)
	assert.ErrorIs(t, err, syscall.EAGAIN)
}

func TestLookupThenReadFileid42(t *testing.T) {
	bitmap, vals := encodeStandardAttrsForTest(42, 0644)
	lookupResp := encodeCompoundResult(nfs4.NFS4Ok, []func(*nfs4.Encoder){
		opOK(nfs4.OpPutfh, nil),
		opOK(nfs4.OpLookup, nil),
		func(e *nfs4.Encoder) {
			e.Uint32(nfs4.OpGetattr)
			e.Uint32(nfs4.NFS4Ok)
			e.Bitmap(bitmap)
			e.Opaque(vals)
		},
		func(e *nfs4.Encoder) {
			e.Uint32(nfs4.OpGetfh)
			e.Uint32(nfs4.NFS4Ok)
			e.Opaque([]byte{1, 2, 3})
		},
	})

	readResp := encodeCompoundResult(nfs4.NFS4Ok, []func(*nfs4.Encoder){
		opOK(nfs4.OpPutfh, nil),
		func(e *nfs4.Encoder) {
			e.Uint32(nfs4.OpRead)
			e.Uint32(nfs4.NFS4Ok)
			e.Uint32(0) // eof
			e.Opaque([]byte("hello world"))
		},
	})

	fs := newTestFacade(t, [][]byte{lookupResp, readResp})

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "greeting.txt"}
	require.NoError(t, fs.LookUpInode(context.Background(), lookup))
	assert.EqualValues(t, 42, lookup.Entry.Child)
	assert.Equal(t, int64(1), fs.inodes.Get(42).Nlookup)

	read := &fuseops.ReadFileOp{Inode: fuseops.InodeID(42), Dst: make([]byte, 32)}
	require.NoError(t, fs.ReadFile(context.Background(), read))
	assert.Equal(t, "hello world", string(read.Dst[:read.BytesRead]))
}

func TestOpenOwnerCounterAdvances(t *testing.T) {
	openResp := func() []byte {
		return encodeCompoundResult(nfs4.NFS4Ok, []func(*nfs4.Encoder){
			opOK(nfs4.OpPutfh, nil),
			func(e *nfs4.Encoder) {
				e.Uint32(nfs4.OpOpen)
				e.Uint32(nfs4.NFS4Ok)
				e.Uint32(0)             // stateid.seqid
				e.FixedOpaque(make([]byte, 12))
				e.Uint32(0)             // cinfo.atomic
				e.Uint64(0)             // cinfo.before
				e.Uint64(0)             // cinfo.after
				e.Uint32(0)             // rflags
				e.Bitmap(nfs4.Bitmap4{0, 0})
				e.Uint32(0) // delegation type NONE
			},
			func(e *nfs4.Encoder) {
				e.Uint32(nfs4.OpGetattr)
				e.Uint32(nfs4.NFS4Ok)
				e.Bitmap(nfs4.Bitmap4{1 << nfs4.Fattr4Fileid, 0})
				v := nfs4.NewEncoder()
				v.Uint64(99)
				e.Opaque(v.Bytes())
			},
			func(e *nfs4.Encoder) {
				e.Uint32(nfs4.OpGetfh)
				e.Uint32(nfs4.NFS4Ok)
				e.Opaque([]byte{9, 9})
			},
		})
	}

	fs := newTestFacade(t, [][]byte{openResp(), openResp()})
	fs.rootFH = []byte{0xaa, 0xbb}

	op1 := &fuseops.OpenFileOp{Inode: fuseops.RootInodeID}
	require.NoError(t, fs.OpenFile(context.Background(), op1))
	first := fs.ownerSeq.Load()

	op2 := &fuseops.OpenFileOp{Inode: fuseops.RootInodeID}
	require.NoError(t, fs.OpenFile(context.Background(), op2))
	second := fs.ownerSeq.Load()

	assert.Equal(t, first+1, second)
}

func TestStatfsOfEmptyExport(t *testing.T) {
	e := nfs4.NewEncoder()
	e.Uint64(0)             // files_free
	e.Uint64(0)             // files_total
	e.Uint32(255)           // maxname
	e.Uint64(1 << 30)       // space_avail
	e.Uint64(1 << 30)       // space_free
	e.Uint64(2 << 30)       // space_total

	statfsResp := encodeCompoundResult(nfs4.NFS4Ok, []func(*nfs4.Encoder){
		opOK(nfs4.OpPutfh, nil),
		func(enc *nfs4.Encoder) {
			enc.Uint32(nfs4.OpGetattr)
			enc.Uint32(nfs4.NFS4Ok)
			enc.Bitmap(nfs4.StatfsAttributes())
			enc.Opaque(e.Bytes())
		},
	})

	fs := newTestFacade(t, [][]byte{statfsResp})

	op := &fuseops.StatFSOp{}
	require.NoError(t, fs.StatFS(context.Background(), op))
	assert.EqualValues(t, 0, op.InodesFree)
	assert.EqualValues(t, 0, op.Inodes)
	assert.EqualValues(t, blockSize, op.BlockSize)
}

func TestSyncUnknownNodeidReturnsENOENT(t *testing.T) {
	fs := newTestFacade(t, nil)

	op := &fuseops.SyncFileOp{Inode: fuseops.InodeID(12345)}
	err := fs.SyncFile(context.Background(), op)
	assert.ErrorIs(t, err, syscall.ENOENT)
}

func TestPoolExhaustionReturnsENOMEMWithNoCompoundSent(t *testing.T) {
	fs := newTestFacade(t, nil)
	for i := 0; i < fs.pool.Cap(); i++ {
		_, err := fs.pool.Alloc()
		require.NoError(t, err)
	}

	op := &fuseops.GetInodeAttributesOp{Inode: fuseops.RootInodeID}
	err := fs.GetInodeAttributes(context.Background(), op)
	assert.ErrorIs(t, err, syscall.ENOMEM)
}

// capturingServer behaves like scriptedServer for a single call, but also
// hands the raw request body back over the returned channel so a test can
// assert on exactly what the facade put on the wire.
func capturingServer(t *testing.T, ln net.Listener, resp []byte) <-chan []byte {
	t.Helper()
	captured := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var hdr [4]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(hdr[:]) &^ 0x80000000
		body := make([]byte, length)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		captured <- body

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
		conn.Write(framed.Bytes())
	}()
	return captured
}

// decodeOpenCallFromWire walks a captured RPC CALL body (xid, msgtype, rpc
// header, AUTH_SYS cred, AUTH_NONE verf, COMPOUND4args: tag, minorversion,
// numops, PUTFH, OPEN) far enough to recover OPEN's opentype/createmode/
// create-attrs, matching the field order client.go's encodeCall and
// ops.go's Open build the request in.
func decodeOpenCallFromWire(t *testing.T, body []byte) (opentype, createmode uint32, bitmap []uint32, attrs []byte) {
	t.Helper()
	d := nfs4.NewDecoder(body)

	_, err := d.Uint32() // xid
	require.NoError(t, err)
	_, err = d.Uint32() // msgtype
	require.NoError(t, err)
	_, err = d.Uint32() // rpcvers
	require.NoError(t, err)
	_, err = d.Uint32() // program
	require.NoError(t, err)
	_, err = d.Uint32() // version
	require.NoError(t, err)
	_, err = d.Uint32() // proc
	require.NoError(t, err)
	_, err = d.Uint32() // cred flavor
	require.NoError(t, err)
	_, err = d.Opaque() // cred body
	require.NoError(t, err)
	_, err = d.Uint32() // verf flavor
	require.NoError(t, err)
	_, err = d.Opaque() // verf body
	require.NoError(t, err)

	_, err = d.String() // tag
	require.NoError(t, err)
	_, err = d.Uint32() // minorversion
	require.NoError(t, err)
	_, err = d.Uint32() // numops
	require.NoError(t, err)

	opcode, err := d.Uint32() // PUTFH opcode
	require.NoError(t, err)
	require.EqualValues(t, nfs4.OpPutfh, opcode)
	_, err = d.Opaque() // fh
	require.NoError(t, err)

	opcode, err = d.Uint32() // OPEN opcode
	require.NoError(t, err)
	require.EqualValues(t, nfs4.OpOpen, opcode)
	_, err = d.Uint32() // seqid
	require.NoError(t, err)
	_, err = d.Uint32() // share_access
	require.NoError(t, err)
	_, err = d.Uint32() // share_deny
	require.NoError(t, err)
	_, err = d.Uint64() // clientid
	require.NoError(t, err)
	_, err = d.Opaque() // owner
	require.NoError(t, err)

	opentype, err = d.Uint32()
	require.NoError(t, err)
	if opentype == nfs4.Open4Create {
		createmode, err = d.Uint32()
		require.NoError(t, err)
		switch createmode {
		case nfs4.Exclusive4:
			_, err = d.FixedOpaque(8)
			require.NoError(t, err)
		default:
			bitmap, err = d.Bitmap()
			require.NoError(t, err)
			attrs, err = d.Opaque()
			require.NoError(t, err)
		}
	}
	return opentype, createmode, bitmap, attrs
}

func TestOpenFileWithCreateFlagSendsUncheckedCreate(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	openResp := encodeCompoundResult(nfs4.NFS4Ok, []func(*nfs4.Encoder){
		opOK(nfs4.OpPutfh, nil),
		func(e *nfs4.Encoder) {
			e.Uint32(nfs4.OpOpen)
			e.Uint32(nfs4.NFS4Ok)
			e.Uint32(0) // stateid.seqid
			e.FixedOpaque(make([]byte, 12))
			e.Uint32(0) // cinfo.atomic
			e.Uint64(0) // cinfo.before
			e.Uint64(0) // cinfo.after
			e.Uint32(0) // rflags
			e.Bitmap(nfs4.Bitmap4{0, 0})
			e.Uint32(0) // delegation type NONE
		},
		func(e *nfs4.Encoder) {
			e.Uint32(nfs4.OpGetattr)
			e.Uint32(nfs4.NFS4Ok)
			e.Bitmap(nfs4.Bitmap4{1 << nfs4.Fattr4Fileid, 0})
			v := nfs4.NewEncoder()
			v.Uint64(55)
			e.Opaque(v.Bytes())
		},
		func(e *nfs4.Encoder) {
			e.Uint32(nfs4.OpGetfh)
			e.Uint32(nfs4.NFS4Ok)
			e.Opaque([]byte{5, 5})
		},
	})

	captured := capturingServer(t, ln, openResp)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := nfs4.Dial(ctx, ln.Addr().String(), 0, 0)
	require.NoError(t, err)
	defer client.Close()

	m, err := metrics.NewOTelMetrics(context.Background(), noopMeter(t))
	require.NoError(t, err)

	fs := New(cfg.Config{Export: "/srv/data", NThreads: 4}, client, timeutil.RealClock(), m)
	fs.rootFH = []byte{0xaa, 0xbb}
	fs.clientID = 777
	fs.gate.Open()

	op := &fuseops.OpenFileOp{
		Inode:     fuseops.RootInodeID,
		OpenFlags: syscall.O_CREAT | syscall.O_WRONLY,
		Mode:      0640,
		Header:    fuseops.OpHeader{Uid: 1000, Gid: 1000},
	}
	require.NoError(t, fs.OpenFile(context.Background(), op))
	assert.EqualValues(t, 55, op.Handle)

	var body []byte
	select {
	case body = <-captured:
	case <-time.After(5 * time.Second):
		t.Fatal("server never received a request")
	}

	opentype, createmode, bitmap, attrs := decodeOpenCallFromWire(t, body)
	require.EqualValues(t, nfs4.Open4Create, opentype)
	assert.EqualValues(t, nfs4.Unchecked4, createmode)

	wantBitmap, wantAttrs := nfs4.CreateAttrs(0640, 1000, 1000)
	assert.Equal(t, wantBitmap, bitmap)
	assert.Equal(t, wantAttrs, attrs)
}

func TestForgetInodeDecrementsNlookupWithoutReclaiming(t *testing.T) {
	fs := newTestFacade(t, nil)
	record, _ := fs.inodes.Getsert(7, []byte{1})
	record.IncLookup()
	record.IncLookup()

	op := &fuseops.ForgetInodeOp{Inode: fuseops.InodeID(7), N: 2}
	require.NoError(t, fs.ForgetInode(context.Background(), op))

	assert.EqualValues(t, 0, fs.inodes.Get(7).Nlookup)
	assert.NotNil(t, fs.inodes.Get(7), "records are never reclaimed before table destruction")
}
