package vnfs

import (
	"context"
	"encoding/binary"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/reqtrace"

	"github.com/virtio-nfs/vnfsd/internal/logger"
	"github.com/virtio-nfs/vnfsd/internal/nfs4"
)

// fhForInode resolves a nodeid to its currently-known NFSv4 file handle.
// nodeid 1 (fuseops.RootInodeID) is the export root discovered during
// bootstrap; every other nodeid is looked up by fileid in the inode table.
func (fs *Facade) fhForInode(id fuseops.InodeID) ([]byte, error) {
	if id == fuseops.RootInodeID {
		return fs.rootFH, nil
	}
	record := fs.inodes.Get(uint64(id))
	if record == nil {
		return nil, syscall.ENOENT
	}
	return record.Fh, nil
}

// allocContinuation draws one slot from the fixed pool (C1), recording a
// pool-exhaustion metric and mapping it to ENOMEM (no RPC is ever submitted
// when the pool is exhausted).
func (fs *Facade) allocContinuation(ctx context.Context) (*continuation, error) {
	c, err := fs.pool.Alloc()
	if err != nil {
		fs.metrics.RecordPoolExhausted(ctx)
		return nil, syscall.ENOMEM
	}
	return c, nil
}

// submit issues b, recording submission/failure/latency metrics and a
// reqtrace span (a no-op unless reqtrace.Enabled(), same as every
// jacobsa/fuse op), and maps both transport errors and a non-NFS4_OK
// status to the appropriate errno.
func (fs *Facade) submit(ctx context.Context, op string, b *nfs4.Builder) (resp *nfs4.Response, err error) {
	ctx, report := reqtrace.StartSpan(ctx, op)
	defer func() { report(err) }()

	fs.metrics.RecordSubmitted(ctx, op)
	start := time.Now()
	resp, err = fs.client.Compound(ctx, b)
	fs.metrics.RecordLatency(ctx, op, time.Since(start).Seconds())
	if err != nil {
		fs.metrics.RecordFailed(ctx, op)
		logger.Errorf("%s: compound rpc: %v", op, err)
		return nil, syscall.EREMOTEIO
	}
	if resp.Status != nfs4.NFS4Ok {
		fs.metrics.RecordFailed(ctx, op)
		return nil, nfs4.ErrnoFromStatus(resp.Status)
	}
	return resp, nil
}

// translateMode combines an NF4* type with POSIX permission bits into the
// os.FileMode fuseops.InodeAttributes expects.
func translateMode(nfsType uint32, mode uint32) os.FileMode {
	m := os.FileMode(mode & 0o7777)
	switch nfsType {
	case nfs4.NF4DIR:
		m |= os.ModeDir
	case nfs4.NF4LNK:
		m |= os.ModeSymlink
	}
	return m
}

// parseID converts the decimal-string owner/owner_group values this
// translator always uses (see nfs4.CreateAttrs) back into a numeric
// uid/gid. A value that isn't a plain decimal number (some servers map
// owners to names) is reported as uid/gid 0 rather than failing the op.
func parseID(s string) uint32 {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func toInodeAttributes(a nfs4.FileAttr) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: a.Numlinks,
		Mode:  translateMode(a.Type, a.Mode),
		Atime: a.Atime,
		Mtime: a.Mtime,
		Uid:   parseID(a.Owner),
		Gid:   parseID(a.OwnerGroup),
	}
}

// LookUpInode implements the lookup opcode: PUTFH(parent) + LOOKUP(name) +
// GETATTR(standard_attributes) + GETFH, matching virtionfs.c's vlookup.
// No attribute or entry caching is ever requested (spec Non-goal): both
// expiration fields on op.Entry are left at their zero value.
func (fs *Facade) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	if !fs.gate.Ready() {
		return syscall.EAGAIN
	}
	c, err := fs.allocContinuation(ctx)
	if err != nil {
		return err
	}
	defer fs.pool.Free(c)

	parentFH, err := fs.fhForInode(op.Parent)
	if err != nil {
		return err
	}

	b := nfs4.NewCompound("vnfsd-lookup")
	b.PutFH(parentFH)
	b.Lookup(op.Name)
	b.GetAttr(nfs4.StandardAttributes())
	b.GetFH()

	resp, err := fs.submit(ctx, "lookup", b)
	if err != nil {
		return err
	}
	if err := resp.Skip(nfs4.OpPutfh); err != nil {
		return err
	}
	if err := resp.Skip(nfs4.OpLookup); err != nil {
		return err
	}
	bitmap, vals, err := resp.GetAttr()
	if err != nil {
		return err
	}
	attr, err := nfs4.ParseAttrs(bitmap, vals)
	if err != nil {
		return err
	}
	fh, err := resp.GetFH()
	if err != nil {
		return err
	}

	record, _ := fs.inodes.Getsert(attr.Fileid, fh)
	record.IncLookup()
	if len(record.Fh) == 0 {
		record.Fh = fh
	}

	op.Entry = fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(attr.Fileid),
		Generation: fuseops.GenerationNumber(record.Generation),
		Attributes: toInodeAttributes(attr),
	}
	return nil
}

// GetInodeAttributes implements getattr: PUTFH + GETATTR(standard_attributes).
func (fs *Facade) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	if !fs.gate.Ready() {
		return syscall.EAGAIN
	}
	c, err := fs.allocContinuation(ctx)
	if err != nil {
		return err
	}
	defer fs.pool.Free(c)

	fh, err := fs.fhForInode(op.Inode)
	if err != nil {
		return err
	}

	b := nfs4.NewCompound("vnfsd-getattr")
	b.PutFH(fh)
	b.GetAttr(nfs4.StandardAttributes())

	resp, err := fs.submit(ctx, "getattr", b)
	if err != nil {
		return err
	}
	if err := resp.Skip(nfs4.OpPutfh); err != nil {
		return err
	}
	bitmap, vals, err := resp.GetAttr()
	if err != nil {
		return err
	}
	attr, err := nfs4.ParseAttrs(bitmap, vals)
	if err != nil {
		return err
	}

	op.Attributes = toInodeAttributes(attr)
	return nil
}

// SetInodeAttributes implements setattr: PUTFH + SETATTR(anonymous stateid)
// + GETATTR(standard_attributes), using nfs4.SetattrValues for the
// attrmask/attrlist pair -- the fix for the C original's undersized-buffer
// and freed-base-pointer defects.
func (fs *Facade) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	if !fs.gate.Ready() {
		return syscall.EAGAIN
	}
	c, err := fs.allocContinuation(ctx)
	if err != nil {
		return err
	}
	defer fs.pool.Free(c)

	fh, err := fs.fhForInode(op.Inode)
	if err != nil {
		return err
	}

	var valid int
	var mode uint32
	var size uint64
	if op.Mode != nil {
		valid |= nfs4.SetAttrMode
		mode = uint32(op.Mode.Perm())
	}
	if op.Size != nil {
		valid |= nfs4.SetAttrSize
		size = *op.Size
	}

	bitmap, attrVals := nfs4.SetattrValues(valid, mode, size)

	b := nfs4.NewCompound("vnfsd-setattr")
	b.PutFH(fh)
	b.SetAttr(nfs4.AnonymousStateid, bitmap, attrVals)
	b.GetAttr(nfs4.StandardAttributes())

	resp, err := fs.submit(ctx, "setattr", b)
	if err != nil {
		return err
	}
	if err := resp.Skip(nfs4.OpPutfh); err != nil {
		return err
	}
	if err := resp.SetAttr(); err != nil {
		return err
	}
	respBitmap, vals, err := resp.GetAttr()
	if err != nil {
		return err
	}
	attr, err := nfs4.ParseAttrs(respBitmap, vals)
	if err != nil {
		return err
	}

	op.Attributes = toInodeAttributes(attr)
	return nil
}

// ForgetInode decrements the record's nlookup by op.N and returns. It never
// removes the record from the table: spec.md leaves reclamation out of
// scope (records live until table destruction), fixing only the C
// original's defect of never decrementing nlookup at all. Purely local
// bookkeeping -- no RPC, no bootstrap dependency.
func (fs *Facade) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	record := fs.inodes.Get(uint64(op.Inode))
	if record == nil {
		return nil
	}
	record.DecLookup(int64(op.N))
	return nil
}

// OpenFile implements open: PUTFH + OPEN(CLAIM_FH, share_access=BOTH,
// share_deny=NONE) + GETATTR(fileid_attributes) + GETFH, matching
// virtionfs.c's vopen. The open_owner is clientID (from bootstrap) plus a
// per-call value built from an atomic counter, so concurrent opens never
// collide on the same owner.
//
// When op.OpenFlags carries O_CREAT, OPEN is built as opentype=CREATE,
// createmode=UNCHECKED4, with create-attributes setting mode and the
// requesting uid/gid (op.Header.Uid/Gid) on the new file -- UNCHECKED so a
// concurrent creator racing to the same name succeeds rather than EEXIST,
// matching spec.md's "Open-for-create" scenario.
func (fs *Facade) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	if !fs.gate.Ready() {
		return syscall.EAGAIN
	}
	c, err := fs.allocContinuation(ctx)
	if err != nil {
		return err
	}
	defer fs.pool.Free(c)

	fh, err := fs.fhForInode(op.Inode)
	if err != nil {
		return err
	}

	ownerVal := make([]byte, 4)
	binary.BigEndian.PutUint32(ownerVal, fs.ownerSeq.Add(1))

	openArgs := nfs4.OpenArgs{
		ClientID:    fs.clientID,
		OwnerVal:    ownerVal,
		ShareAccess: nfs4.ShareAccessBoth,
		ShareDeny:   nfs4.ShareDenyNone,
	}
	if op.OpenFlags&syscall.O_CREAT != 0 {
		openArgs.Create = true
		openArgs.CreateMode = nfs4.Unchecked4
		openArgs.CreateBitmap, openArgs.CreateAttrs = nfs4.CreateAttrs(uint32(op.Mode.Perm()), op.Header.Uid, op.Header.Gid)
	}

	b := nfs4.NewCompound("vnfsd-open")
	b.PutFH(fh)
	b.Open(openArgs)
	b.GetAttr(nfs4.FileidAttributes())
	b.GetFH()

	resp, err := fs.submit(ctx, "open", b)
	if err != nil {
		return err
	}
	if err := resp.Skip(nfs4.OpPutfh); err != nil {
		return err
	}
	if _, err := resp.Open(); err != nil {
		return err
	}
	bitmap, vals, err := resp.GetAttr()
	if err != nil {
		return err
	}
	fileid, err := nfs4.ParseFileid(bitmap, vals)
	if err != nil {
		return err
	}
	newFH, err := resp.GetFH()
	if err != nil {
		return err
	}

	record, _ := fs.inodes.Getsert(fileid, newFH)
	record.IncLookup()
	if len(record.Fh) == 0 {
		record.Fh = newFH
	} else if string(record.Fh) != string(newFH) {
		logger.Warnf("open: fileid %d's file handle changed across opens", fileid)
	}

	op.Handle = fuseops.HandleID(fileid)
	return nil
}

// ReadFile implements read: PUTFH + READ(anonymous stateid), matching
// virtionfs.c's vread. Exactly len(op.Dst) bytes are requested; fewer
// bytes copied back than requested signals EOF to the kernel, not an
// error.
func (fs *Facade) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	if !fs.gate.Ready() {
		return syscall.EAGAIN
	}
	c, err := fs.allocContinuation(ctx)
	if err != nil {
		return err
	}
	defer fs.pool.Free(c)

	fh, err := fs.fhForInode(op.Inode)
	if err != nil {
		return err
	}

	b := nfs4.NewCompound("vnfsd-read")
	b.PutFH(fh)
	b.Read(uint64(op.Offset), uint32(len(op.Dst)))

	resp, err := fs.submit(ctx, "read", b)
	if err != nil {
		return err
	}
	if err := resp.Skip(nfs4.OpPutfh); err != nil {
		return err
	}
	_, data, err := resp.Read()
	if err != nil {
		return err
	}

	op.BytesRead = copy(op.Dst, data)
	return nil
}

// WriteFile implements write: PUTFH + WRITE(anonymous stateid,
// UNSTABLE4), matching virtionfs.c's vwrite. op.Data is always sent as a
// single opaque buffer -- NFSv4 WRITE has no iovec analogue, the same
// constraint the C original's comment on vwrite notes.
func (fs *Facade) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	if !fs.gate.Ready() {
		return syscall.EAGAIN
	}
	c, err := fs.allocContinuation(ctx)
	if err != nil {
		return err
	}
	defer fs.pool.Free(c)

	fh, err := fs.fhForInode(op.Inode)
	if err != nil {
		return err
	}

	b := nfs4.NewCompound("vnfsd-write")
	b.PutFH(fh)
	b.Write(uint64(op.Offset), nfs4.Unstable4, op.Data)

	resp, err := fs.submit(ctx, "write", b)
	if err != nil {
		return err
	}
	if err := resp.Skip(nfs4.OpPutfh); err != nil {
		return err
	}
	count, err := resp.Write()
	if err != nil {
		return err
	}

	if int(count) != len(op.Data) {
		logger.Warnf("write: short write at offset %d: wrote %d of %d bytes", op.Offset, count, len(op.Data))
	}
	return nil
}

// SyncFile implements fsync: PUTFH + COMMIT(0, 0), matching virtionfs.c's
// vfsync. FUSE's fsync carries no byte range, so the whole file is always
// committed (offset=0, count=0 means "to end of file" per RFC 7530
// §14.2.4).
func (fs *Facade) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	if !fs.gate.Ready() {
		return syscall.EAGAIN
	}
	c, err := fs.allocContinuation(ctx)
	if err != nil {
		return err
	}
	defer fs.pool.Free(c)

	fh, err := fs.fhForInode(op.Inode)
	if err != nil {
		return err
	}

	b := nfs4.NewCompound("vnfsd-fsync")
	b.PutFH(fh)
	b.Commit(0, 0)

	resp, err := fs.submit(ctx, "fsync", b)
	if err != nil {
		return err
	}
	if err := resp.Skip(nfs4.OpPutfh); err != nil {
		return err
	}
	return resp.Commit()
}

// blockSize is the unit statfs reports block counts in. NFSv4 GETATTR
// reports space in bytes; FUSE's statfs wants block counts, so this
// translator picks a fixed reporting block size, matching
// nfs_parse_statfs's use of a constant block size in the C original.
const blockSize = 4096

// StatFS implements statfs: PUTFH(root) + GETATTR(statfs_attributes),
// matching virtionfs.c's statfs/statfs_cb. Always measured against the
// export root -- the C original never statfs's any other inode either.
func (fs *Facade) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	if !fs.gate.Ready() {
		return syscall.EAGAIN
	}
	c, err := fs.allocContinuation(ctx)
	if err != nil {
		return err
	}
	defer fs.pool.Free(c)

	b := nfs4.NewCompound("vnfsd-statfs")
	b.PutFH(fs.rootFH)
	b.GetAttr(nfs4.StatfsAttributes())

	resp, err := fs.submit(ctx, "statfs", b)
	if err != nil {
		return err
	}
	if err := resp.Skip(nfs4.OpPutfh); err != nil {
		return err
	}
	bitmap, vals, err := resp.GetAttr()
	if err != nil {
		return err
	}
	statfs, err := nfs4.ParseStatfs(bitmap, vals)
	if err != nil {
		return err
	}

	op.BlockSize = blockSize
	op.Blocks = statfs.SpaceTotal / blockSize
	op.BlocksFree = statfs.SpaceFree / blockSize
	op.BlocksAvailable = statfs.SpaceAvail / blockSize
	op.IoSize = blockSize
	op.Inodes = statfs.FilesTotal
	op.InodesFree = statfs.FilesFree
	return nil
}
