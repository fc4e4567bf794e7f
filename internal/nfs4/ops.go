package nfs4

import "fmt"

// Stateid4 is the NFSv4 stateid (RFC 7530 §2.4). A zero-valued Stateid4 is
// the anonymous stateid, valid on READ/WRITE/SETATTR when no open state is
// associated with the request — exactly the "no locking support" case this
// translator always uses (C5: no op ever populates a lock stateid).
type Stateid4 struct {
	Seqid uint32
	Other [12]byte
}

func (s Stateid4) encode(e *Encoder) {
	e.Uint32(s.Seqid)
	e.FixedOpaque(s.Other[:])
}

func decodeStateid4(d *Decoder) (Stateid4, error) {
	var s Stateid4
	seqid, err := d.Uint32()
	if err != nil {
		return s, err
	}
	other, err := d.FixedOpaque(12)
	if err != nil {
		return s, err
	}
	s.Seqid = seqid
	copy(s.Other[:], other)
	return s, nil
}

// AnonymousStateid is the zero stateid used by READ/WRITE/SETATTR when no
// lock state applies.
var AnonymousStateid Stateid4

// Builder assembles one COMPOUND4args request op by op.
type Builder struct {
	tag string
	n   int
	enc *Encoder
}

// NewCompound starts a new COMPOUND request carrying tag (purely
// diagnostic, echoed back by the server).
func NewCompound(tag string) *Builder {
	return &Builder{tag: tag, enc: NewEncoder()}
}

func (b *Builder) op(code uint32) {
	b.n++
	b.enc.Uint32(code)
}

// PutRootFH adds a PUTROOTFH op, establishing the server's pseudo-root as
// the current file handle.
func (b *Builder) PutRootFH() *Builder {
	b.op(OpPutrootfh)
	return b
}

// PutFH adds a PUTFH op against an explicit file handle.
func (b *Builder) PutFH(fh []byte) *Builder {
	b.op(OpPutfh)
	b.enc.Opaque(fh)
	return b
}

// Lookup adds a LOOKUP op for name, evaluated against the current FH.
func (b *Builder) Lookup(name string) *Builder {
	b.op(OpLookup)
	b.enc.String(name)
	return b
}

// GetFH adds a GETFH op, returning the current file handle.
func (b *Builder) GetFH() *Builder {
	b.op(OpGetfh)
	return b
}

// GetAttr adds a GETATTR op requesting the attributes named by bitmap.
func (b *Builder) GetAttr(bitmap Bitmap4) *Builder {
	b.op(OpGetattr)
	b.enc.Bitmap(bitmap)
	return b
}

// SetAttr adds a SETATTR op against stateid, setting the attributes
// described by bitmap/attrVals.
func (b *Builder) SetAttr(stateid Stateid4, bitmap Bitmap4, attrVals []byte) *Builder {
	b.op(OpSetattr)
	stateid.encode(b.enc)
	b.enc.Bitmap(bitmap)
	b.enc.Opaque(attrVals)
	return b
}

// Commit adds a COMMIT op over [offset, offset+count). FUSE's fsync
// provides neither, so C5's fsync handler always commits the whole file
// (offset=0, count=0 means "to end of file" per RFC 7530 §14.2.4).
func (b *Builder) Commit(offset uint64, count uint32) *Builder {
	b.op(OpCommit)
	b.enc.Uint64(offset)
	b.enc.Uint32(count)
	return b
}

// Read adds a READ op against the anonymous stateid (no locking support).
func (b *Builder) Read(offset uint64, count uint32) *Builder {
	b.op(OpRead)
	AnonymousStateid.encode(b.enc)
	b.enc.Uint64(offset)
	b.enc.Uint32(count)
	return b
}

// Write adds a WRITE op against the anonymous stateid, carrying data as a
// single opaque buffer (NFSv4 WRITE has no iovec analogue). The facade's
// WriteFile passes op.Data whole; a server count below len(data) is logged
// there and not reported back to the kernel.
func (b *Builder) Write(offset uint64, stable uint32, data []byte) *Builder {
	b.op(OpWrite)
	AnonymousStateid.encode(b.enc)
	b.enc.Uint64(offset)
	b.enc.Uint32(stable)
	b.enc.Opaque(data)
	return b
}

// OpenArgs bundles OPEN4args fields the facade sets per-call.
type OpenArgs struct {
	ClientID     uint64
	OwnerVal     []byte
	ShareAccess  uint32
	ShareDeny    uint32
	Create       bool
	CreateMode   uint32 // UNCHECKED4/GUARDED4/EXCLUSIVE4
	CreateBitmap Bitmap4
	CreateAttrs  []byte
	Verifier     [8]byte // only used when CreateMode == Exclusive4
}

// Open adds an OPEN op with CLAIM_FH against the current file handle: "open
// the object I already hold a handle to" rather than "open by name", the
// NFSv4.1-derived claim type the original relies on to avoid a second
// LOOKUP round trip.
func (b *Builder) Open(a OpenArgs) *Builder {
	b.op(OpOpen)
	b.enc.Uint32(0) // seqid: unused without open-owner sequencing/locking
	b.enc.Uint32(a.ShareAccess)
	b.enc.Uint32(a.ShareDeny)
	b.enc.Uint64(a.ClientID)
	b.enc.Opaque(a.OwnerVal)

	if a.Create {
		b.enc.Uint32(Open4Create)
		b.enc.Uint32(a.CreateMode)
		switch a.CreateMode {
		case Exclusive4:
			b.enc.FixedOpaque(a.Verifier[:])
		default: // UNCHECKED4, GUARDED4
			b.enc.Bitmap(a.CreateBitmap)
			b.enc.Opaque(a.CreateAttrs)
		}
	} else {
		b.enc.Uint32(Open4Nocreate)
	}

	b.enc.Uint32(ClaimFh)
	return b
}

// SetClientID adds a SETCLIENTID op. callbackProgram/callbackIdent are left
// zero: this translator never registers a callback channel (no delegations
// are requested, so none can ever be recalled).
func (b *Builder) SetClientID(verifier [8]byte, clientName string) *Builder {
	b.op(OpSetclientid)
	b.enc.FixedOpaque(verifier[:])
	b.enc.String(clientName)
	b.enc.Uint32(0) // cb_program
	b.enc.String("") // cb_location.r_netid
	b.enc.String("") // cb_location.r_addr
	b.enc.Uint32(0)  // callback_ident
	return b
}

// SetClientIDConfirm adds a SETCLIENTID_CONFIRM op, completing the
// handshake begun by SetClientID.
func (b *Builder) SetClientIDConfirm(clientid uint64, verifier [8]byte) *Builder {
	b.op(OpSetclientidConfirm)
	b.enc.Uint64(clientid)
	b.enc.FixedOpaque(verifier[:])
	return b
}

// Encode renders the full COMPOUND4args.
func (b *Builder) Encode() []byte {
	out := NewEncoder()
	out.String(b.tag)
	out.Uint32(MinorVersion0)
	out.Uint32(uint32(b.n))
	out.Raw(b.enc.Bytes())
	return out.Bytes()
}

// Response wraps a decoded COMPOUND4res for sequential per-op decoding, in
// the same order the Builder's calls were issued.
type Response struct {
	Status uint32
	Tag    string
	dec    *Decoder
}

// DecodeResponse parses a COMPOUND4res header. Per-op results are then
// read off r in call order via the Skip/GetFH/GetAttr/... methods below.
func DecodeResponse(b []byte) (*Response, error) {
	d := NewDecoder(b)
	status, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	tag, err := d.String()
	if err != nil {
		return nil, err
	}
	if _, err := d.Uint32(); err != nil { // resarray length; unused, ops decoded on demand
		return nil, err
	}
	return &Response{Status: status, Tag: tag, dec: d}, nil
}

func (r *Response) opHeader(want uint32) (uint32, error) {
	opcode, err := r.dec.Uint32()
	if err != nil {
		return 0, err
	}
	if opcode != want {
		return 0, fmt.Errorf("nfs4: expected op %d in response, got %d", want, opcode)
	}
	status, err := r.dec.Uint32()
	if err != nil {
		return 0, err
	}
	return status, nil
}

// Skip consumes a trivial op result carrying only a status (PUTFH,
// PUTROOTFH, LOOKUP).
func (r *Response) Skip(opcode uint32) error {
	status, err := r.opHeader(opcode)
	if err != nil {
		return err
	}
	if status != NFS4Ok {
		return ErrnoFromStatus(status)
	}
	return nil
}

// GetFH decodes a GETFH4res.
func (r *Response) GetFH() ([]byte, error) {
	status, err := r.opHeader(OpGetfh)
	if err != nil {
		return nil, err
	}
	if status != NFS4Ok {
		return nil, ErrnoFromStatus(status)
	}
	return r.dec.Opaque()
}

// GetAttr decodes a GETATTR4res, returning the attrmask the server actually
// used (it may be a subset of what was requested) and the raw attr_vals.
func (r *Response) GetAttr() (Bitmap4, []byte, error) {
	status, err := r.opHeader(OpGetattr)
	if err != nil {
		return nil, nil, err
	}
	if status != NFS4Ok {
		return nil, nil, ErrnoFromStatus(status)
	}
	bitmap, err := r.dec.Bitmap()
	if err != nil {
		return nil, nil, err
	}
	vals, err := r.dec.Opaque()
	if err != nil {
		return nil, nil, err
	}
	return bitmap, vals, nil
}

// SetAttr decodes a SETATTR4res.
func (r *Response) SetAttr() error {
	status, err := r.opHeader(OpSetattr)
	if err != nil {
		return err
	}
	if status != NFS4Ok {
		return ErrnoFromStatus(status)
	}
	_, err = r.dec.Bitmap() // attrsset: which attributes were actually applied
	return err
}

// Commit decodes a COMMIT4res.
func (r *Response) Commit() error {
	status, err := r.opHeader(OpCommit)
	if err != nil {
		return err
	}
	if status != NFS4Ok {
		return ErrnoFromStatus(status)
	}
	_, err = r.dec.FixedOpaque(8) // writeverf4
	return err
}

// Read decodes a READ4res.
func (r *Response) Read() (eof bool, data []byte, err error) {
	status, err := r.opHeader(OpRead)
	if err != nil {
		return false, nil, err
	}
	if status != NFS4Ok {
		return false, nil, ErrnoFromStatus(status)
	}
	eofWord, err := r.dec.Uint32()
	if err != nil {
		return false, nil, err
	}
	data, err = r.dec.Opaque()
	if err != nil {
		return false, nil, err
	}
	return eofWord != 0, data, nil
}

// Write decodes a WRITE4res, returning the byte count the server actually
// wrote.
func (r *Response) Write() (count uint32, err error) {
	status, err := r.opHeader(OpWrite)
	if err != nil {
		return 0, err
	}
	if status != NFS4Ok {
		return 0, ErrnoFromStatus(status)
	}
	count, err = r.dec.Uint32()
	if err != nil {
		return 0, err
	}
	if _, err := r.dec.Uint32(); err != nil { // committed: stable_how4
		return 0, err
	}
	if _, err := r.dec.FixedOpaque(8); err != nil { // writeverf4
		return 0, err
	}
	return count, nil
}

// Open decodes an OPEN4res down to the stateid; the changeinfo4, rflags,
// attrset and delegation fields that follow are consumed but not surfaced
// (no caller needs them: delegations are never requested, see SetClientID).
func (r *Response) Open() (Stateid4, error) {
	status, err := r.opHeader(OpOpen)
	if err != nil {
		return Stateid4{}, err
	}
	if status != NFS4Ok {
		return Stateid4{}, ErrnoFromStatus(status)
	}
	stateid, err := decodeStateid4(r.dec)
	if err != nil {
		return Stateid4{}, err
	}
	if _, err := r.dec.Uint32(); err != nil { // cinfo.atomic
		return Stateid4{}, err
	}
	if _, err := r.dec.Uint64(); err != nil { // cinfo.before
		return Stateid4{}, err
	}
	if _, err := r.dec.Uint64(); err != nil { // cinfo.after
		return Stateid4{}, err
	}
	if _, err := r.dec.Uint32(); err != nil { // rflags
		return Stateid4{}, err
	}
	if _, err := r.dec.Bitmap(); err != nil { // attrset
		return Stateid4{}, err
	}
	delegType, err := r.dec.Uint32()
	if err != nil {
		return Stateid4{}, err
	}
	if delegType != 0 { // OPEN_DELEGATE_NONE: no delegation ever requested
		return Stateid4{}, fmt.Errorf("nfs4: unexpected delegation type %d", delegType)
	}
	return stateid, nil
}

// SetClientID decodes a SETCLIENTID4res on the success path.
func (r *Response) SetClientID() (clientid uint64, verifier [8]byte, err error) {
	status, err := r.opHeader(OpSetclientid)
	if err != nil {
		return 0, verifier, err
	}
	if status != NFS4Ok {
		return 0, verifier, ErrnoFromStatus(status)
	}
	clientid, err = r.dec.Uint64()
	if err != nil {
		return 0, verifier, err
	}
	v, err := r.dec.FixedOpaque(8)
	if err != nil {
		return 0, verifier, err
	}
	copy(verifier[:], v)
	return clientid, verifier, nil
}

// SetClientIDConfirm decodes a SETCLIENTID_CONFIRM4res.
func (r *Response) SetClientIDConfirm() error {
	return r.Skip(OpSetclientidConfirm)
}
