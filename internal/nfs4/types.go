// Package nfs4 implements the NFSv4.0 wire layer the core depends on: XDR
// encode/decode, COMPOUND operation construction, attribute bitmap/value
// handling, an async ONC RPC transport, and NFS4ERR->errno mapping.
//
// No Go NFSv4 client, ONC RPC client, or XDR library was available anywhere
// in the example corpus this package was grounded on (only NFSv4 *server*
// implementations exist there); the wire grammar itself is grounded
// directly on RFC 7530's operation/error catalogue, cross-checked against
// those server implementations' constant tables.
package nfs4

// RPC procedure numbers (RFC 7530 §16).
const (
	ProcNull     = 0
	ProcCompound = 1
)

// Protocol limits.
const (
	FHSize4       = 128
	MinorVersion0 = 0
)

// nfs_ftype4 (RFC 7530 §3.3.13).
const (
	NF4REG       = 1
	NF4DIR       = 2
	NF4BLK       = 3
	NF4CHR       = 4
	NF4LNK       = 5
	NF4SOCK      = 6
	NF4FIFO      = 7
	NF4ATTRDIR   = 8
	NF4NAMEDATTR = 9
)

// nfs_opnum4 (RFC 7530 §16.1 / RFC 7531).
const (
	OpAccess             = 3
	OpClose              = 4
	OpCommit             = 5
	OpCreate             = 6
	OpDelegpurge         = 7
	OpDelegreturn        = 8
	OpGetattr            = 9
	OpGetfh              = 10
	OpLink               = 11
	OpLock               = 12
	OpLockt              = 13
	OpLocku              = 14
	OpLookup             = 15
	OpLookupp            = 16
	OpNverify            = 17
	OpOpen               = 18
	OpOpenattr           = 19
	OpOpenConfirm        = 20
	OpOpenDowngrade      = 21
	OpPutfh              = 22
	OpPutpubfh           = 23
	OpPutrootfh          = 24
	OpRead               = 25
	OpReaddir            = 26
	OpReadlink           = 27
	OpRemove             = 28
	OpRename             = 29
	OpRenew              = 30
	OpRestorefh          = 31
	OpSavefh             = 32
	OpSecinfo            = 33
	OpSetattr            = 34
	OpSetclientid        = 35
	OpSetclientidConfirm = 36
	OpVerify             = 37
	OpWrite              = 38
	OpReleaseLockowner   = 39
	OpIllegal            = 10044
)

// nfsstat4 (RFC 7530 §13). Names match the server implementations in the
// retrieved corpus so the error catalogue is cross-checked, not invented.
const (
	NFS4Ok = 0

	NFS4ErrPerm        = 1
	NFS4ErrNoent       = 2
	NFS4ErrIO          = 5
	NFS4ErrNxio        = 6
	NFS4ErrAccess      = 13
	NFS4ErrExist       = 17
	NFS4ErrXdev        = 18
	NFS4ErrNotdir      = 20
	NFS4ErrIsdir       = 21
	NFS4ErrInval       = 22
	NFS4ErrFbig        = 27
	NFS4ErrNospc       = 28
	NFS4ErrRofs        = 30
	NFS4ErrMlink       = 31
	NFS4ErrNametoolong = 63
	NFS4ErrNotempty    = 66
	NFS4ErrDquot       = 69
	NFS4ErrStale       = 70

	NFS4ErrBadhandle           = 10001
	NFS4ErrBadCookie           = 10003
	NFS4ErrNotsupp             = 10004
	NFS4ErrToosmall            = 10005
	NFS4ErrServerfault         = 10006
	NFS4ErrBadtype             = 10007
	NFS4ErrDelay               = 10008
	NFS4ErrSame                = 10009
	NFS4ErrDenied              = 10010
	NFS4ErrExpired             = 10011
	NFS4ErrLocked              = 10012
	NFS4ErrGrace               = 10013
	NFS4ErrFhexpired           = 10014
	NFS4ErrShareDenied         = 10015
	NFS4ErrWrongsec            = 10016
	NFS4ErrClidInuse           = 10017
	NFS4ErrResource            = 10018
	NFS4ErrMoved               = 10019
	NFS4ErrNofilehandle        = 10020
	NFS4ErrMinorVersMismatch   = 10021
	NFS4ErrStaleClientid       = 10022
	NFS4ErrStaleStateid        = 10023
	NFS4ErrOldStateid          = 10024
	NFS4ErrBadStateid          = 10025
	NFS4ErrBadSeqid            = 10026
	NFS4ErrNotSame             = 10027
	NFS4ErrLockRange           = 10028
	NFS4ErrSymlink             = 10029
	NFS4ErrRestorefh           = 10030
	NFS4ErrLeaseMoved          = 10031
	NFS4ErrAttrnotsupp         = 10032
	NFS4ErrNoGrace             = 10033
	NFS4ErrReclaimBad          = 10034
	NFS4ErrReclaimConflict     = 10035
	NFS4ErrBadxdr              = 10036
	NFS4ErrLocksHeld           = 10037
	NFS4ErrOpenmode            = 10038
	NFS4ErrBadowner            = 10039
	NFS4ErrBadchar             = 10040
	NFS4ErrBadname             = 10041
	NFS4ErrBadRange            = 10042
	NFS4ErrLockNotsupp         = 10043
	NFS4ErrOpIllegal           = 10044
	NFS4ErrDeadlock            = 10045
	NFS4ErrFileOpen            = 10046
	NFS4ErrAdminRevoked        = 10047
	NFS4ErrCbPathDown          = 10048
)

// createmode4 (RFC 7530 §16.16), used by OPEN's CREATE path.
const (
	Unchecked4 = 0
	Guarded4   = 1
	Exclusive4 = 2
)

// opentype4 / claim_type4 (RFC 7530 §16.16).
const (
	Open4Nocreate = 0
	Open4Create   = 1

	ClaimNull = 0
	ClaimFh   = 4 // NFSv4.1-derived but in common use against OPEN4_SHARE
)

// OPEN share_access / share_deny (RFC 7530 §16.16).
const (
	ShareAccessRead  = 1
	ShareAccessWrite = 2
	ShareAccessBoth  = 3

	ShareDenyNone  = 0
	ShareDenyRead  = 1
	ShareDenyWrite = 2
	ShareDenyBoth  = 3
)

// stable_how4 (RFC 7530 §16.38), used by WRITE.
const (
	Unstable4 = 0
	DataSync4 = 1
	FileSync4 = 2
)

// FATTR4_* bit positions (RFC 7530 §5.8 / original_source/virtionfs.c).
// No Go example defines these; they are taken directly from the C
// original, which is the only place in the corpus that builds these exact
// compounds.
const (
	Fattr4SupportedAttrs = 0
	Fattr4Type           = 1
	Fattr4FhExpireType   = 2
	Fattr4Change         = 3
	Fattr4Size           = 4
	Fattr4LinkSupport    = 5
	Fattr4SymlinkSupport = 6
	Fattr4NamedAttr      = 7
	Fattr4Fsid           = 8
	Fattr4UniqueHandles  = 9
	Fattr4LeaseTime      = 10
	Fattr4RdattrError    = 11
	Fattr4Filehandle     = 19
	Fattr4Fileid         = 20
	Fattr4FilesAvail     = 21
	Fattr4FilesFree      = 22
	Fattr4FilesTotal     = 23
	Fattr4MaxName        = 29
	Fattr4Mode           = 33
	Fattr4NoTrunc        = 34
	Fattr4Numlinks       = 35
	Fattr4Owner          = 36
	Fattr4OwnerGroup     = 37
	Fattr4SpaceAvail     = 42
	Fattr4SpaceFree      = 43
	Fattr4SpaceTotal     = 44
	Fattr4SpaceUsed      = 45
	Fattr4TimeAccess     = 47
	Fattr4TimeMetadata   = 52
	Fattr4TimeModify     = 53
)

// FSetAttr mirrors FUSE's FUSE_SET_ATTR_* validity bitmask, the subset
// setattr handles.
const (
	SetAttrMode = 1 << 0
	SetAttrSize = 1 << 3
)
