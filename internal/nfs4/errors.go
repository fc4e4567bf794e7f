package nfs4

import "syscall"

// ErrnoFromStatus maps an nfsstat4 value onto the errno FUSE expects back,
// mirroring nfs_error_to_fuse_error in the C original. Status codes the
// table doesn't recognize fall back to EREMOTEIO, the same default the
// original uses for anything outside its switch.
func ErrnoFromStatus(status uint32) syscall.Errno {
	if status == NFS4Ok {
		return 0
	}
	if errno, ok := statusToErrno[status]; ok {
		return errno
	}
	return syscall.EREMOTEIO
}

var statusToErrno = map[uint32]syscall.Errno{
	NFS4ErrPerm:        syscall.EPERM,
	NFS4ErrNoent:       syscall.ENOENT,
	NFS4ErrIO:          syscall.EIO,
	NFS4ErrNxio:        syscall.ENXIO,
	NFS4ErrAccess:      syscall.EACCES,
	NFS4ErrExist:       syscall.EEXIST,
	NFS4ErrXdev:        syscall.EXDEV,
	NFS4ErrNotdir:      syscall.ENOTDIR,
	NFS4ErrIsdir:       syscall.EISDIR,
	NFS4ErrInval:       syscall.EINVAL,
	NFS4ErrFbig:        syscall.EFBIG,
	NFS4ErrNospc:       syscall.ENOSPC,
	NFS4ErrRofs:        syscall.EROFS,
	NFS4ErrMlink:       syscall.EMLINK,
	NFS4ErrNametoolong: syscall.ENAMETOOLONG,
	NFS4ErrNotempty:    syscall.ENOTEMPTY,
	NFS4ErrDquot:       syscall.EDQUOT,
	NFS4ErrStale:       syscall.ESTALE,

	NFS4ErrBadhandle:    syscall.EBADF,
	NFS4ErrNotsupp:      syscall.ENOTSUP,
	NFS4ErrToosmall:     syscall.EINVAL,
	NFS4ErrServerfault:  syscall.EREMOTEIO,
	NFS4ErrBadtype:      syscall.EINVAL,
	NFS4ErrDelay:        syscall.EAGAIN,
	NFS4ErrDenied:       syscall.EACCES,
	NFS4ErrExpired:      syscall.ESTALE,
	NFS4ErrLocked:       syscall.EACCES,
	NFS4ErrGrace:        syscall.EAGAIN,
	NFS4ErrFhexpired:    syscall.ESTALE,
	NFS4ErrShareDenied:  syscall.EACCES,
	NFS4ErrClidInuse:    syscall.EREMOTEIO,
	NFS4ErrResource:     syscall.EAGAIN,
	NFS4ErrNofilehandle: syscall.EBADF,
	NFS4ErrStaleClientid: syscall.ESTALE,
	NFS4ErrStaleStateid: syscall.ESTALE,
	NFS4ErrOldStateid:   syscall.ESTALE,
	NFS4ErrBadStateid:   syscall.EBADF,
	NFS4ErrBadSeqid:     syscall.EINVAL,
	NFS4ErrSymlink:      syscall.EINVAL,
	NFS4ErrAttrnotsupp:  syscall.ENOTSUP,
	NFS4ErrBadxdr:       syscall.EINVAL,
	NFS4ErrLocksHeld:    syscall.EACCES,
	NFS4ErrOpenmode:     syscall.EACCES,
	NFS4ErrBadowner:     syscall.EINVAL,
	NFS4ErrBadchar:      syscall.EINVAL,
	NFS4ErrBadname:      syscall.EINVAL,
	NFS4ErrBadRange:     syscall.EINVAL,
	NFS4ErrLockNotsupp:  syscall.ENOTSUP,
	NFS4ErrOpIllegal:    syscall.ENOTSUP,
	NFS4ErrDeadlock:     syscall.EDEADLK,
	NFS4ErrFileOpen:     syscall.ETXTBSY,
	NFS4ErrAdminRevoked: syscall.EACCES,
}
