package vnfs

import (
	"context"
	"fmt"

	"github.com/jacobsa/fuse/fuseops"
	"golang.org/x/sys/unix"

	"github.com/virtio-nfs/vnfsd/internal/bootstrap"
	"github.com/virtio-nfs/vnfsd/internal/logger"
)

// Init switches the process to the INIT request's own uid/gid (see
// switchIdentity; cfg.IdentityConfig plays no part here), then kicks off
// session bootstrap (C4: root file handle discovery + SETCLIENTID) on its
// own goroutine and returns immediately.
//
// Returning before bootstrap completes reproduces the C original's
// observable behavior (the mount succeeds right away) without reproducing
// its race: every data-path handler checks fs.gate.Ready() and returns
// EAGAIN until bootstrap.Run has opened the gate, so no handler can ever
// see an empty rootFH or clientID.
func (fs *Facade) Init(ctx context.Context, op *fuseops.InitOp) error {
	if err := fs.switchIdentity(op.Header); err != nil {
		return err
	}

	go fs.runBootstrap(ctx)

	return nil
}

// switchIdentity changes the process's effective uid/gid to the INIT
// request's own header.Uid/header.Gid, matching virtionfs.c's init(): "if
// both in_hdr->uid and in_hdr->gid are non-zero, seteuid/setegid to them;
// otherwise keep the current identity and log it, not a fatal error."
func (fs *Facade) switchIdentity(header fuseops.OpHeader) error {
	uid, gid := header.Uid, header.Gid
	if uid == 0 || gid == 0 {
		logger.Infof("init request carried uid=%d gid=%d, not both non-zero; keeping the process's own identity", uid, gid)
		return nil
	}

	if err := unix.Setresgid(int(gid), int(gid), int(gid)); err != nil {
		return fmt.Errorf("vnfs: setresgid(%d): %w", gid, err)
	}
	if err := unix.Setresuid(int(uid), int(uid), int(uid)); err != nil {
		return fmt.Errorf("vnfs: setresuid(%d): %w", uid, err)
	}
	logger.Infof("switched process identity to uid=%d gid=%d", uid, gid)
	return nil
}

// runBootstrap hands bootstrap.Run a private gate and opens fs.gate itself,
// only after rootFH and clientID have been assigned.
func (fs *Facade) runBootstrap(ctx context.Context) {
	result, err := bootstrap.Run(ctx, fs.client, fs.config.Export, bootstrap.NewGate())
	if err != nil {
		logger.Errorf("bootstrap failed for export %q: %v", fs.config.Export, err)
		return
	}
	fs.rootFH = result.RootFH
	fs.clientID = result.ClientID
	fs.gate.Open()
}

// Destroy is called once when the kernel tears down the mount. vnfsd has no
// remote cleanup to perform (no callback channel was ever registered, no
// delegations were ever held), matching the C original's destroy(), which
// does nothing beyond an optional latency report this port leaves to
// internal/metrics instead.
func (fs *Facade) Destroy() {
	fs.inodes.Destroy()
}
