package nfs4

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrnoFromStatusKnownCodes(t *testing.T) {
	assert.Equal(t, syscall.Errno(0), ErrnoFromStatus(NFS4Ok))
	assert.Equal(t, syscall.ENOENT, ErrnoFromStatus(NFS4ErrNoent))
	assert.Equal(t, syscall.ESTALE, ErrnoFromStatus(NFS4ErrStale))
	assert.Equal(t, syscall.EACCES, ErrnoFromStatus(NFS4ErrAccess))
}

func TestErrnoFromStatusUnknownDefaultsToEREMOTEIO(t *testing.T) {
	assert.Equal(t, syscall.EREMOTEIO, ErrnoFromStatus(999999))
}
