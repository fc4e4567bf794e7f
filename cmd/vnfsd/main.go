// Command vnfsd mounts a remote NFSv4 export as a local FUSE filesystem.
package main

import "github.com/virtio-nfs/vnfsd/cmd"

func main() {
	cmd.Execute()
}
