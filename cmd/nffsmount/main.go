// Command nffsmount mounts a simulated nffs flash image as a FUSE
// filesystem, in the same os.Args-flag style as cmd/sqfs/main.go, wired to
// github.com/jacobsa/fuse (the one FUSE binding carried in go.mod) via
// fs.go's fuseAdapter.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/user"
	"strconv"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/flashkv-labs/nffs"
	"github.com/flashkv-labs/nffs/simflash"
)

var (
	fImage      = flag.String("image", "", "Path to the nffs image file (created by 'nffsutil format').")
	fMountPoint = flag.String("mount_point", "", "Path at which to mount the filesystem.")
	fReadOnly   = flag.Bool("read_only", false, "Mount read-only.")
	fDebug      = flag.Bool("debug", false, "Enable FUSE debug logging.")
)

func main() {
	flag.Parse()
	if *fImage == "" || *fMountPoint == "" {
		log.Fatalf("usage: nffsmount --image=<path> --mount_point=<path> [--read_only] [--debug]")
	}

	dev, fsys, err := openImage(*fImage)
	if err != nil {
		log.Fatalf("open image: %v", err)
	}
	defer dev.Close()

	u, err := user.Current()
	if err != nil {
		log.Fatalf("user.Current: %v", err)
	}
	uid, _ := strconv.ParseUint(u.Uid, 10, 32)
	gid, _ := strconv.ParseUint(u.Gid, 10, 32)

	adapter := newFuseAdapter(fsys, uint32(uid), uint32(gid))
	server := fuseutil.NewFileSystemServer(adapter)

	errorLogger := log.New(os.Stderr, "nffsmount: ", 0)
	cfg := &fuse.MountConfig{
		ReadOnly:    *fReadOnly,
		ErrorLogger: errorLogger,
	}
	if *fDebug {
		cfg.DebugLogger = log.New(os.Stdout, "nffsmount: ", 0)
	}

	mfs, err := fuse.Mount(*fMountPoint, server, cfg)
	if err != nil {
		log.Fatalf("Mount: %v", err)
	}

	if err := mfs.Join(context.Background()); err != nil {
		log.Fatalf("Join: %v", err)
	}
}

// openImage mounts an existing nffsutil-formatted image, mirroring
// cmd/nffsutil's helper of the same name (kept independent rather than
// imported across these two main packages, the way cmd/sqfs stands alone
// from any sibling command).
func openImage(imagePath string) (*simflash.Device, *nffs.FS, error) {
	f, err := os.OpenFile(imagePath, os.O_RDWR, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	areas, areaSize, err := readGeometry(imagePath, int(st.Size()))
	if err != nil {
		return nil, nil, err
	}
	regions := make([]simflash.Region, areas)
	descs := make([]nffs.AreaDescriptor, areas)
	for i := range regions {
		regions[i] = simflash.Region{Offset: uint32(i * areaSize), Length: uint32(areaSize)}
		descs[i] = nffs.AreaDescriptor{Offset: regions[i].Offset, Length: regions[i].Length}
	}

	dev, err := simflash.NewMmap(int(f.Fd()), regions)
	if err != nil {
		return nil, nil, err
	}
	fsys, err := nffs.New(dev)
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	if err := fsys.Detect(descs); err != nil {
		dev.Close()
		return nil, nil, err
	}
	return dev, fsys, nil
}

func readGeometry(imagePath string, fileSize int) (areas, areaSize int, err error) {
	data, err := os.ReadFile(imagePath + ".geom")
	if err != nil {
		return 0, 0, fmt.Errorf("read geometry sidecar: %w", err)
	}
	var a, s int
	if _, err := fmt.Sscanf(string(data), "%d %d", &a, &s); err != nil {
		return 0, 0, fmt.Errorf("parse geometry sidecar: %w", err)
	}
	if a*s != fileSize {
		return 0, 0, fmt.Errorf("geometry sidecar %dx%d does not match image size %d", a, s, fileSize)
	}
	return a, s, nil
}
