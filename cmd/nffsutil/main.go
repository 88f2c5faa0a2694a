// Command nffsutil is a flag-free os.Args CLI over a simulated nffs flash
// image, in the same dispatch style as cmd/sqfs.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/cavaliercoder/go-cpio"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"
	"github.com/mattn/go-isatty"
	"github.com/ulikunitz/xz"

	"github.com/flashkv-labs/nffs"
	"github.com/flashkv-labs/nffs/simflash"
)

const usage = `nffsutil - flash filesystem image tool

Usage:
  nffsutil format <image> <areas> <area-size>       Create and format a new image
  nffsutil mkdir <image> <path>                     Create a directory
  nffsutil write <image> <path> <localfile>         Write localfile's contents to path
  nffsutil cat <image> <path>                       Print a file's contents to stdout
  nffsutil ls <image> <path>                        List a directory's children
  nffsutil info <image>                             Show area/object statistics
  nffsutil fsck <image>                             Report lost+found contents
  nffsutil snapshot <image> <out.cpio.xz>           Export the tree as a compressed cpio archive
  nffsutil restore-archive <archive> <image> <areas> <area-size>
                                                     Format a new image and import an archive into it
  nffsutil help                                     Show this help message

<archive> is selected by extension: .xz uses LZMA2, .gz uses gzip (parallel
decompression via pgzip when the file is large enough to benefit).
`

var sessionID = uuid.NewString()

func logf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[%s] "+format+"\n", append([]interface{}{sessionID}, args...)...)
}

func useColor() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "format":
		err = requireArgs(4, cmdFormat)
	case "mkdir":
		err = requireArgs(4, cmdMkdir)
	case "write":
		err = requireArgs(5, cmdWrite)
	case "cat":
		err = requireArgs(4, cmdCat)
	case "ls":
		err = requireArgs(4, cmdLs)
	case "info":
		err = requireArgs(3, cmdInfo)
	case "fsck":
		err = requireArgs(3, cmdFsck)
	case "snapshot":
		err = requireArgs(4, cmdSnapshot)
	case "restore-archive":
		err = requireArgs(5, cmdRestoreArchive)
	case "help":
		fmt.Println(usage)
		return
	default:
		fmt.Printf("Error: unknown command %q\n", os.Args[1])
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// requireArgs checks os.Args has at least n entries before running fn, so
// each subcommand handler can assume its own argv slice is fully present.
func requireArgs(n int, fn func() error) error {
	if len(os.Args) < n {
		fmt.Println(usage)
		os.Exit(1)
	}
	return fn()
}

func regionsOf(areas, areaSize int) []simflash.Region {
	r := make([]simflash.Region, areas)
	for i := range r {
		r[i] = simflash.Region{Offset: uint32(i * areaSize), Length: uint32(areaSize)}
	}
	return r
}

func descriptorsOf(regions []simflash.Region) []nffs.AreaDescriptor {
	d := make([]nffs.AreaDescriptor, len(regions))
	for i, r := range regions {
		d[i] = nffs.AreaDescriptor{Offset: r.Offset, Length: r.Length}
	}
	return d
}

// openImage mmaps an existing image file and mounts it.
func openImage(imagePath string) (*simflash.Device, *nffs.FS, []nffs.AreaDescriptor, error) {
	f, err := os.OpenFile(imagePath, os.O_RDWR, 0644)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, nil, err
	}
	// nffsutil always formats with equal-size contiguous areas; the area
	// count and size come from the geometry sidecar written next to the
	// image, and one region is built per area from them.
	areas, areaSize, err := readGeometry(imagePath, int(st.Size()))
	if err != nil {
		return nil, nil, nil, err
	}
	regions := regionsOf(areas, areaSize)

	dev, err := simflash.NewMmap(int(f.Fd()), regions)
	if err != nil {
		return nil, nil, nil, err
	}
	descs := descriptorsOf(regions)

	fs, err := nffs.New(dev)
	if err != nil {
		dev.Close()
		return nil, nil, nil, err
	}
	if err := fs.Detect(descs); err != nil {
		dev.Close()
		return nil, nil, nil, err
	}
	return dev, fs, descs, nil
}

// geometry is recorded in a tiny sidecar file next to the image so later
// commands don't need the area count/size repeated on every invocation.
func geometryPath(imagePath string) string { return imagePath + ".geom" }

func writeGeometry(imagePath string, areas, areaSize int) error {
	content := fmt.Sprintf("%d %d\n", areas, areaSize)
	return renameio.WriteFile(geometryPath(imagePath), []byte(content), 0644)
}

func readGeometry(imagePath string, fileSize int) (areas, areaSize int, err error) {
	data, err := os.ReadFile(geometryPath(imagePath))
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

func cmdFormat() error {
	imagePath, areasStr, areaSizeStr := os.Args[2], os.Args[3], os.Args[4]
	areas, err := strconv.Atoi(areasStr)
	if err != nil || areas < 2 {
		return fmt.Errorf("areas must be an integer >= 2")
	}
	areaSize, err := strconv.Atoi(areaSizeStr)
	if err != nil || areaSize <= 0 {
		return fmt.Errorf("area-size must be a positive integer")
	}

	regions := regionsOf(areas, areaSize)
	total := areas * areaSize

	f, err := os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := f.Truncate(int64(total)); err != nil {
		f.Close()
		return err
	}
	dev, err := simflash.NewMmap(int(f.Fd()), regions)
	f.Close()
	if err != nil {
		return err
	}
	defer dev.Close()

	fs, err := nffs.New(dev)
	if err != nil {
		return err
	}
	if err := fs.Format(descriptorsOf(regions)); err != nil {
		return err
	}
	if err := writeGeometry(imagePath, areas, areaSize); err != nil {
		return err
	}
	logf("formatted %s: %d areas x %d bytes", imagePath, areas, areaSize)
	return nil
}

func cmdMkdir() error {
	dev, fs, _, err := openImage(os.Args[2])
	if err != nil {
		return err
	}
	defer dev.Close()
	return fs.Mkdir(os.Args[3])
}

func cmdWrite() error {
	dev, fs, _, err := openImage(os.Args[2])
	if err != nil {
		return err
	}
	defer dev.Close()

	data, err := os.ReadFile(os.Args[4])
	if err != nil {
		return err
	}
	return nffs.WriteFile(fs, os.Args[3], data)
}

func cmdCat() error {
	dev, fs, _, err := openImage(os.Args[2])
	if err != nil {
		return err
	}
	defer dev.Close()

	data, err := nffs.ReadFile(fs, os.Args[3])
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func cmdLs() error {
	dev, fs, _, err := openImage(os.Args[2])
	if err != nil {
		return err
	}
	defer dev.Close()

	entries, err := fs.ReadDir(os.Args[3])
	if err != nil {
		return err
	}
	for _, e := range entries {
		kind := "-"
		if e.IsDir {
			kind = "d"
		}
		if useColor() && e.IsDir {
			fmt.Printf("\033[1;34m%s %s\033[0m\n", kind, e.Name)
		} else {
			fmt.Printf("%s %s\n", kind, e.Name)
		}
	}
	return nil
}

func cmdInfo() error {
	dev, fs, _, err := openImage(os.Args[2])
	if err != nil {
		return err
	}
	defer dev.Close()

	stats, err := fs.Stats()
	if err != nil {
		return err
	}
	fmt.Println("nffs image information")
	fmt.Println("======================")
	fmt.Printf("Directories: %d\n", stats.Dirs)
	fmt.Printf("Files:       %d\n", stats.Files)
	fmt.Printf("Blocks:      %d\n", stats.Blocks)
	fmt.Printf("Dummies:     %d\n", stats.DummyCount)
	fmt.Println()
	for _, a := range stats.Areas {
		role := fmt.Sprintf("id=%d", a.ID)
		if a.Scratch {
			role = "scratch"
		}
		fmt.Printf("area %-8s gc_seq=%-4d used=%d/%d free=%d\n", role, a.GCSeq, a.Used, a.Length, a.Free)
	}
	return nil
}

func cmdFsck() error {
	dev, fs, _, err := openImage(os.Args[2])
	if err != nil {
		return err
	}
	defer dev.Close()

	names, err := fs.ListLostAndFound()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("lost+found is empty")
		return nil
	}
	fmt.Println("lost+found entries:")
	for _, n := range names {
		fmt.Println(" ", n)
	}
	return nil
}

func cmdSnapshot() error {
	imagePath, outPath := os.Args[2], os.Args[3]
	dev, fs, _, err := openImage(imagePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	var archiveBuf bytes.Buffer
	cw := cpio.NewWriter(&archiveBuf)
	if err := walkTree(fs, "/", cw); err != nil {
		cw.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}

	var compressed bytes.Buffer
	xw, err := xz.NewWriter(&compressed)
	if err != nil {
		return fmt.Errorf("snapshot: xz writer: %w", err)
	}
	if _, err := xw.Write(archiveBuf.Bytes()); err != nil {
		return err
	}
	if err := xw.Close(); err != nil {
		return err
	}

	if err := renameio.WriteFile(outPath, compressed.Bytes(), 0644); err != nil {
		return fmt.Errorf("snapshot: write archive: %w", err)
	}
	logf("wrote %s (%d bytes)", outPath, compressed.Len())
	return nil
}

// walkTree recursively writes every file and directory under dir into cw as
// a cpio entry, using cpio.Header.Mode's directory/regular-file bits the
// way go-cpio itself documents.
func walkTree(fs *nffs.FS, dir string, cw *cpio.Writer) error {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		full := path.Join(dir, e.Name)
		if e.IsDir {
			hdr := &cpio.Header{
				Name:    full[1:], // cpio entries are archive-relative, not absolute
				Mode:    cpio.TypeDir | 0755,
				ModTime: time.Now(),
			}
			if err := cw.WriteHeader(hdr); err != nil {
				return err
			}
			if err := walkTree(fs, full, cw); err != nil {
				return err
			}
			continue
		}
		data, err := nffs.ReadFile(fs, full)
		if err != nil {
			return err
		}
		hdr := &cpio.Header{
			Name:    full[1:],
			Mode:    cpio.TypeReg | 0644,
			Size:    int64(len(data)),
			ModTime: time.Now(),
		}
		if err := cw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := cw.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func cmdRestoreArchive() error {
	archivePath, imagePath, areasStr, areaSizeStr := os.Args[2], os.Args[3], os.Args[4], os.Args[5]
	areas, err := strconv.Atoi(areasStr)
	if err != nil || areas < 2 {
		return fmt.Errorf("areas must be an integer >= 2")
	}
	areaSize, err := strconv.Atoi(areaSizeStr)
	if err != nil || areaSize <= 0 {
		return fmt.Errorf("area-size must be a positive integer")
	}

	af, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer af.Close()

	var plain io.Reader
	switch {
	case hasSuffix(archivePath, ".xz"):
		plain, err = xz.NewReader(af)
	case hasSuffix(archivePath, ".gz"):
		if st, serr := af.Stat(); serr == nil && st.Size() > 8<<20 {
			var pr *pgzip.Reader
			pr, err = pgzip.NewReader(af)
			plain = pr
		} else {
			var gr *gzip.Reader
			gr, err = gzip.NewReader(af)
			plain = gr
		}
	default:
		plain = af
	}
	if err != nil {
		return fmt.Errorf("restore-archive: open decompressor: %w", err)
	}

	regions := regionsOf(areas, areaSize)
	total := areas * areaSize
	imgFile, err := os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := imgFile.Truncate(int64(total)); err != nil {
		imgFile.Close()
		return err
	}
	dev, err := simflash.NewMmap(int(imgFile.Fd()), regions)
	imgFile.Close()
	if err != nil {
		return err
	}
	defer dev.Close()

	fs, err := nffs.New(dev)
	if err != nil {
		return err
	}
	if err := fs.Format(descriptorsOf(regions)); err != nil {
		return err
	}
	if err := writeGeometry(imagePath, areas, areaSize); err != nil {
		return err
	}

	cr := cpio.NewReader(plain)
	for {
		hdr, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("restore-archive: read cpio entry: %w", err)
		}
		dst := "/" + hdr.Name
		if hdr.Mode.IsDir() {
			if err := ensureDirAll(fs, dst); err != nil {
				return err
			}
			continue
		}
		if err := ensureDirAll(fs, path.Dir(dst)); err != nil {
			return err
		}
		data, err := io.ReadAll(cr)
		if err != nil {
			return err
		}
		if err := nffs.WriteFile(fs, dst, data); err != nil {
			return err
		}
	}
	logf("imported %s into %s", archivePath, imagePath)
	return nil
}

// ensureDirAll creates every path component of dir that does not already
// exist, mirroring os.MkdirAll over the nffs namespace.
func ensureDirAll(fs *nffs.FS, dir string) error {
	if dir == "/" || dir == "." {
		return nil
	}
	if err := ensureDirAll(fs, path.Dir(dir)); err != nil {
		return err
	}
	err := fs.Mkdir(dir)
	if err == nffs.ErrExists {
		return nil
	}
	return err
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
