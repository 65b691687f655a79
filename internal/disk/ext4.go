package disk

import (
	"io"
	"os"
	"path/filepath"

	diskfs "github.com/diskfs/go-diskfs"
	gdisk "github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxlog"
)

// CreateExt4FromDir builds a raw ext4 disk image at path containing the
// contents of srcDir, sized per Ext4DiskSize, and returns a persistent
// Disk handle (it becomes a base image shared by future COW overlays,
// so it is never torn down on Close).
func CreateExt4FromDir(path, srcDir string) (*Disk, error) {
	const op = "disk.CreateExt4FromDir"

	dirSize, err := dirSizeBytes(srcDir)
	if err != nil {
		return nil, boxerr.Storagef(op, "measure %s: %v", srcDir, err)
	}
	size := Ext4DiskSize(dirSize)

	d, err := diskfs.Create(path, int64(size), diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		return nil, boxerr.Storagef(op, "allocate disk image %s: %v", path, err)
	}

	fs, err := d.CreateFilesystem(gdisk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeExt4,
		VolumeLabel: "boxlite-rootfs",
	})
	if err != nil {
		return nil, boxerr.Storagef(op, "format ext4 on %s: %v", path, err)
	}

	if err := copyTreeInto(fs, srcDir, "/"); err != nil {
		return nil, boxerr.Storagef(op, "populate ext4 image %s: %v", path, err)
	}

	boxlog.WithComponent("disk").Info().
		Str("path", path).Str("source", srcDir).Uint64("size_bytes", size).
		Msg("built ext4 base image from directory")
	return New(path, FormatRaw, true), nil
}

func dirSizeBytes(root string) (uint64, error) {
	var total uint64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	return total, err
}

func copyTreeInto(fs filesystem.FileSystem, srcDir, destDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(srcDir, entry.Name())
		destPath := filepath.ToSlash(filepath.Join(destDir, entry.Name()))

		if entry.IsDir() {
			if err := fs.Mkdir(destPath); err != nil {
				return err
			}
			if err := copyTreeInto(fs, srcPath, destPath); err != nil {
				return err
			}
			continue
		}

		if entry.Type()&os.ModeSymlink != 0 {
			// Symlinks are skipped: go-diskfs's ext4 writer has no
			// symlink primitive, and rootfs images that depend on one
			// surviving exercise a path this runtime doesn't support yet.
			continue
		}

		if err := copyFileInto(fs, srcPath, destPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFileInto(fs filesystem.FileSystem, srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := fs.OpenFile(destPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return err
	}
	defer dest.Close()

	_, err = io.Copy(dest, src)
	return err
}
