package disk

import (
	"encoding/binary"
	"os"

	"github.com/cuemby/boxlite/internal/boxerr"
)

// qcow2 v3 header, big-endian on the wire (QEMU Image Format spec).
const (
	qcow2Magic      = 0x514649fb // "QFI\xfb"
	qcow2Version    = 3
	qcow2HeaderSize = 104
)

// writeCOWOverlay creates a new qcow2 v3 image at childPath that is
// entirely backed by basePath: its L1/refcount tables are populated
// (so the image is self-describing) but no data clusters are
// allocated, meaning every read falls through to the backing file
// until the guest writes to it.
func writeCOWOverlay(childPath, basePath string, virtualSizeBytes uint64) error {
	const op = "disk.writeCOWOverlay"

	clusterSize := uint64(1) << qcow2ClusterBits
	l2EntriesPerCluster := clusterSize / 8
	l1Size := (virtualSizeBytes + clusterSize*l2EntriesPerCluster - 1) / (clusterSize * l2EntriesPerCluster)
	if l1Size == 0 {
		l1Size = 1
	}

	// Cluster layout: 0 header, 1 backing-file name, 2 L1 table,
	// 3 refcount table, 4 refcount block. One cluster comfortably fits
	// each of these for any disk size this runtime creates.
	const (
		clusterHeader = iota
		clusterBackingName
		clusterL1Table
		clusterRefcountTable
		clusterRefcountBlock
		metadataClusterCount
	)

	backingNameOffset := uint64(clusterBackingName) * clusterSize
	l1Offset := uint64(clusterL1Table) * clusterSize
	refcountTableOffset := uint64(clusterRefcountTable) * clusterSize
	refcountBlockOffset := uint64(clusterRefcountBlock) * clusterSize

	if l1Size*8 > clusterSize {
		return boxerr.Internalf(op, "virtual disk size %d requires an L1 table larger than one cluster (unsupported)", virtualSizeBytes)
	}

	buf := make([]byte, qcow2HeaderSize)
	be := binary.BigEndian
	be.PutUint32(buf[0:4], qcow2Magic)
	be.PutUint32(buf[4:8], qcow2Version)
	be.PutUint64(buf[8:16], backingNameOffset)
	be.PutUint32(buf[16:20], uint32(len(basePath)))
	be.PutUint32(buf[20:24], qcow2ClusterBits)
	be.PutUint64(buf[24:32], virtualSizeBytes)
	be.PutUint32(buf[32:36], 0) // crypt_method: none
	be.PutUint32(buf[36:40], uint32(l1Size))
	be.PutUint64(buf[40:48], l1Offset)
	be.PutUint64(buf[48:56], refcountTableOffset)
	be.PutUint32(buf[56:60], 1) // refcount_table_clusters
	be.PutUint32(buf[60:64], 0) // nb_snapshots
	be.PutUint64(buf[64:72], 0) // snapshots_offset
	be.PutUint64(buf[72:80], 0) // incompatible_features
	be.PutUint64(buf[80:88], 0) // compatible_features
	be.PutUint64(buf[88:96], 0) // autoclear_features
	be.PutUint32(buf[96:100], qcow2RefcountOrder)
	be.PutUint32(buf[100:104], qcow2HeaderSize)

	f, err := os.Create(childPath)
	if err != nil {
		return boxerr.Storagef(op, "create %s: %v", childPath, err)
	}
	defer f.Close()

	totalSize := metadataClusterCount * clusterSize
	if err := f.Truncate(int64(totalSize)); err != nil {
		return boxerr.Storagef(op, "truncate %s: %v", childPath, err)
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		return boxerr.Storagef(op, "write header %s: %v", childPath, err)
	}
	if _, err := f.WriteAt([]byte(basePath), int64(backingNameOffset)); err != nil {
		return boxerr.Storagef(op, "write backing file name %s: %v", childPath, err)
	}

	// L1 table: every entry zero means "unallocated, defer to backing
	// file" for that whole L2 range. No L2 tables are written at all.

	// Refcount table: one entry pointing at the single refcount block.
	refcountTable := make([]byte, clusterSize)
	be.PutUint64(refcountTable[0:8], refcountBlockOffset)
	if _, err := f.WriteAt(refcountTable, int64(refcountTableOffset)); err != nil {
		return boxerr.Storagef(op, "write refcount table %s: %v", childPath, err)
	}

	// Refcount block: one entry per metadata cluster, each referenced
	// exactly once. refcount_order=4 means 16-bit (2-byte) entries.
	refcountBlock := make([]byte, clusterSize)
	for i := 0; i < metadataClusterCount; i++ {
		be.PutUint16(refcountBlock[i*2:i*2+2], 1)
	}
	if _, err := f.WriteAt(refcountBlock, int64(refcountBlockOffset)); err != nil {
		return boxerr.Storagef(op, "write refcount block %s: %v", childPath, err)
	}

	return nil
}
