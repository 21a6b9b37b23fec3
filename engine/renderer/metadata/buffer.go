package metadata

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

type BufferUsage uint32

const (
	/** @brief Buffer is used for vertex data. */
	BufferUsageVertex BufferUsage = 1 << iota
	/** @brief Buffer is used for index data. */
	BufferUsageIndex
	/** @brief Buffer is used for uniform data. */
	BufferUsageUniform
	/** @brief Buffer is used for data storage. */
	BufferUsageStorage
	/** @brief Buffer holds indirect draw/dispatch arguments. */
	BufferUsageIndirect
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

func (u BufferUsage) Has(flag BufferUsage) bool {
	return u&flag == flag
}

/**
 * @brief Describes a buffer the render graph can create: Count elements of
 * Stride bytes each.
 */
type BufferDesc struct {
	/** @brief The buffer Name, for debugging only. */
	Name string
	/** @brief Number of elements. */
	Count uint32
	/** @brief Size of one element in bytes. */
	Stride uint32
	/** @brief How the buffer is used. */
	Usage BufferUsage
}

func (d BufferDesc) Normalized() BufferDesc {
	if d.Usage == 0 {
		d.Usage = BufferUsageStorage | BufferUsageTransferDst | BufferUsageTransferSrc
	}
	return d
}

func (d BufferDesc) Validate() error {
	if d.Count == 0 || d.Stride == 0 {
		return fmt.Errorf("buffer '%s': invalid size %d x %d bytes", d.Name, d.Count, d.Stride)
	}
	return nil
}

/** @brief Total size of the buffer in bytes. */
func (d BufferDesc) Size() uint64 {
	return uint64(d.Count) * uint64(d.Stride)
}

/** @brief Hash of every field that affects the physical buffer. */
func (d BufferDesc) Hash() uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:], d.Count)
	binary.LittleEndian.PutUint32(buf[4:], d.Stride)
	binary.LittleEndian.PutUint32(buf[8:], uint32(d.Usage))
	// keep buffers and textures in different hash spaces
	return xxhash.Sum64(buf[:]) ^ 0x9e3779b97f4a7c15
}
