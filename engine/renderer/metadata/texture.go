package metadata

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spaghettifunk/anima-rdg/engine/math"
)

/**
 * @brief Represents various types of textures.
 */
type TextureType int

const (
	/** @brief A standard two-dimensional texture. */
	TextureType2d TextureType = iota
	/** @brief A two-dimensional texture array, Depth holds the slice count. */
	TextureType2dArray
	/** @brief A cube texture, used for cubemaps. */
	TextureTypeCube
	/** @brief A volume texture, Depth holds the number of layers. */
	TextureType3d
)

func (t TextureType) String() string {
	switch t {
	case TextureType2d:
		return "2d"
	case TextureType2dArray:
		return "2d_array"
	case TextureTypeCube:
		return "cube"
	case TextureType3d:
		return "3d"
	}
	return fmt.Sprintf("TextureType(%d)", int(t))
}

/** @brief Pixel formats understood by every backend. */
type TextureFormat int

const (
	TextureFormatUnknown TextureFormat = iota
	TextureFormatR8Unorm
	TextureFormatRGBA8Unorm
	TextureFormatRGBA8Srgb
	TextureFormatBGRA8Unorm
	TextureFormatRG16Float
	TextureFormatRGBA16Float
	TextureFormatR32Float
	TextureFormatRGBA32Float
	TextureFormatR11G11B10Float
	TextureFormatD32Float
	TextureFormatD24UnormS8Uint
	TextureFormatD32FloatS8Uint
)

var textureFormatNames = map[TextureFormat]string{
	TextureFormatUnknown:        "unknown",
	TextureFormatR8Unorm:        "r8_unorm",
	TextureFormatRGBA8Unorm:     "rgba8_unorm",
	TextureFormatRGBA8Srgb:      "rgba8_srgb",
	TextureFormatBGRA8Unorm:     "bgra8_unorm",
	TextureFormatRG16Float:      "rg16_float",
	TextureFormatRGBA16Float:    "rgba16_float",
	TextureFormatR32Float:       "r32_float",
	TextureFormatRGBA32Float:    "rgba32_float",
	TextureFormatR11G11B10Float: "r11g11b10_float",
	TextureFormatD32Float:       "d32_float",
	TextureFormatD24UnormS8Uint: "d24_unorm_s8_uint",
	TextureFormatD32FloatS8Uint: "d32_float_s8_uint",
}

func (f TextureFormat) String() string {
	if n, ok := textureFormatNames[f]; ok {
		return n
	}
	return fmt.Sprintf("TextureFormat(%d)", int(f))
}

/** @brief Indicates if the format is a depth (or depth-stencil) format. */
func (f TextureFormat) IsDepth() bool {
	return f == TextureFormatD32Float || f == TextureFormatD24UnormS8Uint || f == TextureFormatD32FloatS8Uint
}

/** @brief Indicates if the format carries a stencil aspect. */
func (f TextureFormat) HasStencil() bool {
	return f == TextureFormatD24UnormS8Uint || f == TextureFormatD32FloatS8Uint
}

/** @brief Size of a single texel in bytes, 0 for unknown formats. */
func (f TextureFormat) BytesPerPixel() uint32 {
	switch f {
	case TextureFormatR8Unorm:
		return 1
	case TextureFormatRGBA8Unorm, TextureFormatRGBA8Srgb, TextureFormatBGRA8Unorm,
		TextureFormatRG16Float, TextureFormatR32Float, TextureFormatR11G11B10Float,
		TextureFormatD32Float, TextureFormatD24UnormS8Uint:
		return 4
	case TextureFormatRGBA16Float, TextureFormatD32FloatS8Uint:
		return 8
	case TextureFormatRGBA32Float:
		return 16
	}
	return 0
}

/** @brief Holds bit flags describing how a texture is going to be used. */
type TextureUsage uint32

const (
	TextureUsageSampled TextureUsage = 1 << iota
	TextureUsageStorage
	TextureUsageColorAttachment
	TextureUsageDepthAttachment
	TextureUsageTransferSrc
	TextureUsageTransferDst
)

func (u TextureUsage) Has(flag TextureUsage) bool {
	return u&flag == flag
}

/**
 * @brief Describes a texture the render graph can create. Two descriptors
 * with the same hash can share a pooled physical texture.
 */
type TextureDesc struct {
	/** @brief The texture Name, for debugging only. */
	Name string
	/** @brief The texture type. */
	TextureType TextureType
	/** @brief The texture Width. */
	Width uint32
	/** @brief The texture Height. */
	Height uint32
	/** @brief Depth for 3d textures, slice count for arrays. */
	Depth uint32
	/** @brief Number of mip levels, 0 means a full chain. */
	MipLevels uint32
	/** @brief The pixel format. */
	Format TextureFormat
	/** @brief Sample count, 0 is treated as 1. */
	Samples uint8
	/** @brief How the texture is used. */
	Usage TextureUsage
	/** @brief Clear value used when an attachment is loaded with LoadActionClear. */
	ClearColour math.Vec4
}

/**
 * @brief Returns a copy of the descriptor with zero fields replaced by their defaults.
 */
func (d TextureDesc) Normalized() TextureDesc {
	if d.Depth == 0 {
		d.Depth = 1
	}
	if d.TextureType == TextureTypeCube {
		d.Depth = 6
	}
	fullChain := math.MipCount(d.Width, d.Height)
	if d.MipLevels == 0 {
		d.MipLevels = fullChain
	}
	d.MipLevels = math.Clamp(d.MipLevels, 1, fullChain)
	if d.Samples == 0 {
		d.Samples = 1
	}
	if d.Usage == 0 {
		d.Usage = TextureUsageSampled
		if d.Format.IsDepth() {
			d.Usage |= TextureUsageDepthAttachment
		} else {
			d.Usage |= TextureUsageColorAttachment | TextureUsageStorage
		}
	}
	return d
}

func (d TextureDesc) Validate() error {
	if d.Width == 0 || d.Height == 0 {
		return fmt.Errorf("texture '%s': invalid extent %dx%d", d.Name, d.Width, d.Height)
	}
	if d.Format == TextureFormatUnknown || d.Format.BytesPerPixel() == 0 {
		return fmt.Errorf("texture '%s': unknown format %s", d.Name, d.Format)
	}
	if d.Usage.Has(TextureUsageDepthAttachment) && !d.Format.IsDepth() {
		return fmt.Errorf("texture '%s': depth usage on colour format %s", d.Name, d.Format)
	}
	return nil
}

/**
 * @brief Hash of every field that affects the physical texture. Name and
 * clear colour are ignored.
 */
func (d TextureDesc) Hash() uint64 {
	var buf [4 * 8]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(d.TextureType))
	binary.LittleEndian.PutUint32(buf[4:], d.Width)
	binary.LittleEndian.PutUint32(buf[8:], d.Height)
	binary.LittleEndian.PutUint32(buf[12:], d.Depth)
	binary.LittleEndian.PutUint32(buf[16:], d.MipLevels)
	binary.LittleEndian.PutUint32(buf[20:], uint32(d.Format))
	binary.LittleEndian.PutUint32(buf[24:], uint32(d.Samples))
	binary.LittleEndian.PutUint32(buf[28:], uint32(d.Usage))
	return xxhash.Sum64(buf[:])
}

/** @brief Approximate memory footprint of the top mip, used for statistics. */
func (d TextureDesc) SizeInBytes() uint64 {
	return uint64(d.Width) * uint64(d.Height) * uint64(math.Max(d.Depth, 1)) * uint64(d.Format.BytesPerPixel())
}
