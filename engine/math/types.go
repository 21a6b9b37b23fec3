package math

// Vec4 represents a 4D vector, used for clear colours.
type Vec4 struct {
	X, Y, Z, W float32
}

func NewVec4(x, y, z, w float32) Vec4 {
	return Vec4{X: x, Y: y, Z: z, W: w}
}

/**
 * @brief Represents the extent of a 2d region in texels.
 */
type Extent2D struct {
	Width  uint32
	Height uint32
}
