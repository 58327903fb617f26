package cpu

// Board symmetries compose an optional vertical flip, an optional horizontal
// flip, and an optional transpose, applied in that order. Transposition is
// only defined on square boards; callers guarantee that.

// symCoords maps a destination point (y, x) to the source point it reads
// from under the forward transform.
func symCoords(y, x, yLen, xLen int, flipY, flipX, transpose bool) (sy, sx int) {
	sy, sx = y, x
	if transpose {
		sy, sx = sx, sy
	}
	if flipY {
		sy = yLen - 1 - sy
	}
	if flipX {
		sx = xLen - 1 - sx
	}
	return sy, sx
}

// invSymCoords is the inverse mapping: flips undo themselves and the
// transpose swaps back, but in the opposite order.
func invSymCoords(y, x, yLen, xLen int, flipY, flipX, transpose bool) (sy, sx int) {
	sy, sx = y, x
	if flipY {
		sy = yLen - 1 - sy
	}
	if flipX {
		sx = xLen - 1 - sx
	}
	if transpose {
		sy, sx = sx, sy
	}
	return sy, sx
}

// symPlane writes the transformed plane: dst[y][x] = src[T(y,x)], or with
// inverse set, dst[y][x] = src[T^-1(y,x)]. dst must not alias src.
func symPlane(dst, src []float32, yLen, xLen int, flipY, flipX, transpose, inverse bool) {
	if !flipY && !flipX && !transpose {
		copy(dst, src[:yLen*xLen])
		return
	}
	for y := 0; y < yLen; y++ {
		for x := 0; x < xLen; x++ {
			var sy, sx int
			if inverse {
				sy, sx = invSymCoords(y, x, yLen, xLen, flipY, flipX, transpose)
			} else {
				sy, sx = symCoords(y, x, yLen, xLen, flipY, flipX, transpose)
			}
			dst[y*xLen+x] = src[sy*xLen+sx]
		}
	}
}

// symPlanes applies symPlane channel by channel.
func symPlanes(dst, src []float32, channels, yLen, xLen int, flipY, flipX, transpose, inverse bool) {
	area := yLen * xLen
	for c := 0; c < channels; c++ {
		symPlane(dst[c*area:(c+1)*area], src[c*area:(c+1)*area], yLen, xLen, flipY, flipX, transpose, inverse)
	}
}
