package document

// FitWidth returns the zoom at which a page rotated by rotation fills viewportWidth pixels
func FitWidth(size Size, rotation Rotation, viewportWidth int) float64 {
	width := size.Width
	if rotation.Swapped() {
		width = size.Height
	}
	if width <= 0 || viewportWidth <= 0 {
		return 1
	}
	return clampZoom(float64(viewportWidth) / width)
}

// FitPage returns the largest zoom at which the whole rotated page fits the viewport
func FitPage(size Size, rotation Rotation, viewportWidth, viewportHeight int) float64 {
	width, height := size.Width, size.Height
	if rotation.Swapped() {
		width, height = height, width
	}
	if width <= 0 || height <= 0 || viewportWidth <= 0 || viewportHeight <= 0 {
		return 1
	}
	zx := float64(viewportWidth) / width
	zy := float64(viewportHeight) / height
	if zy < zx {
		return clampZoom(zy)
	}
	return clampZoom(zx)
}

func clampZoom(z float64) float64 {
	const minZoom = 1.0 / zoomQuantum
	switch {
	case z < minZoom:
		return minZoom
	case z > MaxZoom:
		return MaxZoom
	}
	return z
}
