package packager

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// resizeJPEG decodes a JPEG, resizes it to fit within maxW×maxH while
// preserving aspect ratio (never upscaling), and re-encodes it. It reports
// the dimensions actually used so callers can attach ImageDimensions to a
// SceneResult later.
func resizeJPEG(src []byte, maxW, maxH int) (out []byte, w, h int, err error) {
	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, 0, 0, err
	}

	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	newW, newH := fitDimensions(origW, origH, maxW, maxH)

	if newW == origW && newH == origH {
		return src, origW, origH, nil
	}

	resized := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), newW, newH, nil
}

// fitDimensions computes the largest width/height pair no bigger than
// maxW×maxH that preserves the original aspect ratio. It never upscales.
func fitDimensions(width, height, maxW, maxH int) (int, int) {
	if width <= maxW && height <= maxH {
		return width, height
	}
	scale := float64(maxW) / float64(width)
	if hScale := float64(maxH) / float64(height); hScale < scale {
		scale = hScale
	}
	newW := int(float64(width) * scale)
	newH := int(float64(height) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	return newW, newH
}
