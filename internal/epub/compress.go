// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package epub

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/webp" // register webp decoding
)

const (
	maxImageDim = 1200
	jpegQuality = 65
)

// CompressImage resizes img to fit within 1200×1200 when it is larger and
// re-encodes it as JPEG at quality 65. PNG images that carry transparency
// stay PNG; anything that fails to decode or encode is returned unchanged.
func CompressImage(data []byte) []byte {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxImageDim || bounds.Dy() > maxImageDim {
		img = imaging.Fit(img, maxImageDim, maxImageDim, imaging.Lanczos)
	}

	outFormat := imaging.JPEG
	opts := []imaging.EncodeOption{imaging.JPEGQuality(jpegQuality)}
	if format == "png" && hasTransparency(img) {
		outFormat = imaging.PNG
		opts = nil
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, outFormat, opts...); err != nil {
		return data
	}
	return buf.Bytes()
}

func hasTransparency(img image.Image) bool {
	type opaquer interface {
		Opaque() bool
	}
	if o, ok := img.(opaquer); ok {
		return !o.Opaque()
	}

	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a < 0xffff {
				return true
			}
		}
	}
	return false
}
