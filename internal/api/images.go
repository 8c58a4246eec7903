package api

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	// decoders accepted in requests
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/samcharles93/phylonn/internal/tensor"
)

func decodeImages(encoded []string, channels, size int) ([]tensor.Image, error) {
	out := make([]tensor.Image, len(encoded))
	for i, s := range encoded {
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, newInvalidRequest(fmt.Sprintf("images[%d]: invalid base64: %v", i, err))
		}
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, newInvalidRequest(fmt.Sprintf("images[%d]: %v", i, err))
		}
		t := tensor.FromImage(img, channels)
		if t.H != size || t.W != size {
			t = tensor.Resize(t, size, size)
		}
		out[i] = t
	}
	return out, nil
}

func encodeImages(images []tensor.Image) ([]string, error) {
	out := make([]string, len(images))
	var buf bytes.Buffer
	for i, img := range images {
		buf.Reset()
		if err := png.Encode(&buf, img.ToNRGBA()); err != nil {
			return nil, err
		}
		out[i] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return out, nil
}
