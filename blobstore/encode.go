package blobstore

import (
	"bytes"
	"image"
	"image/png"

	"github.com/ditox-dev/ditox/ditoxerr"
)

// Encoder turns an RGBA buffer into the bytes that get content-addressed
// and stored. Encoders are pluggable so the images.encoding setting can
// select among them.
type Encoder interface {
	Name() string
	Encode(rgba []byte, width, height int) ([]byte, error)
}

// PNGEncoder is the default encoder (images.encoding = "png").
type PNGEncoder struct{}

func (PNGEncoder) Name() string { return "png" }

func (PNGEncoder) Encode(rgba []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, ditoxerr.New(ditoxerr.InvalidInput, "image dimensions must be positive")
	}
	if len(rgba) != width*height*4 {
		return nil, ditoxerr.New(ditoxerr.InvalidInput, "rgba buffer does not match width*height*4")
	}
	img := &image.RGBA{
		Pix:    rgba,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "encode png", err)
	}
	return buf.Bytes(), nil
}

// Encoders maps images.encoding values to their Encoder.
func Encoders() map[string]Encoder {
	return map[string]Encoder{
		"png": PNGEncoder{},
	}
}
