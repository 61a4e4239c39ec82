package capture

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/IshaanNene/templatescout/internal/types"
)

// Images holds the derived encodings of one full-page screenshot.
type Images struct {
	Preview   []byte
	Thumbnail []byte

	PreviewWidth  int
	PreviewHeight int
}

// Process derives the preview and thumbnail JPEGs from a raw screenshot.
// The preview keeps the page's aspect ratio and is only ever downscaled;
// the thumbnail is cover-fitted from the top of the page.
func Process(raw []byte, opts Options) (*Images, error) {
	src, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &types.CaptureError{Stage: "decode", Err: err}
	}

	var preview image.Image = src
	if src.Bounds().Dx() > opts.PreviewWidth {
		preview = imaging.Resize(src, opts.PreviewWidth, 0, imaging.Lanczos)
	}
	previewJPEG, err := encodeJPEG(preview, opts.PreviewQuality)
	if err != nil {
		return nil, &types.CaptureError{Stage: "encode_preview", Err: err}
	}

	thumb := imaging.Fill(src, opts.ThumbnailWidth, opts.ThumbnailHeight, imaging.Top, imaging.Lanczos)
	thumbJPEG, err := encodeJPEG(thumb, opts.ThumbnailQuality)
	if err != nil {
		return nil, &types.CaptureError{Stage: "encode_thumbnail", Err: err}
	}

	return &Images{
		Preview:       previewJPEG,
		Thumbnail:     thumbJPEG,
		PreviewWidth:  preview.Bounds().Dx(),
		PreviewHeight: preview.Bounds().Dy(),
	}, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
