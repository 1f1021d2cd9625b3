package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/nfnt/resize"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/tiff"
)

// Tuning of the compression ladder.
const (
	renderMaxEdge     = 2000 // long edge of the reduced-resolution page image
	qualityStart      = 85
	qualityThreshold  = 50 // coarse steps above, fine steps at or below
	qualityCoarseStep = 10
	qualityFineStep   = 5
	qualityFloor      = 20
	downscaleFactor   = 0.75
	minImageDimension = 400
)

// base64Size is the size of data once inlined in a request.
func base64Size(n int) int {
	return base64.StdEncoding.EncodedLen(n)
}

// compressionInput is shared by the strategies of one compression attempt.
// The page image is decoded once, by the first strategy that needs it.
type compressionInput struct {
	source     []byte
	mimeType   string
	target     int
	acceptsPDF bool

	page    image.Image
	pageErr error
	decoded bool
}

type compressionResult struct {
	Data     []byte
	MIMEType string
	Size     int
	OK       bool
}

// compressionStrategy tries to bring the payload under the target size.
// A strategy that cannot run returns an error; one that runs but stays over
// budget returns a result with OK false and the smallest size it reached.
type compressionStrategy struct {
	name  string
	apply func(ctx context.Context, in *compressionInput) (compressionResult, error)
}

func defaultCompressionStrategies() []compressionStrategy {
	return []compressionStrategy{
		{name: "first-page-pdf", apply: firstPagePDF},
		{name: "jpeg-quality", apply: jpegQualityLadder},
		{name: "downscale", apply: downscaleLadder},
	}
}

func isPDF(mimeType string) bool {
	return mimeType == "application/pdf"
}

func isImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

func pdfConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// firstPagePDF keeps only page 1 of a PDF.
func firstPagePDF(_ context.Context, in *compressionInput) (compressionResult, error) {
	if !isPDF(in.mimeType) || !in.acceptsPDF {
		return compressionResult{}, fmt.Errorf("not applicable to %s", in.mimeType)
	}
	var buf bytes.Buffer
	if err := api.Trim(bytes.NewReader(in.source), &buf, []string{"1"}, pdfConfiguration()); err != nil {
		return compressionResult{}, fmt.Errorf("failed to trim pdf to its first page: %w", err)
	}
	size := base64Size(buf.Len())
	return compressionResult{
		Data:     buf.Bytes(),
		MIMEType: "application/pdf",
		Size:     size,
		OK:       size <= in.target,
	}, nil
}

// jpegQualityLadder re-encodes the page image at decreasing JPEG quality.
func jpegQualityLadder(ctx context.Context, in *compressionInput) (compressionResult, error) {
	img, err := in.pageImage()
	if err != nil {
		return compressionResult{}, err
	}
	var best compressionResult
	for _, q := range qualitySteps() {
		if err := ctx.Err(); err != nil {
			return best, err
		}
		res, err := encodeJPEG(img, q, in.target)
		if err != nil {
			return best, err
		}
		best = res
		if res.OK {
			return res, nil
		}
	}
	return best, nil
}

// downscaleLadder shrinks the page image at floor quality until it fits or
// its short edge would drop below minImageDimension.
func downscaleLadder(ctx context.Context, in *compressionInput) (compressionResult, error) {
	img, err := in.pageImage()
	if err != nil {
		return compressionResult{}, err
	}
	var best compressionResult
	width := float64(img.Bounds().Dx())
	height := float64(img.Bounds().Dy())
	for {
		if err := ctx.Err(); err != nil {
			return best, err
		}
		width *= downscaleFactor
		height *= downscaleFactor
		if int(width) < minImageDimension || int(height) < minImageDimension {
			return best, nil
		}
		scaled := resize.Resize(uint(width), uint(height), img, resize.Lanczos3)
		res, err := encodeJPEG(scaled, qualityFloor, in.target)
		if err != nil {
			return best, err
		}
		best = res
		if res.OK {
			return res, nil
		}
	}
}

// qualitySteps lists the JPEG qualities tried, coarse then fine.
func qualitySteps() []int {
	var steps []int
	for q := qualityStart; q >= qualityFloor; {
		steps = append(steps, q)
		if q > qualityThreshold {
			q -= qualityCoarseStep
		} else {
			q -= qualityFineStep
		}
	}
	return steps
}

func encodeJPEG(img image.Image, quality, target int) (compressionResult, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return compressionResult{}, fmt.Errorf("encode jpeg at quality %d: %w", quality, err)
	}
	size := base64Size(buf.Len())
	return compressionResult{
		Data:     buf.Bytes(),
		MIMEType: "image/jpeg",
		Size:     size,
		OK:       size <= target,
	}, nil
}

// pageImage returns page 1 as an image at reduced resolution. For PDFs this
// is the largest image embedded on page 1, which for scanned documents is
// the scan itself.
func (in *compressionInput) pageImage() (image.Image, error) {
	if in.decoded {
		return in.page, in.pageErr
	}
	in.decoded = true
	img, err := in.decodePage()
	if err != nil {
		in.pageErr = err
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() > renderMaxEdge || b.Dy() > renderMaxEdge {
		if b.Dx() >= b.Dy() {
			img = resize.Resize(renderMaxEdge, 0, img, resize.Lanczos3)
		} else {
			img = resize.Resize(0, renderMaxEdge, img, resize.Lanczos3)
		}
	}
	in.page = img
	return img, nil
}

func (in *compressionInput) decodePage() (image.Image, error) {
	if isImage(in.mimeType) {
		img, _, err := image.Decode(bytes.NewReader(in.source))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		return img, nil
	}
	if !isPDF(in.mimeType) {
		return nil, fmt.Errorf("cannot render %s", in.mimeType)
	}

	pages, err := api.ExtractImagesRaw(bytes.NewReader(in.source), []string{"1"}, pdfConfiguration())
	if err != nil {
		return nil, fmt.Errorf("extract page images: %w", err)
	}
	var (
		largest image.Image
		area    int
	)
	for _, images := range pages {
		for _, embedded := range images {
			img, _, err := image.Decode(embedded)
			if err != nil {
				continue
			}
			if a := img.Bounds().Dx() * img.Bounds().Dy(); a > area {
				largest, area = img, a
			}
		}
	}
	if largest == nil {
		return nil, fmt.Errorf("page 1 has no decodable image")
	}
	return largest, nil
}
