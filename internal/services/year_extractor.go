package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"github.com/Lllllllleong/propertydocumentfiler/internal/semaphore"
)

// UnknownYear is the destination bucket for documents without a readable year.
const UnknownYear = "Unknown_Year"

const minDocumentYear = 1950

const yearPromptTemplate = `Read the attached document and determine the year it was created or issued.
Respond with only a 4-digit year between %d and %d, or with UNKNOWN if the year cannot be determined.`

var digitRunRegex = regexp.MustCompile(`\d+`)

// YearExtractorOptions bounds one extraction.
type YearExtractorOptions struct {
	// Timeout bounds the model call.
	Timeout time.Duration
	// MaxInlineBytes is the base64 size above which the document is compressed.
	MaxInlineBytes int
	// TargetBytes is the base64 size compressed payloads must reach.
	TargetBytes int
}

// YearExtractor reads a creation year from document content through the model.
type YearExtractor struct {
	storage    Storage
	generator  Generator
	apiSem     *semaphore.Semaphore
	opts       YearExtractorOptions
	strategies []compressionStrategy
	now        func() time.Time
}

// NewYearExtractor returns an extractor sharing apiSem with the classifier.
func NewYearExtractor(storage Storage, generator Generator, apiSem *semaphore.Semaphore, opts YearExtractorOptions) *YearExtractor {
	return &YearExtractor{
		storage:    storage,
		generator:  generator,
		apiSem:     apiSem,
		opts:       opts,
		strategies: defaultCompressionStrategies(),
		now:        time.Now,
	}
}

// ExtractYear returns a 4-digit year or UnknownYear. It returns "" without
// any remote call when file is neither a PDF nor an image. Failures are
// logged and degrade to UnknownYear.
func (e *YearExtractor) ExtractYear(ctx context.Context, file models.FileRef) string {
	if !isPDF(file.MIMEType) && !isImage(file.MIMEType) {
		return ""
	}
	logCtx := slog.With("fileId", file.ID, "fileName", file.Name)

	data, err := e.storage.GetMedia(ctx, file.ID)
	if err != nil {
		logCtx.Warn("Could not download document for year extraction.", "error", err)
		return UnknownYear
	}

	req := models.GenerateRequest{Data: data, MIMEType: file.MIMEType}
	size := base64Size(len(data))
	if size > e.opts.MaxInlineBytes || !e.generator.AcceptsMIMEType(file.MIMEType) {
		logCtx.Info("Compressing document before year extraction.", "size", size, "ceiling", e.opts.MaxInlineBytes)
		res, ok := e.compress(ctx, logCtx, data, file.MIMEType)
		if !ok {
			logCtx.Warn("Document could not be compressed under the payload ceiling.", "target", e.opts.TargetBytes)
			return UnknownYear
		}
		req.Data, req.MIMEType = res.Data, res.MIMEType
	}

	currentYear := e.now().Year()
	req.Prompt = fmt.Sprintf(yearPromptTemplate, minDocumentYear, currentYear)

	answer, err := generateWithPermit(ctx, e.apiSem, e.generator, req, e.opts.Timeout)
	if err != nil {
		logCtx.Warn("Year extraction call failed.", "error", err)
		return UnknownYear
	}
	year := parseYear(answer, currentYear)
	logCtx.Debug("Year extracted.", "answer", answer, "year", year)
	return year
}

// compress runs the strategies in order and returns the first payload that
// fits the target.
func (e *YearExtractor) compress(ctx context.Context, logCtx *slog.Logger, data []byte, mimeType string) (compressionResult, bool) {
	in := &compressionInput{
		source:     data,
		mimeType:   mimeType,
		target:     e.opts.TargetBytes,
		acceptsPDF: e.generator.AcceptsMIMEType("application/pdf"),
	}
	for _, s := range e.strategies {
		res, err := s.apply(ctx, in)
		if err != nil {
			logCtx.Debug("Compression strategy skipped.", "strategy", s.name, "error", err)
			if ctx.Err() != nil {
				return compressionResult{}, false
			}
			continue
		}
		logCtx.Debug("Compression strategy finished.", "strategy", s.name, "size", res.Size, "ok", res.OK)
		if res.OK && e.generator.AcceptsMIMEType(res.MIMEType) {
			return res, true
		}
	}
	return compressionResult{}, false
}

// parseYear returns the first standalone 4-digit 19xx/20xx token of text
// within [minDocumentYear, currentYear].
func parseYear(text string, currentYear int) string {
	for _, run := range digitRunRegex.FindAllString(text, -1) {
		if len(run) != 4 || (run[:2] != "19" && run[:2] != "20") {
			continue
		}
		y, err := strconv.Atoi(run)
		if err != nil {
			continue
		}
		if y >= minDocumentYear && y <= currentYear {
			return run
		}
	}
	return UnknownYear
}
