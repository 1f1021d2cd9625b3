package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/failure"
	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"github.com/Lllllllleong/propertydocumentfiler/internal/semaphore"
)

// UnidentifiedProperty is the destination bucket for documents no property matched.
const UnidentifiedProperty = "Unidentified"

const unknownToken = "UNKNOWN"

const classifyPromptTemplate = `Below is the registry of properties we manage, one per line as "name | address":

%s
Document filename: %q

Which registry property does this document belong to? The filename may mention the property name, its street address, an abbreviation or a unit number.
Respond with the property name exactly as written in the registry, or with UNKNOWN if no registry property matches.`

// Classifier resolves a filename to a canonical property name.
type Classifier struct {
	properties *PropertyMap
	registry   []models.PropertyRecord
	generator  Generator
	apiSem     *semaphore.Semaphore
}

// NewClassifier builds a classifier over the shared property map. apiSem is
// the semaphore guarding every generator call.
func NewClassifier(properties *PropertyMap, registry []models.PropertyRecord, generator Generator, apiSem *semaphore.Semaphore) *Classifier {
	return &Classifier{
		properties: properties,
		registry:   registry,
		generator:  generator,
		apiSem:     apiSem,
	}
}

// Identify matches filename against the local property map only.
func (c *Classifier) Identify(filename string) (string, bool) {
	return c.properties.Match(filename)
}

// IdentifyViaFallback asks the model to pick a registry property for
// filename. It returns "" when the model answers UNKNOWN or nothing. A
// resolved name is learned by the property map before it is returned.
func (c *Classifier) IdentifyViaFallback(ctx context.Context, filename string) (string, error) {
	answer, err := generateWithPermit(ctx, c.apiSem, c.generator, models.GenerateRequest{
		Prompt: buildClassifyPrompt(c.registry, filename),
	}, 0)
	if err != nil {
		return "", fmt.Errorf("property lookup for %q: %w", filename, err)
	}

	name := cleanModelAnswer(answer)
	if name == "" || strings.EqualFold(name, unknownToken) {
		return "", nil
	}
	if !c.inRegistry(name) {
		slog.Warn("Model returned a property that is not in the registry.", "fileName", filename, "property", name)
	}
	return c.properties.Add(name), nil
}

// Resolve runs the local match, then the fallback, then settles on
// UnidentifiedProperty. Only fallback errors are returned.
func (c *Classifier) Resolve(ctx context.Context, filename string) (string, error) {
	if name, ok := c.Identify(filename); ok {
		return name, nil
	}
	name, err := c.IdentifyViaFallback(ctx, filename)
	if err != nil {
		return "", err
	}
	if name == "" {
		return UnidentifiedProperty, nil
	}
	return name, nil
}

// generateWithPermit calls the generator while holding a permit of apiSem.
// A positive timeout bounds the call itself, not the wait for the permit;
// the caller gets a failure.Timeout when it elapses even if the generator
// ignores its context. The permit is returned once the call has actually
// finished, so apiSem keeps counting calls still in flight.
func generateWithPermit(ctx context.Context, apiSem *semaphore.Semaphore, gen Generator, req models.GenerateRequest, timeout time.Duration) (string, error) {
	release, err := apiSem.Acquire(ctx)
	if err != nil {
		return "", err
	}
	if timeout <= 0 {
		defer release()
		return gen.Generate(ctx, req)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("generator panicked: %v", r)}
			}
		}()
		text, err := gen.Generate(callCtx, req)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-callCtx.Done():
		return "", failure.New(failure.Timeout, "generate", callCtx.Err())
	}
}

func (c *Classifier) inRegistry(name string) bool {
	key := NormalizeName(name)
	for _, rec := range c.registry {
		if NormalizeName(rec.Name) == key {
			return true
		}
	}
	return false
}

func buildClassifyPrompt(registry []models.PropertyRecord, filename string) string {
	var b strings.Builder
	for _, rec := range registry {
		fmt.Fprintf(&b, "- %s | %s\n", rec.Name, rec.Address)
	}
	return fmt.Sprintf(classifyPromptTemplate, b.String(), filename)
}

// cleanModelAnswer strips the fences, bullets and quotes models sometimes
// wrap a one-token answer in.
func cleanModelAnswer(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "- ")
	return strings.Trim(s, " \t\"'`.*")
}
