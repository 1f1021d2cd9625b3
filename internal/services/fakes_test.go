package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/failure"
	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"github.com/Lllllllleong/propertydocumentfiler/internal/queue"
	"github.com/Lllllllleong/propertydocumentfiler/internal/semaphore"
)

type copyRecord struct {
	FileID   string
	ParentID string
	Name     string
	NewID    string
}

// memStorage is an in-memory file tree.
type memStorage struct {
	mu       sync.Mutex
	files    map[string]models.FileRef
	media    map[string][]byte
	children map[string][]models.FileRef
	folders  map[string]string // parent/name -> id
	copies   []copyRecord
	nextID   int
	pageSize int

	getErr    map[string]error
	copyErr   error
	listFails int

	getCalls    atomic.Int64
	createCalls atomic.Int64
	findCalls   atomic.Int64
	copyCalls   atomic.Int64
}

func newMemStorage() *memStorage {
	return &memStorage{
		files:    make(map[string]models.FileRef),
		media:    make(map[string][]byte),
		children: make(map[string][]models.FileRef),
		folders:  make(map[string]string),
		getErr:   make(map[string]error),
		pageSize: 2,
	}
}

func (s *memStorage) addFile(parentID string, f models.FileRef, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.ID] = f
	s.media[f.ID] = data
	s.children[parentID] = append(s.children[parentID], f)
}

func (s *memStorage) addFolder(parentID, id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := models.FileRef{ID: id, Name: name, MIMEType: models.FolderMIMEType}
	s.files[id] = ref
	s.folders[parentID+"/"+name] = id
	s.children[parentID] = append(s.children[parentID], ref)
}

func (s *memStorage) List(_ context.Context, folderID, pageToken string) (models.FilePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listFails > 0 {
		s.listFails--
		return models.FilePage{}, failure.New(failure.Transient, "list", fmt.Errorf("backend unavailable"))
	}
	all := s.children[folderID]
	start := 0
	if pageToken != "" {
		start, _ = strconv.Atoi(pageToken)
	}
	end := start + s.pageSize
	if end > len(all) {
		end = len(all)
	}
	page := models.FilePage{Files: append([]models.FileRef(nil), all[start:end]...)}
	if end < len(all) {
		page.NextPageToken = fmt.Sprint(end)
	}
	return page, nil
}

func (s *memStorage) Get(_ context.Context, fileID string) (models.FileRef, error) {
	s.getCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.getErr[fileID]; ok {
		return models.FileRef{}, err
	}
	f, ok := s.files[fileID]
	if !ok {
		return models.FileRef{}, failure.New(failure.NotFound, "get", fmt.Errorf("file %s not found", fileID))
	}
	return f, nil
}

func (s *memStorage) GetMedia(_ context.Context, fileID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.media[fileID]
	if !ok {
		return nil, failure.New(failure.NotFound, "media", fmt.Errorf("file %s not found", fileID))
	}
	return data, nil
}

func (s *memStorage) FindFolder(_ context.Context, parentID, name string) (string, bool, error) {
	s.findCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.folders[parentID+"/"+name]
	return id, ok, nil
}

func (s *memStorage) CreateFolder(_ context.Context, parentID, name string) (string, error) {
	s.createCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("folder-%d", s.nextID)
	s.folders[parentID+"/"+name] = id
	s.files[id] = models.FileRef{ID: id, Name: name, MIMEType: models.FolderMIMEType}
	return id, nil
}

func (s *memStorage) Copy(_ context.Context, fileID, destParentID, name string) (string, error) {
	s.copyCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.copyErr != nil {
		return "", s.copyErr
	}
	s.nextID++
	id := fmt.Sprintf("copy-%d", s.nextID)
	s.copies = append(s.copies, copyRecord{FileID: fileID, ParentID: destParentID, Name: name, NewID: id})
	return id, nil
}

// folderPath resolves the path of folder names from rootID down to id.
func (s *memStorage) folderPath(rootID, id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var parts []string
	for id != rootID {
		found := false
		for key, folderID := range s.folders {
			if folderID == id {
				i := strings.LastIndex(key, "/")
				parts = append([]string{key[i+1:]}, parts...)
				id = key[:i]
				found = true
				break
			}
		}
		if !found {
			return "?"
		}
	}
	return strings.Join(parts, "/")
}

func (s *memStorage) copyRecords() []copyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]copyRecord(nil), s.copies...)
}

// fakeGenerator answers through fn and counts calls.
type fakeGenerator struct {
	mu      sync.Mutex
	fn      func(ctx context.Context, req models.GenerateRequest) (string, error)
	accepts func(mimeType string) bool
	reqs    []models.GenerateRequest
	calls   atomic.Int64
}

func (g *fakeGenerator) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	if g.fn == nil {
		return "UNKNOWN", nil
	}
	return g.fn(ctx, req)
}

func (g *fakeGenerator) AcceptsMIMEType(mimeType string) bool {
	if g.accepts != nil {
		return g.accepts(mimeType)
	}
	return isPDF(mimeType) || isImage(mimeType)
}

func (g *fakeGenerator) requests() []models.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.GenerateRequest(nil), g.reqs...)
}

// answerByPrompt replies classify for classification prompts and year for
// year prompts.
func answerByPrompt(classify, year string) func(context.Context, models.GenerateRequest) (string, error) {
	return func(_ context.Context, req models.GenerateRequest) (string, error) {
		if strings.Contains(req.Prompt, "registry") {
			return classify, nil
		}
		return year, nil
	}
}

// fakeLedger stores rows in memory and fails the first failures appends.
type fakeLedger struct {
	mu       sync.Mutex
	entries  []models.LedgerEntry
	batches  [][]models.LedgerEntry
	failures int
	appends  int
}

func (l *fakeLedger) LoadAll(context.Context) ([]models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.LedgerEntry(nil), l.entries...), nil
}

func (l *fakeLedger) Append(ctx context.Context, entry models.LedgerEntry) error {
	return l.AppendBatch(ctx, []models.LedgerEntry{entry})
}

func (l *fakeLedger) AppendBatch(_ context.Context, entries []models.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appends++
	if l.failures > 0 {
		l.failures--
		return failure.New(failure.RateLimited, "append", fmt.Errorf("quota exceeded"))
	}
	l.entries = append(l.entries, entries...)
	l.batches = append(l.batches, append([]models.LedgerEntry(nil), entries...))
	return nil
}

func (l *fakeLedger) rows() []models.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.LedgerEntry(nil), l.entries...)
}

// fakeMessage records how it was settled.
type fakeMessage struct {
	id      string
	data    []byte
	acked   atomic.Bool
	nacked  atomic.Bool
	settled chan struct{}
	once    sync.Once
}

func newFakeMessage(id string, data []byte) *fakeMessage {
	return &fakeMessage{id: id, data: data, settled: make(chan struct{})}
}

func (m *fakeMessage) ID() string   { return m.id }
func (m *fakeMessage) Data() []byte { return m.data }
func (m *fakeMessage) Ack()         { m.acked.Store(true); m.once.Do(func() { close(m.settled) }) }
func (m *fakeMessage) Nack()        { m.nacked.Store(true); m.once.Do(func() { close(m.settled) }) }

func (m *fakeMessage) waitSettled(t *testing.T) {
	t.Helper()
	select {
	case <-m.settled:
	case <-time.After(5 * time.Second):
		t.Fatalf("message %s was never settled", m.id)
	}
}

// fakeSubscriber delivers msgs then blocks until ctx is done.
type fakeSubscriber struct {
	msgs []queue.Message
}

func (s *fakeSubscriber) Receive(ctx context.Context, handler func(context.Context, queue.Message)) error {
	for _, m := range s.msgs {
		handler(ctx, m)
	}
	<-ctx.Done()
	return nil
}

// fakePublisher records payloads; fail makes every publish error.
type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
	fail      bool
}

func (p *fakePublisher) Publish(_ context.Context, data []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return "", fmt.Errorf("topic unavailable")
	}
	p.published = append(p.published, data)
	return fmt.Sprintf("msg-%d", len(p.published)), nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

const testRootID = "dest-root"

var testRegistry = []models.PropertyRecord{
	{Name: "Oak Street Properties", Address: "12 Oak Street"},
	{Name: "Harbour View", Address: "3 Quay Road"},
}

type testRig struct {
	storage   *memStorage
	generator *fakeGenerator
	ledger    *fakeLedger
	dedup     *DedupStore
	props     *PropertyMap
	procSem   *semaphore.Semaphore
	apiSem    *semaphore.Semaphore
	writer    LedgerWriter
	pipeline  *Pipeline

	classifier *Classifier
	extractor  *YearExtractor
	filer      *Filer
}

// newTestRig wires a pipeline over fakes with an immediate ledger writer.
func newTestRig(t *testing.T, gen *fakeGenerator) *testRig {
	t.Helper()
	rig := &testRig{
		storage:   newMemStorage(),
		generator: gen,
		ledger:    &fakeLedger{},
		dedup:     NewDedupStore(),
		props:     NewPropertyMap(testRegistry),
		procSem:   semaphore.New("processing", 4),
		apiSem:    semaphore.New("model-api", 1),
	}
	rig.classifier = NewClassifier(rig.props, testRegistry, gen, rig.apiSem)
	rig.extractor = NewYearExtractor(rig.storage, gen, rig.apiSem, YearExtractorOptions{
		Timeout:        time.Second,
		MaxInlineBytes: 1 << 20,
		TargetBytes:    1 << 19,
	})
	rig.extractor.now = fixedNow
	rig.filer = NewFiler(rig.storage, testRootID)
	rig.rebuild(NewImmediateLedgerWriter(rig.ledger, RetryPolicy{MaxAttempts: 1}), rig.procSem)
	return rig
}

// rebuild replaces the pipeline with one using writer and procSem.
func (rig *testRig) rebuild(writer LedgerWriter, procSem *semaphore.Semaphore) {
	rig.writer = writer
	rig.procSem = procSem
	rig.pipeline = NewPipeline(rig.storage, rig.classifier, rig.extractor, rig.filer, rig.dedup, writer, procSem)
	rig.pipeline.now = fixedNow
}

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}
