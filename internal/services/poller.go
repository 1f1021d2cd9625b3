package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"github.com/Lllllllleong/propertydocumentfiler/internal/queue"
	"golang.org/x/sync/errgroup"
)

const defaultPublishConcurrency = 8

// Poller discovers files missing from the ledger and publishes them for the
// worker. Each file is published at most once per poller instance.
type Poller struct {
	lister      *TreeLister
	ledger      Ledger
	publisher   queue.Publisher
	sourceID    string
	concurrency int

	mu        sync.Mutex
	published map[string]struct{}
}

func NewPoller(lister *TreeLister, ledger Ledger, publisher queue.Publisher, sourceID string) *Poller {
	return &Poller{
		lister:      lister,
		ledger:      ledger,
		publisher:   publisher,
		sourceID:    sourceID,
		concurrency: defaultPublishConcurrency,
		published:   make(map[string]struct{}),
	}
}

// Published returns the number of files this instance has published.
func (p *Poller) Published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// PollOnce publishes every new file and returns how many were published.
// Publish failures are logged and retried on the next poll.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	entries, err := p.ledger.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load ledger: %w", err)
	}
	seen := NewDedupStore()
	seen.Hydrate(entries)

	files, err := p.lister.ListTree(ctx, p.sourceID)
	if err != nil {
		return 0, err
	}

	var count atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, f := range files {
		if seen.Contains(f.ID, f.Name) || p.wasPublished(f.ID) {
			continue
		}
		g.Go(func() error {
			data, err := json.Marshal(models.FileMessage{FileID: f.ID, FileName: f.Name})
			if err != nil {
				return err
			}
			msgID, err := p.publisher.Publish(gctx, data)
			if err != nil {
				slog.Error("Failed to publish file.", "fileId", f.ID, "fileName", f.Name, "error", err)
				return nil
			}
			p.markPublished(f.ID)
			count.Add(1)
			slog.Debug("Published file.", "fileId", f.ID, "fileName", f.Name, "messageId", msgID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(count.Load()), err
	}
	return int(count.Load()), nil
}

// Run polls every interval until ctx is done.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	for {
		n, err := p.PollOnce(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("Poll failed.", "error", err)
		} else if err == nil {
			slog.Info("Poll finished.", "published", n, "totalPublished", p.Published())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (p *Poller) wasPublished(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.published[id]
	return ok
}

func (p *Poller) markPublished(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[id] = struct{}{}
}
