package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/propertydocumentfiler/internal/failure"
	"github.com/Lllllllleong/propertydocumentfiler/internal/models"
	"google.golang.org/api/iterator"
)

// firestoreMaxBatchWrites is the per-commit write limit of a Firestore batch.
const firestoreMaxBatchWrites = 500

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreLedger keeps one document per ledger row in a collection.
type FirestoreLedger struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreLedger returns a ledger stored in collection.
func NewFirestoreLedger(client *firestore.Client, collection string) *FirestoreLedger {
	return &FirestoreLedger{client: client, collection: collection}
}

// LoadAll reads every ledger document.
func (l *FirestoreLedger) LoadAll(ctx context.Context) ([]models.LedgerEntry, error) {
	it := l.client.Collection(l.collection).Documents(ctx)
	defer it.Stop()

	var entries []models.LedgerEntry
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, failure.Wrap("firestore.documents", err)
		}
		var entry models.LedgerEntry
		if err := doc.DataTo(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode ledger document %s: %w", doc.Ref.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Append writes a single ledger document.
func (l *FirestoreLedger) Append(ctx context.Context, entry models.LedgerEntry) error {
	if _, err := l.client.Collection(l.collection).NewDoc().Create(ctx, entry); err != nil {
		return failure.Wrap("firestore.create", err)
	}
	return nil
}

// AppendBatch commits all entries in one atomic batch.
func (l *FirestoreLedger) AppendBatch(ctx context.Context, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if len(entries) > firestoreMaxBatchWrites {
		return failure.New(failure.BadRequest, "firestore.batch",
			fmt.Errorf("batch of %d entries exceeds the %d write limit", len(entries), firestoreMaxBatchWrites))
	}
	coll := l.client.Collection(l.collection)
	batch := l.client.Batch()
	for _, entry := range entries {
		batch.Create(coll.NewDoc(), entry)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return failure.Wrap("firestore.batch.commit", err)
	}
	return nil
}
