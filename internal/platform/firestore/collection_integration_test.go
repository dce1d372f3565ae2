//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore/firestoretest"
)

type sampleEntity struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func TestCollectionIntegration(t *testing.T) {
	provider := firestoretest.NewProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	coll := pfirestore.NewCollection[sampleEntity](provider, "samples")
	if err := coll.Create(ctx, "sample-1", sampleEntity{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err := coll.Create(ctx, "sample-1", sampleEntity{Name: "dup"})
	type classifier interface{ IsConflict() bool }
	var cls classifier
	if !errors.As(err, &cls) || !cls.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, ref, err := coll.GetTx(ctx, tx, "sample-1")
		if err != nil {
			return err
		}
		doc.Data.Count++
		return tx.Set(ref, doc.Data)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	doc, err := coll.Get(ctx, "sample-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Data.Count != 2 {
		t.Fatalf("expected count=2, got %d", doc.Data.Count)
	}

	deleted, err := coll.DeleteWhere(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("count", ">=", 2)
	})
	if err != nil || deleted != 1 {
		t.Fatalf("delete where: deleted=%d err=%v", deleted, err)
	}

	_, err = coll.Get(ctx, "sample-1")
	type notFound interface{ IsNotFound() bool }
	var nf notFound
	if !errors.As(err, &nf) || !nf.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}

	canceled, cancelTx := context.WithCancel(context.Background())
	cancelTx()
	if err := provider.RunTransaction(canceled, func(context.Context, *firestore.Transaction) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
