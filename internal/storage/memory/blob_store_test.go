package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/shortlink-edge/internal/storage"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"applinks":{}}`)
	uri, err := store.PutObject(context.Background(), "wellknown/dub.sh/apple-app-site-association", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://wellknown/dub.sh/apple-app-site-association" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = '['

	obj, err := store.GetObject(context.Background(), "wellknown/dub.sh/apple-app-site-association")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(obj.Data) != `{"applinks":{}}` {
		t.Fatalf("expected stored copy to be immutable, got %q", obj.Data)
	}
	if obj.ContentType != "application/json" {
		t.Fatalf("unexpected content type %q", obj.ContentType)
	}
}

func TestBlobStoreGetObjectMissing(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().GetObject(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
