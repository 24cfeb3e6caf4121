package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gridshare/energy-bpp/bpp/database/models"
)

type fakePutter struct {
	key  string
	body []byte
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.key = *in.Key
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestCatalogPublisher_Publish(t *testing.T) {
	putter := &fakePutter{}
	p := newCatalogPublisher(putter, "bucket", "/p2p/")

	err := p.Publish(context.Background(), &models.CatalogSnapshot{
		CatalogID: "catalog-1",
		Items: []models.CatalogItem{{
			ID:                "item-1",
			AvailableQuantity: 3,
			Offers:            []models.CatalogOffer{{ID: "offer-1", Price: decimal.NewFromInt(6), ApplicableQuantity: 3}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "p2p/catalogs/catalog-1.json", putter.key)

	var got models.CatalogSnapshot
	require.NoError(t, json.Unmarshal(putter.body, &got))
	assert.Equal(t, 3.0, got.Items[0].AvailableQuantity)
}

type fakeFinder struct {
	docs  map[string]bson.M
	calls int
}

func (f *fakeFinder) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) *mongo.SingleResult {
	f.calls++
	m := filter.(bson.M)
	persona, _ := m["persona"].(string)
	key := m["action"].(string) + "|" + persona
	if doc, ok := f.docs[key]; ok {
		return mongo.NewSingleResultFromDocument(doc, nil, nil)
	}
	return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
}

func TestTemplateStore_Lookup(t *testing.T) {
	finder := &fakeFinder{docs: map[string]bson.M{
		"on_rating|": {
			"domain": "energy", "action": "on_rating",
			"template": bson.M{"message": bson.M{"feedback_form": bson.M{"url": "https://x"}}},
		},
		"on_track|prosumer": {
			"domain": "energy", "action": "on_track", "persona": "prosumer",
			"template": bson.M{"message": bson.M{"tracking": bson.M{"status": "active"}}},
		},
	}}
	store, err := newTemplateStore(finder, 16)
	require.NoError(t, err)
	ctx := context.Background()

	body, err := store.Lookup(ctx, "energy", "on_rating", "")
	require.NoError(t, err)
	require.NotNil(t, body)
	assert.Contains(t, body, "message")

	_, err = store.Lookup(ctx, "energy", "on_rating", "")
	require.NoError(t, err)
	assert.Equal(t, 1, finder.calls, "second lookup should hit the cache")

	body, err = store.Lookup(ctx, "energy", "on_track", "prosumer")
	require.NoError(t, err)
	assert.NotNil(t, body)

	body, err = store.Lookup(ctx, "energy", "on_support", "")
	require.NoError(t, err)
	assert.Nil(t, body)
}

type recordingPoster struct {
	url     string
	payload any
	err     error
}

func (r *recordingPoster) PostJSON(_ context.Context, url string, payload any) error {
	r.url, r.payload = url, payload
	return r.err
}

func TestNotifier_SwallowsFailures(t *testing.T) {
	poster := &recordingPoster{err: errors.New("down")}
	n := NewNotifier(poster, "https://hooks.example/seller")

	n.Notify(context.Background(), Notification{Event: EventOrderConfirmed, TransactionID: "txn-1"})
	assert.Equal(t, "https://hooks.example/seller", poster.url)
	note := poster.payload.(Notification)
	assert.WithinDuration(t, time.Now(), note.At, time.Minute)

	var disabled *Notifier
	disabled.Notify(context.Background(), Notification{})
}
