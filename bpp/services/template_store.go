package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gridshare/energy-bpp/bpp"
)

const templateCacheTTL = 5 * time.Minute

type templateDocument struct {
	Domain   string   `bson:"domain"`
	Action   string   `bson:"action"`
	Persona  string   `bson:"persona,omitempty"`
	Template bson.Raw `bson:"template"`
}

type templateFinder interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult
}

type cachedTemplate struct {
	body      map[string]any
	fetchedAt time.Time
}

// TemplateStore loads canned callback bodies from MongoDB, keyed by domain,
// callback action and optional persona. Results, including misses, are cached.
type TemplateStore struct {
	client     *mongo.Client
	collection templateFinder
	cache      *lru.Cache
	now        func() time.Time
}

func NewTemplateStore(ctx context.Context, cfg bpp.TemplatesConfig) (*TemplateStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to template store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping template store: %w", err)
	}

	store, err := newTemplateStore(client.Database(cfg.Database).Collection(cfg.Collection), cfg.CacheSize)
	if err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	store.client = client
	return store, nil
}

func newTemplateStore(collection templateFinder, cacheSize int) (*TemplateStore, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create template cache: %w", err)
	}
	return &TemplateStore{collection: collection, cache: cache, now: time.Now}, nil
}

// Lookup returns the template for (domain, action, persona). A persona
// specific template wins over the domain default. A nil map means there is
// no template.
func (s *TemplateStore) Lookup(ctx context.Context, domain, action, persona string) (map[string]any, error) {
	key := domain + "|" + action + "|" + persona
	if v, ok := s.cache.Get(key); ok {
		entry := v.(cachedTemplate)
		if s.now().Sub(entry.fetchedAt) < templateCacheTTL {
			return entry.body, nil
		}
		s.cache.Remove(key)
	}

	body, err := s.find(ctx, domain, action, persona)
	if err != nil {
		return nil, err
	}
	if body == nil && persona != "" {
		if body, err = s.find(ctx, domain, action, ""); err != nil {
			return nil, err
		}
	}

	s.cache.Add(key, cachedTemplate{body: body, fetchedAt: s.now()})
	return body, nil
}

func (s *TemplateStore) find(ctx context.Context, domain, action, persona string) (map[string]any, error) {
	filter := bson.M{"domain": domain, "action": action}
	if persona != "" {
		filter["persona"] = persona
	} else {
		filter["persona"] = bson.M{"$in": bson.A{nil, ""}}
	}

	var doc templateDocument
	if err := s.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load template %s/%s: %w", domain, action, err)
	}
	if len(doc.Template) == 0 {
		return nil, nil
	}

	raw, err := bson.MarshalExtJSON(doc.Template, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to convert template %s/%s: %w", domain, action, err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode template %s/%s: %w", domain, action, err)
	}
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

func (s *TemplateStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
