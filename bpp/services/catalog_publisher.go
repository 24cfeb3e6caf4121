package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gridshare/energy-bpp/bpp"
	"github.com/gridshare/energy-bpp/bpp/database/models"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// CatalogPublisher pushes catalog snapshots to an S3-compatible bucket where
// the network's discovery side picks them up.
type CatalogPublisher struct {
	client objectPutter
	bucket string
	prefix string
}

func NewCatalogPublisher(ctx context.Context, cfg bpp.CatalogConfig) (*CatalogPublisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, "")),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newCatalogPublisher(client, cfg.Bucket, cfg.Prefix), nil
}

func newCatalogPublisher(client objectPutter, bucket, prefix string) *CatalogPublisher {
	return &CatalogPublisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (p *CatalogPublisher) key(catalogID string) string {
	return path.Join(p.prefix, "catalogs", catalogID+".json")
}

func (p *CatalogPublisher) Publish(ctx context.Context, snapshot *models.CatalogSnapshot) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog %s: %w", snapshot.CatalogID, err)
	}

	key := p.key(snapshot.CatalogID)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String("no-cache"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload catalog %s: %w", snapshot.CatalogID, err)
	}

	slog.Info("Catalog published",
		slog.String("type", "sys"),
		slog.String("catalog_id", snapshot.CatalogID),
		slog.String("key", key),
		slog.Int("items", len(snapshot.Items)),
	)
	return nil
}
