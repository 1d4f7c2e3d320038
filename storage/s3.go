// Package storage spricht das S3-kompatible Bucket an, in dem die
// pg_dump-Archive der Studien-Datenbank abgelegt und rotiert werden.
package storage

import (
	"bytes"
	"context"
	"fmt"

	"neurostore/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// BackupStore kapselt Bucket und Endpoint des Backup-Ziels, damit der
// Aufrufer nur noch mit Objekt-Keys arbeitet.
type BackupStore struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewBackupStore erstellt den Client für das Backup-Bucket. Der Endpoint ist
// fest verdrahtet (HostnameImmutable), damit auch S3-kompatible Anbieter
// ohne virtuelles Hosting funktionieren.
func NewBackupStore(ctx context.Context, cfg *config.Config) (*BackupStore, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.BackupS3URL,
				SigningRegion:     cfg.BackupS3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.BackupS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.BackupS3Key, cfg.BackupS3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return &BackupStore{
		client:  s3.NewFromConfig(awsCfg),
		bucket:  cfg.BackupS3Bucket,
		baseURL: cfg.BackupS3URL,
	}, nil
}

// Upload legt ein Dump-Archiv unter key ab und gibt den Objekt-Link zurück.
func (b *BackupStore) Upload(ctx context.Context, key string, data []byte) (string, error) {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &b.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", b.baseURL, b.bucket, key), nil
}

// List liefert alle Objekte im Backup-Bucket.
func (b *BackupStore) List(ctx context.Context) ([]types.Object, error) {
	output, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: &b.bucket,
	})
	if err != nil {
		return nil, err
	}
	return output.Contents, nil
}

// Remove löscht ein Objekt aus dem Backup-Bucket.
func (b *BackupStore) Remove(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &b.bucket,
		Key:    &key,
	})
	return err
}
