package main

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-objectsink/config"
	"github.com/bitrise-io/go-objectsink/storage"
	"github.com/bitrise-io/go-objectsink/storage/miniostore"
	"github.com/bitrise-io/go-objectsink/storage/s3store"
	"github.com/bitrise-io/go-objectsink/storage/swiftstore"
	"github.com/bitrise-io/go-utils/v2/log"
)

func newClient(ctx context.Context, cfg config.Config, logger log.Logger) (storage.Client, error) {
	switch cfg.Backend {
	case config.BackendSwift:
		logger.Debugf("Connecting to Swift at %s as %s", cfg.Swift.AuthURL, cfg.Swift.AuthUser)
		store, err := swiftstore.New(ctx, swiftstore.Params{
			AuthURL:     cfg.Swift.AuthURL,
			User:        cfg.Swift.AuthUser,
			APIKey:      string(cfg.Swift.AuthAPIKey),
			Tenant:      cfg.Swift.AuthTenant,
			Domain:      cfg.Swift.AuthDomain,
			Region:      cfg.Swift.AuthRegion,
			Account:     cfg.Swift.Account,
			SSLVerify:   cfg.SSLVerify,
			HTTPRetries: cfg.Swift.HTTPRetries,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendS3:
		logger.Debugf("Using S3 in %s", cfg.S3.Region)
		store, err := s3store.New(ctx, s3store.Params{
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: string(cfg.S3.SecretAccessKey),
			Endpoint:        cfg.S3.Endpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendMinio:
		logger.Debugf("Using MinIO at %s", cfg.Minio.Endpoint)
		store, err := miniostore.New(miniostore.Params{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: string(cfg.Minio.SecretKey),
			Region:    cfg.Minio.Region,
			UseSSL:    cfg.Minio.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}
