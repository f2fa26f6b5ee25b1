// Package blobstore archives raw workflow export files in S3 so a fresh
// instance can rebuild its index without re-uploading every set file.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wfmeta/workflow-agent/pkg/errors"
	"github.com/wfmeta/workflow-agent/pkg/logging"
)

const keyPrefix = "xml-exports/"

// Store archives set files in an S3 bucket
type Store struct {
	client *s3.Client
	bucket string
	logger *logging.StructuredLogger
}

// NewStore creates an S3-backed archive. Credentials come from the default
// AWS chain (env, shared config, instance role).
func NewStore(ctx context.Context, bucket, region string, logger *logging.StructuredLogger) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.NewErrorBuilder("blobstore", "init").
			DependencyError("s3", fmt.Sprintf("loading AWS configuration: %v", err))
	}
	return &Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		logger: logger.WithComponent("blobstore"),
	}, nil
}

// Put archives one set file under its name
func (s *Store) Put(ctx context.Context, setFile string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(keyFor(setFile)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.NewErrorBuilder("blobstore", "put").
			DependencyError("s3", fmt.Sprintf("archiving %s: %v", setFile, err))
	}
	s.logger.Info("set file archived", "set_file", setFile, "bytes", len(data))
	return nil
}

// Get retrieves one archived set file
func (s *Store) Get(ctx context.Context, setFile string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(keyFor(setFile)),
	})
	if err != nil {
		return nil, errors.NewErrorBuilder("blobstore", "get").
			DependencyError("s3", fmt.Sprintf("fetching %s: %v", setFile, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.NewErrorBuilder("blobstore", "get").
			DependencyError("s3", fmt.Sprintf("reading %s: %v", setFile, err))
	}
	return data, nil
}

// List returns the names of every archived set file
func (s *Store) List(ctx context.Context) ([]string, error) {
	var names []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(keyPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errors.NewErrorBuilder("blobstore", "list").
				DependencyError("s3", fmt.Sprintf("listing archive: %v", err))
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				names = append(names, strings.TrimPrefix(*obj.Key, keyPrefix))
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return names, nil
}

func keyFor(setFile string) string {
	// Set files are plain names; strip any path the caller left on them.
	return keyPrefix + path.Base(setFile)
}
