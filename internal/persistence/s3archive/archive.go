// Package s3archive copies snapshots to an S3-compatible bucket (AWS S3 or
// MinIO) as JSON documents, one object per repository version.
package s3archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/persistence"
)

// Config holds the bucket settings. Credentials fall back to the default AWS
// chain when AccessKeyID is empty.
type Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string // optional; enables a custom endpoint such as MinIO
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	// IncludePasswords stores password hashes in the archived document.
	IncludePasswords bool
}

// Archive implements persistence.SnapshotArchive.
type Archive struct {
	client           *s3.Client
	bucket           string
	prefix           string
	includePasswords bool
}

// New creates an archive from cfg.
func New(ctx context.Context, cfg Config, optFns ...func(*s3.Options)) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3archive: bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3archive: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, append([]func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}}, optFns...)...)

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Archive{client: client, bucket: cfg.Bucket, prefix: prefix, includePasswords: cfg.IncludePasswords}, nil
}

type document struct {
	RepositoryVersion int64                `json:"repository_version"`
	SavedAt           time.Time            `json:"saved_at"`
	Entities          []documentRecord     `json:"entities"`
	Passwords         map[entity.ID]string `json:"passwords,omitempty"`
}

type documentRecord struct {
	ID      entity.ID       `json:"id"`
	Type    string          `json:"type"`
	Version int64           `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// Key returns the object key of a version. Versions are zero padded so that
// lexical order matches numeric order.
func (a *Archive) Key(version int64) string {
	return fmt.Sprintf("%ssnapshot-%020d.json", a.prefix, version)
}

// ArchiveSnapshot uploads s.
func (a *Archive) ArchiveSnapshot(ctx context.Context, s persistence.Snapshot) error {
	doc := document{RepositoryVersion: s.RepositoryVersion, SavedAt: s.SavedAt.UTC()}
	for _, r := range s.Entities {
		doc.Entities = append(doc.Entities, documentRecord(r))
	}
	if a.includePasswords && len(s.Passwords) > 0 {
		doc.Passwords = s.Passwords
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("s3archive: encode snapshot %d: %w", s.RepositoryVersion, err)
	}
	key := a.Key(s.RepositoryVersion)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"repository-version": strconv.FormatInt(s.RepositoryVersion, 10)},
	})
	if err != nil {
		return fmt.Errorf("s3archive: put %s: %w", key, err)
	}
	return nil
}

// Fetch downloads an archived snapshot.
func (a *Archive) Fetch(ctx context.Context, version int64) (persistence.Snapshot, error) {
	key := a.Key(version)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return persistence.Snapshot{}, fmt.Errorf("s3archive: %s: %w", key, persistence.ErrNotFound)
		}
		return persistence.Snapshot{}, fmt.Errorf("s3archive: get %s: %w", key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return persistence.Snapshot{}, fmt.Errorf("s3archive: read %s: %w", key, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return persistence.Snapshot{}, fmt.Errorf("s3archive: %s: %w: %v", key, persistence.ErrCorrupt, err)
	}
	s := persistence.Snapshot{RepositoryVersion: doc.RepositoryVersion, SavedAt: doc.SavedAt, Passwords: doc.Passwords}
	for _, r := range doc.Entities {
		s.Entities = append(s.Entities, persistence.Record(r))
	}
	if s.Passwords == nil {
		s.Passwords = make(map[entity.ID]string)
	}
	return s, nil
}

// Versions lists the archived versions, newest first.
func (a *Archive) Versions(ctx context.Context) ([]int64, error) {
	var versions []int64
	var token *string
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(a.prefix + "snapshot-"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3archive: list: %w", err)
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), a.prefix+"snapshot-")
			v, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
			if err != nil {
				continue
			}
			versions = append(versions, v)
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	return versions, nil
}

var _ persistence.SnapshotArchive = (*Archive)(nil)
