package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig configures ObjectStore's connection to an S3/MinIO
// endpoint (mirrors the teacher's artifact.StorageConfig).
type ObjectStoreConfig struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// ObjectStore is a Store backend for large artifact bodies that
// benefit from object storage instead of a row or local file: prompts
// and responses for suites with very large code blobs, served through
// the minio-go client exactly as the teacher's artifact package does.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

const (
	objPrefix     = "artifacts"
	objCollection = "collections"
)

// NewObjectStore creates an ObjectStore and ensures its bucket exists.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: create client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("objstore: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("objstore: create bucket: %w", err)
		}
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

func artifactKey(id string) string   { return fmt.Sprintf("%s/%s/responses.json", objPrefix, id) }
func evalKey(id string) string       { return fmt.Sprintf("%s/%s/eval.json", objPrefix, id) }
func collectionKey(name string) string { return fmt.Sprintf("%s/%s.json", objCollection, name) }

func (s *ObjectStore) putJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("objstore: marshal: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("objstore: put %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) getJSON(ctx context.Context, key string, v any) error {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("objstore: get %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var mErr minio.ErrorResponse
		if errors.As(err, &mErr) && mErr.Code == "NoSuchKey" {
			return ErrNotFound
		}
		return fmt.Errorf("objstore: read %s: %w", key, err)
	}
	if _, statErr := obj.Stat(); statErr != nil {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("objstore: decode %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) WriteArtifact(ctx context.Context, a Artifact) error {
	return s.putJSON(ctx, artifactKey(a.ID), a)
}

func (s *ObjectStore) ReadArtifact(ctx context.Context, id string) (Artifact, error) {
	var a Artifact
	if err := s.getJSON(ctx, artifactKey(id), &a); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

func (s *ObjectStore) ListArtifacts(ctx context.Context) ([]Artifact, error) {
	var out []Artifact
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: objPrefix + "/", Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("objstore: list artifacts: %w", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, "responses.json") {
			continue
		}
		var a Artifact
		if err := s.getJSON(ctx, obj.Key, &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *ObjectStore) DeleteArtifact(ctx context.Context, id string) error {
	cols, err := s.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, c := range cols {
		for _, m := range c.Members {
			if m == id {
				return ErrCollectionNotEmpty
			}
		}
	}
	if err := s.client.RemoveObject(ctx, s.bucket, artifactKey(id), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("objstore: delete artifact: %w", err)
	}
	_ = s.client.RemoveObject(ctx, s.bucket, evalKey(id), minio.RemoveObjectOptions{})
	return nil
}

func (s *ObjectStore) WriteEvalResult(ctx context.Context, r EvalResult) error {
	return s.putJSON(ctx, evalKey(r.ArtifactID), r)
}

func (s *ObjectStore) ReadEvalResult(ctx context.Context, artifactID string) (EvalResult, error) {
	var r EvalResult
	if err := s.getJSON(ctx, evalKey(artifactID), &r); err != nil {
		return EvalResult{}, err
	}
	return r, nil
}

func (s *ObjectStore) CreateCollection(ctx context.Context, name string, artifactIDs []string) (Collection, error) {
	if _, err := s.ReadCollection(ctx, name); err == nil {
		return Collection{}, ErrCollectionExists
	}
	var meta ArtifactMeta
	if len(artifactIDs) > 0 {
		first, err := s.ReadArtifact(ctx, artifactIDs[0])
		if err != nil {
			return Collection{}, err
		}
		meta = first.Meta
	}
	c := Collection{Name: name, Members: append([]string(nil), artifactIDs...), Meta: meta}
	if err := s.putJSON(ctx, collectionKey(name), c); err != nil {
		return Collection{}, err
	}
	return c, nil
}

func (s *ObjectStore) ReadCollection(ctx context.Context, name string) (Collection, error) {
	var c Collection
	if err := s.getJSON(ctx, collectionKey(name), &c); err != nil {
		return Collection{}, err
	}
	return c, nil
}

func (s *ObjectStore) ListCollections(ctx context.Context) ([]Collection, error) {
	var out []Collection
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: objCollection + "/", Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("objstore: list collections: %w", obj.Err)
		}
		var c Collection
		if err := s.getJSON(ctx, obj.Key, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *ObjectStore) AddToCollection(ctx context.Context, name string, artifactID string) error {
	if _, err := s.ReadArtifact(ctx, artifactID); err != nil {
		return err
	}
	c, err := s.ReadCollection(ctx, name)
	if err != nil {
		return err
	}
	for _, m := range c.Members {
		if m == artifactID {
			return nil
		}
	}
	if len(c.Members) == 0 {
		first, err := s.ReadArtifact(ctx, artifactID)
		if err == nil {
			c.Meta = first.Meta
		}
	}
	c.Members = append(c.Members, artifactID)
	return s.putJSON(ctx, collectionKey(name), c)
}

func (s *ObjectStore) RemoveFromCollection(ctx context.Context, name string, artifactID string) error {
	c, err := s.ReadCollection(ctx, name)
	if err != nil {
		return err
	}
	members := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m != artifactID {
			members = append(members, m)
		}
	}
	c.Members = members
	return s.putJSON(ctx, collectionKey(name), c)
}

func (s *ObjectStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, collectionKey(name), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("objstore: delete collection: %w", err)
	}
	return nil
}
