package persist

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const ctxTimeout = 10 * time.Second

// S3Store implements Store against an S3-compatible service (MinIO, AWS).
//
// Object layout:
//
//	bucketName/
//	└── [keyPrefix/]namespace/
//	    └── records/
//	        ├── <base64url of storage key>   # one object per record
//	        └── ...
//
// Storage keys are base64url-encoded in object names so arbitrary key
// strings survive S3 object-name rules.
type S3Store struct {
	// client is the MinIO client used to talk to the service.
	client *minio.Client

	// bucketName is the bucket all records live in.
	bucketName string

	// keyPrefix optionally prefixes every object, allowing several
	// applications to share one bucket.
	keyPrefix string

	// namespace scopes this store's objects, mirroring the directory
	// layout of the filesystem store.
	namespace string
}

// S3Config contains the configuration required to connect to S3 (MinIO).
type S3Config struct {
	Endpoint        string `json:"endpoint"`          // The endpoint for the S3 service.
	AccessKeyID     string `json:"access_key_id"`     // The Access Key ID for authentication.
	SecretAccessKey string `json:"secret_access_key"` // The Secret Access Key for authentication.
	Bucket          string `json:"bucket"`            // The bucket to use.
	KeyPrefix       string `json:"key_prefix"`        // Optional prefix for all objects.
	UseSSL          bool   `json:"use_ssl"`           // Whether to use SSL for the connection.
	Region          string `json:"region"`            // The region of the bucket.
}

// NewS3Store initializes an S3Store, creating the bucket when it does not
// exist yet.
func NewS3Store(config S3Config, namespace string) (*S3Store, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, fmt.Errorf("invalid namespace: %w", err)
	}
	if config.Endpoint == "" || config.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires endpoint and bucket")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  config.KeyPrefix,
		namespace:  namespace,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err = store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return store, nil
}

// NewS3StoreFromConfig initializes an S3Store from a generic StoreConfig.
func NewS3StoreFromConfig(config StoreConfig, namespace string) (*S3Store, error) {
	if config.Type != StoreTypeS3 {
		return nil, fmt.Errorf("invalid store type for S3: %s", config.Type)
	}

	// Round-trip the config map through JSON into the typed struct.
	configBytes, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var s3Config S3Config
	if err = json.Unmarshal(configBytes, &s3Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal S3 config: %w", err)
	}

	return NewS3Store(s3Config, namespace)
}

// recordsPrefix is the object-name prefix shared by every record object.
func (s3s *S3Store) recordsPrefix() string {
	parts := make([]string, 0, 3)
	if s3s.keyPrefix != "" {
		parts = append(parts, strings.Trim(s3s.keyPrefix, "/"))
	}
	parts = append(parts, s3s.namespace, "records")
	return strings.Join(parts, "/") + "/"
}

func (s3s *S3Store) objectNameFor(key string) string {
	return s3s.recordsPrefix() + base64.URLEncoding.EncodeToString([]byte(key))
}

func (s3s *S3Store) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	object, err := s3s.client.GetObject(ctx, s3s.bucketName, s3s.objectNameFor(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get record object: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if s3s.isNotFoundError(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read record object: %w", err)
	}
	return data, nil
}

func (s3s *S3Store) Put(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err := s3s.client.PutObject(ctx, s3s.bucketName, s3s.objectNameFor(key),
		bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to put record object: %w", err)
	}
	return nil
}

func (s3s *S3Store) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	err := s3s.client.RemoveObject(ctx, s3s.bucketName, s3s.objectNameFor(key), minio.RemoveObjectOptions{})
	if err != nil && !s3s.isNotFoundError(err) {
		return fmt.Errorf("failed to delete record object: %w", err)
	}
	return nil
}

func (s3s *S3Store) List(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	objectPrefix := s3s.recordsPrefix()
	var keys []string
	for object := range s3s.client.ListObjects(ctx, s3s.bucketName, minio.ListObjectsOptions{
		Prefix:    objectPrefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list record objects: %w", object.Err)
		}
		encoded := strings.TrimPrefix(object.Key, objectPrefix)
		decoded, err := base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			// Not one of ours
			continue
		}
		key := string(decoded)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s3s *S3Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to reach S3: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s3s.bucketName)
	}
	return nil
}

func (s3s *S3Store) Close() error {
	// The MinIO client holds no resources that need explicit release.
	return nil
}

func (s3s *S3Store) GetType() StoreType {
	return StoreTypeS3
}

func (s3s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		err = s3s.client.MakeBucket(ctx, s3s.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

func (s3s *S3Store) isNotFoundError(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
