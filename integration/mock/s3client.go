package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is an in-memory S3 used by the integration tests. Objects added
// with AddFile stay hidden from listings until DeliverAfter listings have
// been served, mimicking CloudTrail's delivery delay.
type S3Client struct {
	mu sync.Mutex

	// Maps bucket/key to file content
	Files map[string][]byte
	// Buckets that exist
	Buckets map[string]time.Time

	// DeliverAfter is the number of empty listings served before Files are visible.
	DeliverAfter int
	// Errors injected per operation name, e.g. "ListObjectsV2".
	Errors map[string]error

	// Calls counts invocations per operation name.
	Calls map[string]int
	// Created and Deleted record scratch bucket names in call order.
	Created []string
	Deleted []string
}

// NewS3Client creates a new mock S3 client
func NewS3Client(buckets ...string) *S3Client {
	m := &S3Client{
		Files:   make(map[string][]byte),
		Buckets: make(map[string]time.Time),
		Errors:  make(map[string]error),
		Calls:   make(map[string]int),
	}
	for _, b := range buckets {
		m.Buckets[b] = time.Unix(0, 0)
	}
	return m
}

// AddFile stores content under bucket/key.
func (m *S3Client) AddFile(bucket, key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[bucketKey(bucket, key)] = content
}

func (m *S3Client) call(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[op]++
	return m.Errors[op]
}

// ListBuckets implements aws.BucketClient.
func (m *S3Client) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	if err := m.call("ListBuckets"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &s3.ListBucketsOutput{}
	for name, created := range m.Buckets {
		out.Buckets = append(out.Buckets, types.Bucket{Name: aws.String(name), CreationDate: aws.Time(created)})
	}
	return out, nil
}

// CreateBucket implements aws.BucketClient.
func (m *S3Client) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if err := m.call("CreateBucket"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := aws.ToString(params.Bucket)
	if _, ok := m.Buckets[name]; ok {
		return nil, &types.BucketAlreadyOwnedByYou{Message: aws.String(name)}
	}
	m.Buckets[name] = time.Now()
	m.Created = append(m.Created, name)
	return &s3.CreateBucketOutput{Location: aws.String("/" + name)}, nil
}

// DeleteBucket implements aws.BucketClient.
func (m *S3Client) DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	if err := m.call("DeleteBucket"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := aws.ToString(params.Bucket)
	if _, ok := m.Buckets[name]; !ok {
		return nil, &types.NoSuchBucket{Message: aws.String(name)}
	}
	delete(m.Buckets, name)
	m.Deleted = append(m.Deleted, name)
	return &s3.DeleteBucketOutput{}, nil
}

// ListObjectsV2 implements aws.ObjectLister. Only the first page is served.
func (m *S3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := m.call("ListObjectsV2"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := aws.ToString(params.Bucket)
	if _, ok := m.Buckets[bucket]; !ok {
		return nil, &types.NoSuchBucket{Message: aws.String(bucket)}
	}
	out := &s3.ListObjectsV2Output{Name: params.Bucket, Prefix: params.Prefix}
	if m.Calls["ListObjectsV2"] <= m.DeliverAfter {
		return out, nil
	}

	limit := int(aws.ToInt32(params.MaxKeys))
	if limit <= 0 {
		limit = 1000
	}
	for _, key := range m.keys(bucket, aws.ToString(params.Prefix)) {
		if len(out.Contents) == limit {
			out.IsTruncated = aws.Bool(true)
			break
		}
		size := int64(len(m.Files[bucketKey(bucket, key)]))
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key), Size: aws.Int64(size)})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

// keys returns the sorted keys of bucket under prefix. Callers hold mu.
func (m *S3Client) keys(bucket, prefix string) []string {
	var keys []string
	for k := range m.Files {
		b, key, _ := strings.Cut(k, "/")
		if b == bucket && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func bucketKey(bucket, key string) string {
	return fmt.Sprintf("%s/%s", bucket, key)
}
