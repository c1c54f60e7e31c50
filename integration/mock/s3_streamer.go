package mock

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
)

// Stream provides a simplified implementation of s3streamer.Streamer for testing purposes.
// Files are stored uncompressed, so content is split into lines directly.
func (m *S3Client) Stream(ctx context.Context, bucket, key string, offset int64, fn func([]byte, int64) error) error {
	if err := m.call("Stream"); err != nil {
		return err
	}
	m.mu.Lock()
	content, ok := m.Files[bucketKey(bucket, key)]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("mock S3: key not found: %s", bucketKey(bucket, key))
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer

	lineNum := int64(0)
	for scanner.Scan() {
		if lineNum < offset {
			lineNum++
			continue
		}
		if err := fn(scanner.Bytes(), lineNum); err != nil {
			return err
		}
		lineNum++

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning lines: %w", err)
	}
	return nil
}
