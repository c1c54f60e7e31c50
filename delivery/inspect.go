package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gurre/s3streamer"

	"github.com/gurre/trailcheck/logging"
)

// maxSampleEvents bounds the event names kept for logging.
const maxSampleEvents = 5

// ErrNoLogObject is returned when none of the keys looks like a CloudTrail log file.
var ErrNoLogObject = errors.New("no CloudTrail log object among listed keys")

// Record is the part of a CloudTrail event this tool reads.
type Record struct {
	EventTime   string `json:"eventTime"`
	EventSource string `json:"eventSource"`
	EventName   string `json:"eventName"`
	AWSRegion   string `json:"awsRegion"`
}

type logFile struct {
	Records []Record `json:"Records"`
}

// Inspection summarises one delivered log object.
type Inspection struct {
	Key         string
	RecordCount int
	SampleNames []string // "source:name" of the first records
}

// Inspector streams a delivered log object and decodes its records.
// s3streamer transparently decompresses the gzip payload.
type Inspector struct {
	streamer s3streamer.Streamer
	logger   *slog.Logger
}

// NewInspector creates an Inspector.
func NewInspector(streamer s3streamer.Streamer, logger *slog.Logger) (*Inspector, error) {
	if streamer == nil {
		return nil, errors.New("delivery: streamer must not be nil")
	}
	return &Inspector{streamer: streamer, logger: logging.OrDefault(logger)}, nil
}

// Inspect decodes the first key that looks like a CloudTrail log file.
func (in *Inspector) Inspect(ctx context.Context, bucket string, keys []string) (Inspection, error) {
	key, ok := pickLogKey(keys)
	if !ok {
		return Inspection{}, ErrNoLogObject
	}

	var buf bytes.Buffer
	err := in.streamer.Stream(ctx, bucket, key, 0, func(line []byte, _ int64) error {
		buf.Write(line)
		return nil
	})
	if err != nil {
		return Inspection{}, fmt.Errorf("failed to stream %s: %w", key, err)
	}

	ins, err := decodeLogFile(key, buf.Bytes())
	if err != nil {
		return Inspection{}, err
	}
	in.logger.Info("inspected CloudTrail log object", "key", key, "records", ins.RecordCount, "sample", ins.SampleNames)
	return ins, nil
}

func decodeLogFile(key string, data []byte) (Inspection, error) {
	var f logFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Inspection{}, fmt.Errorf("failed to decode log object %s: %w", key, err)
	}
	ins := Inspection{Key: key, RecordCount: len(f.Records)}
	for i, r := range f.Records {
		if i == maxSampleEvents {
			break
		}
		ins.SampleNames = append(ins.SampleNames, strings.TrimSuffix(r.EventSource, ".amazonaws.com")+":"+r.EventName)
	}
	return ins, nil
}

// pickLogKey skips digest files and anything that is not a gzipped log.
func pickLogKey(keys []string) (string, bool) {
	for _, k := range keys {
		if strings.Contains(k, "/CloudTrail/") && strings.HasSuffix(k, ".json.gz") {
			return k, true
		}
	}
	return "", false
}
