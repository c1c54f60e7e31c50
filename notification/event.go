package notification

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Event is the decoded form of an S3 bucket notification body.
type Event struct {
	Records []Record `json:"Records"`

	// Set instead of Records for the s3:TestEvent S3 sends when a
	// notification configuration is saved.
	Service string `json:"Service"`
	Event   string `json:"Event"`
	Bucket  string `json:"Bucket"`
}

// Record is one S3 event record.
type Record struct {
	EventSource string `json:"eventSource"`
	EventName   string `json:"eventName"`
	EventTime   string `json:"eventTime"`
	AWSRegion   string `json:"awsRegion"`
	S3          struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}

// ErrNotS3Event is returned for JSON bodies that are neither event records
// nor a test event.
var ErrNotS3Event = errors.New("body is not an S3 event notification")

// IsTestEvent reports whether the body was an s3:TestEvent.
func (e Event) IsTestEvent() bool { return e.Event == "s3:TestEvent" }

// Keys returns bucket/key for every record.
func (e Event) Keys() []string {
	keys := make([]string, 0, len(e.Records))
	for _, r := range e.Records {
		keys = append(keys, r.S3.Bucket.Name+"/"+r.S3.Object.Key)
	}
	return keys
}

// ParseEvent decodes an S3 event notification body.
func ParseEvent(body string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode notification: %w", err)
	}
	if len(ev.Records) == 0 && !ev.IsTestEvent() {
		return Event{}, ErrNotS3Event
	}
	return ev, nil
}
