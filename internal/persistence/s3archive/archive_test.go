package s3archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/persistence"
)

// fakeBucket serves the subset of S3 the archive uses: PutObject, GetObject
// and ListObjectsV2 with path-style addressing.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k]))
		}
		b.WriteString("</ListBucketResult>")
		return xmlResponse(http.StatusOK, b.String()), nil
	case req.Method == http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeChunked(body)
		}
		f.objects[key] = body
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"ETag": {`"etag"`}}}, nil
	case req.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return xmlResponse(http.StatusNotFound, `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`), nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Header: http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
			"Content-Type":   {"application/json"},
		}}, nil
	}
	return &http.Response{StatusCode: http.StatusNotImplemented, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
}

func xmlResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{"Content-Type": {"application/xml"}}}
}

// decodeChunked strips aws-chunked framing: <hex>\r\n<data>\r\n ... 0\r\n<trailers>.
func decodeChunked(b []byte) []byte {
	var out []byte
	for {
		line, rest, ok := bytes.Cut(b, []byte("\r\n"))
		if !ok {
			return out
		}
		sizeHex, _, _ := bytes.Cut(line, []byte(";"))
		size, err := strconv.ParseInt(string(sizeHex), 16, 64)
		if err != nil || size == 0 || int64(len(rest)) < size {
			return out
		}
		out = append(out, rest[:size]...)
		b = bytes.TrimPrefix(rest[size:], []byte("\r\n"))
	}
}

func newTestArchive(t *testing.T, includePasswords bool) (*Archive, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: make(map[string][]byte)}
	archive, err := New(context.Background(), Config{
		Bucket:           "snapshots",
		Prefix:           "/scheduler/",
		Endpoint:         "https://mock.s3.local",
		AccessKeyID:      "AKIA",
		SecretAccessKey:  "SECRET",
		PathStyle:        true,
		IncludePasswords: includePasswords,
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: bucket}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return archive, bucket
}

func sampleSnapshot(version int64) persistence.Snapshot {
	user := entity.NewID(entity.TypeUser, 1)
	return persistence.Snapshot{
		RepositoryVersion: version,
		SavedAt:           time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC),
		Entities: []persistence.Record{
			{ID: user, Type: "user", Version: 2, Payload: []byte(`{"username":"alice"}`)},
		},
		Passwords: map[entity.ID]string{user: "$argon2id$hash"},
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	archive, bucket := newTestArchive(t, false)

	for _, v := range []int64{9, 10, 2} {
		if err := archive.ArchiveSnapshot(ctx, sampleSnapshot(v)); err != nil {
			t.Fatalf("ArchiveSnapshot(%d) failed: %v", v, err)
		}
	}
	if _, ok := bucket.objects["scheduler/snapshot-00000000000000000010.json"]; !ok {
		t.Fatalf("unexpected object keys: %v", bucket.objects)
	}

	versions, err := archive.Versions(ctx)
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if len(versions) != 3 || versions[0] != 10 || versions[2] != 2 {
		t.Fatalf("unexpected versions %v", versions)
	}

	got, err := archive.Fetch(ctx, 10)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got.RepositoryVersion != 10 || len(got.Entities) != 1 || string(got.Entities[0].Payload) != `{"username":"alice"}` {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if len(got.Passwords) != 0 {
		t.Fatalf("passwords archived without IncludePasswords: %v", got.Passwords)
	}
}

func TestArchiveIncludesPasswordsWhenEnabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	archive, _ := newTestArchive(t, true)

	if err := archive.ArchiveSnapshot(ctx, sampleSnapshot(1)); err != nil {
		t.Fatalf("ArchiveSnapshot failed: %v", err)
	}
	got, err := archive.Fetch(ctx, 1)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got.Passwords[entity.NewID(entity.TypeUser, 1)] != "$argon2id$hash" {
		t.Fatalf("password not archived: %v", got.Passwords)
	}
}

func TestArchiveFetchMissing(t *testing.T) {
	t.Parallel()
	archive, _ := newTestArchive(t, false)

	if _, err := archive.Fetch(context.Background(), 42); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing bucket to fail")
	}
}
