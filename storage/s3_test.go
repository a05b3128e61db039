package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"riverflow/models"
)

// fakeS3 is an in-memory bucket recording the inputs of every put.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	inputs  map[string]*s3.PutObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		inputs:  make(map[string]*s3.PutObjectInput),
	}
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(params.Key)] = body
	f.inputs[aws.ToString(params.Key)] = params
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}
	if in := f.inputs[aws.ToString(params.Key)]; in != nil {
		out.ContentEncoding = in.ContentEncoding
	}
	return out, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(params.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func testStore(t *testing.T, compress bool) (*Store, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	store := New(fake, Options{
		Bucket:   "riverflow-data",
		Compress: compress,
		Encrypt:  true,
	})
	return store, fake
}

func sampleMonth(t *testing.T) (models.MonthKey, models.MonthlySeries) {
	t.Helper()
	ts := time.Date(2025, 12, 5, 17, 0, 0, 0, time.UTC)
	current := models.NewFlowReading(ts, 127.4, "cubic meters per second")
	return models.MonthKeyOf(ts), models.MonthlySeries{
		Station:      "Inniscarra",
		StationID:    "inniscarra",
		River:        "River Lee",
		Current:      &current,
		Readings:     []models.Reading{models.NewFlowReading(ts.Add(-time.Hour), 120, "cubic meters per second")},
		ReadingCount: 1,
		ParsedAt:     models.FormatTimestamp(ts),
		SourceHash:   "deadbeef",
	}
}

func TestRawKeyLayout(t *testing.T) {
	store, fake := testStore(t, false)
	ts := time.Date(2025, 12, 5, 17, 30, 45, 0, time.UTC)

	key, err := store.PutRaw(context.Background(), "inniscarra", "flow", ts, "application/pdf", []byte("%PDF"), "cafe")
	if err != nil {
		t.Fatalf("put raw: %v", err)
	}
	want := "raw/inniscarra/2025/12/05/inniscarra_flow_20251205_173045.pdf"
	if key != want {
		t.Errorf("raw key:\ngot  %s\nwant %s", key, want)
	}
	in := fake.inputs[key]
	if aws.ToString(in.ContentType) != "application/pdf" {
		t.Errorf("content type: %s", aws.ToString(in.ContentType))
	}
	if in.Metadata["content-hash"] != "cafe" {
		t.Errorf("content hash metadata missing: %v", in.Metadata)
	}
	if in.ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Errorf("encryption not applied")
	}
}

func TestMonthlyRoundTripCompressed(t *testing.T) {
	store, fake := testStore(t, true)
	month, series := sampleMonth(t)

	key, err := store.PutMonthly(context.Background(), "inniscarra", month, series)
	if err != nil {
		t.Fatalf("put monthly: %v", err)
	}
	want := "parsed/inniscarra/2025/12/inniscarra_flow_202512.json.gz"
	if key != want {
		t.Errorf("monthly key:\ngot  %s\nwant %s", key, want)
	}

	in := fake.inputs[key]
	if aws.ToString(in.ContentEncoding) != "gzip" {
		t.Errorf("content encoding: %v", in.ContentEncoding)
	}
	if in.Metadata["reading-count"] != "1" {
		t.Errorf("reading count metadata: %v", in.Metadata)
	}
	// The stored body must actually be gzip.
	if _, err := gzip.NewReader(bytes.NewReader(fake.objects[key])); err != nil {
		t.Fatalf("stored body is not gzip: %v", err)
	}

	got, err := store.GetMonthly(context.Background(), "inniscarra", month)
	if err != nil {
		t.Fatalf("get monthly: %v", err)
	}
	if got.Station != "Inniscarra" || got.ReadingCount != 1 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Current == nil || got.Current.Kind != models.KindFlow {
		t.Errorf("current reading lost its kind: %+v", got.Current)
	}
}

func TestGetMonthlyReadsUncompressedArchive(t *testing.T) {
	// A store configured to compress must still read months written before
	// compression was turned on.
	plain, fake := testStore(t, false)
	month, series := sampleMonth(t)
	if _, err := plain.PutMonthly(context.Background(), "inniscarra", month, series); err != nil {
		t.Fatalf("seed: %v", err)
	}

	compressed := New(fake, Options{Bucket: "riverflow-data", Compress: true})
	got, err := compressed.GetMonthly(context.Background(), "inniscarra", month)
	if err != nil {
		t.Fatalf("get monthly: %v", err)
	}
	if got.Station != "Inniscarra" {
		t.Errorf("unexpected series: %+v", got)
	}
}

func TestGetMonthlyNotFound(t *testing.T) {
	store, _ := testStore(t, true)
	_, err := store.GetMonthly(context.Background(), "inniscarra", models.MonthKey{Year: 2025, Month: time.January})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutLatestCacheHeaders(t *testing.T) {
	store, fake := testStore(t, true)
	ts := time.Date(2025, 12, 5, 17, 0, 0, 0, time.UTC)
	proj := models.LatestProjection{
		Station:   "Inniscarra",
		River:     "River Lee",
		Latest:    models.NewFlowReading(ts, 127.4, "cubic meters per second"),
		UpdatedAt: models.FormatTimestamp(ts),
	}

	key, err := store.PutLatest(context.Background(), "inniscarra", proj)
	if err != nil {
		t.Fatalf("put latest: %v", err)
	}
	if key != "aggregated/inniscarra_latest.json" {
		t.Errorf("latest key: %s", key)
	}
	in := fake.inputs[key]
	if aws.ToString(in.CacheControl) != "max-age=1800" {
		t.Errorf("cache control: %v", in.CacheControl)
	}
	if in.StorageClass != s3types.StorageClassStandard {
		t.Errorf("latest must stay in STANDARD, got %s", in.StorageClass)
	}

	got, err := store.GetLatest(context.Background(), "inniscarra")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if got.Latest.FlowRate != 127.4 {
		t.Errorf("round trip: %+v", got.Latest)
	}
}

func TestDailySummaryKey(t *testing.T) {
	store, _ := testStore(t, false)
	date := time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC)
	key, err := store.PutDailySummary(context.Background(), "inniscarra", date, map[string]int{"reading_count": 24})
	if err != nil {
		t.Fatalf("put daily summary: %v", err)
	}
	if key != "aggregated/inniscarra_daily_20251205.json" {
		t.Errorf("daily key: %s", key)
	}
}

func TestListRawIsChronological(t *testing.T) {
	store, _ := testStore(t, false)
	ctx := context.Background()
	times := []time.Time{
		time.Date(2025, 12, 5, 17, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 30, 23, 0, 0, 0, time.UTC),
		time.Date(2025, 12, 5, 16, 0, 0, 0, time.UTC),
	}
	for _, ts := range times {
		if _, err := store.PutRaw(ctx, "inniscarra", "flow", ts, "application/pdf", []byte("x"), "h"); err != nil {
			t.Fatalf("seed raw: %v", err)
		}
	}

	keys, err := store.ListRaw(ctx, "inniscarra")
	if err != nil {
		t.Fatalf("list raw: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	if !sort.StringsAreSorted(keys) {
		t.Errorf("keys not in ascending order: %v", keys)
	}
	if !strings.Contains(keys[0], "2025/11/30") {
		t.Errorf("oldest document must list first: %v", keys)
	}
}
