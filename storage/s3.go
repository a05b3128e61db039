package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"riverflow/logger"
	"riverflow/models"
)

// ErrNotFound is returned when a requested object does not exist in the
// bucket. Callers distinguish it from transport failures.
var ErrNotFound = errors.New("object not found")

// latestCacheControl keeps the hot projection cacheable for 30 minutes,
// matching the hourly collection cadence.
const latestCacheControl = "max-age=1800"

// s3API is the slice of the S3 client the store uses. Tests substitute an
// in-memory fake.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Options configures a Store.
type Options struct {
	Bucket       string
	Keys         Keys
	Compress     bool
	Encrypt      bool
	StorageClass string
}

// Store reads and writes the tiered bucket layout.
type Store struct {
	client s3API
	opts   Options
	log    *logger.Entry
}

func New(client s3API, opts Options) *Store {
	if opts.Keys == (Keys{}) {
		opts.Keys = DefaultKeys()
	}
	if opts.StorageClass == "" {
		opts.StorageClass = "STANDARD"
	}
	return &Store{
		client: client,
		opts:   opts,
		log:    logger.GetLogger().WithComponent("storage").WithFields(logger.Fields{"bucket": opts.Bucket}),
	}
}

// PutRaw archives one source document exactly as downloaded. The sensor
// names the feed within the station: "flow" for PDFs, "level" or
// "temperature" for CSVs.
func (s *Store) PutRaw(ctx context.Context, stationID, sensor string, ts time.Time, contentType string, body []byte, contentHash string) (string, error) {
	ext := "csv"
	if contentType == "application/pdf" {
		ext = "pdf"
	}
	key := s.opts.Keys.Raw(stationID, sensor, ts, ext)

	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.opts.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String(contentType),
		StorageClass: s3types.StorageClass(s.opts.StorageClass),
		Metadata: map[string]string{
			"station-id":   stationID,
			"timestamp":    ts.UTC().Format(time.RFC3339),
			"content-hash": contentHash,
		},
	}
	if s.opts.Encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put raw %s: %w", key, err)
	}
	logger.IncrementS3RawWrite(int64(len(body)))
	s.log.WithFields(logger.Fields{"key": key, "bytes": len(body)}).Debug("raw document stored")
	return key, nil
}

// PutMonthly writes one station month, gzip-compressed when the store is
// configured to compress.
func (s *Store) PutMonthly(ctx context.Context, stationID string, month models.MonthKey, series models.MonthlySeries) (string, error) {
	key := s.opts.Keys.Monthly(stationID, month, s.opts.Compress)

	payload, err := json.MarshalIndent(series, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode monthly series: %w", err)
	}

	body := payload
	if s.opts.Compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return "", fmt.Errorf("compress monthly series: %w", err)
		}
		if err := gz.Close(); err != nil {
			return "", fmt.Errorf("compress monthly series: %w", err)
		}
		body = buf.Bytes()
	}

	metadata := map[string]string{
		"station-id":    stationID,
		"reading-count": strconv.Itoa(len(series.Readings)),
	}
	if series.Current != nil {
		metadata["timestamp"] = series.Current.Timestamp.Format(time.RFC3339)
	}

	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.opts.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String("application/json"),
		StorageClass: s3types.StorageClass(s.opts.StorageClass),
		Metadata:     metadata,
	}
	if s.opts.Compress {
		input.ContentEncoding = aws.String("gzip")
	}
	if s.opts.Encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put monthly %s: %w", key, err)
	}
	logger.IncrementS3SeriesWrite(int64(len(body)))
	s.log.WithFields(logger.Fields{
		"key":      key,
		"readings": len(series.Readings),
		"bytes":    len(body),
	}).Debug("monthly series stored")
	return key, nil
}

// GetMonthly reads one station month. Both the compressed and plain layouts
// are tried so archives written under either setting stay readable. A month
// with no stored object returns ErrNotFound.
func (s *Store) GetMonthly(ctx context.Context, stationID string, month models.MonthKey) (models.MonthlySeries, error) {
	keys := []string{
		s.opts.Keys.Monthly(stationID, month, s.opts.Compress),
		s.opts.Keys.Monthly(stationID, month, !s.opts.Compress),
	}

	var series models.MonthlySeries
	for _, key := range keys {
		data, err := s.getObject(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return models.MonthlySeries{}, err
		}
		if err := json.Unmarshal(data, &series); err != nil {
			return models.MonthlySeries{}, fmt.Errorf("decode monthly %s: %w", key, err)
		}
		return series, nil
	}
	return models.MonthlySeries{}, fmt.Errorf("monthly series %s %s: %w", stationID, month.String(), ErrNotFound)
}

// PutLatest replaces the station's hot projection. It always lands in the
// STANDARD class with a short cache window regardless of the archive
// settings.
func (s *Store) PutLatest(ctx context.Context, stationID string, proj models.LatestProjection) (string, error) {
	key := s.opts.Keys.Latest(stationID)

	payload, err := json.MarshalIndent(proj, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode latest projection: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.opts.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(payload),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String(latestCacheControl),
		StorageClass: s3types.StorageClassStandard,
		Metadata: map[string]string{
			"station-id": stationID,
			"timestamp":  proj.Latest.Timestamp.Format(time.RFC3339),
		},
	}
	if s.opts.Encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put latest %s: %w", key, err)
	}
	logger.IncrementS3SeriesWrite(int64(len(payload)))
	s.log.WithFields(logger.Fields{"key": key}).Debug("latest projection updated")
	return key, nil
}

// GetLatest reads the station's hot projection.
func (s *Store) GetLatest(ctx context.Context, stationID string) (models.LatestProjection, error) {
	data, err := s.getObject(ctx, s.opts.Keys.Latest(stationID))
	if err != nil {
		return models.LatestProjection{}, err
	}
	var proj models.LatestProjection
	if err := json.Unmarshal(data, &proj); err != nil {
		return models.LatestProjection{}, fmt.Errorf("decode latest projection: %w", err)
	}
	return proj, nil
}

// PutDailySummary stores one day's aggregate statistics.
func (s *Store) PutDailySummary(ctx context.Context, stationID string, date time.Time, summary interface{}) (string, error) {
	key := s.opts.Keys.DailySummary(stationID, date)

	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode daily summary: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.opts.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(payload),
		ContentType:  aws.String("application/json"),
		StorageClass: s3types.StorageClass(s.opts.StorageClass),
	}
	if s.opts.Encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put daily summary %s: %w", key, err)
	}
	return key, nil
}

// ListRaw returns every raw document key for a station in ascending
// lexicographic order, which for this layout is chronological order.
func (s *Store) ListRaw(ctx context.Context, stationID string) ([]string, error) {
	prefix := s.opts.Keys.RawStationPrefix(stationID)

	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.opts.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list raw %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

// GetRaw reads one archived source document by key.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, error) {
	return s.getObject(ctx, key)
}

// getObject fetches and, when needed, decompresses one object. Gzip payloads
// are recognized by key suffix, content encoding, or the gzip magic bytes,
// whichever the writer recorded.
func (s *Store) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	if isGzip(key, out.ContentEncoding, data) {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", key, err)
		}
		defer gz.Close()
		data, err = io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", key, err)
		}
	}
	return data, nil
}

func isGzip(key string, contentEncoding *string, data []byte) bool {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		return true
	}
	if contentEncoding != nil && *contentEncoding == "gzip" {
		return true
	}
	return len(key) > 3 && key[len(key)-3:] == ".gz"
}
