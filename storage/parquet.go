package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"riverflow/logger"
	"riverflow/models"
)

// parquetReading is the columnar row shape for the analytics export. Level
// and temperature are written as zero when absent; the kind column tells
// consumers which columns are meaningful.
type parquetReading struct {
	Station    string  `parquet:"name=station, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind       string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64"`
	FlowRate   float64 `parquet:"name=flow_rate_m3s, type=DOUBLE"`
	WaterLevel float64 `parquet:"name=water_level_m, type=DOUBLE"`
	Temp       float64 `parquet:"name=temperature_c, type=DOUBLE"`
	HasLevel   bool    `parquet:"name=has_level, type=BOOLEAN"`
	HasTemp    bool    `parquet:"name=has_temperature, type=BOOLEAN"`
}

// memoryFile implements source.ParquetFile over a byte buffer so files can be
// assembled without touching disk.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(name string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(name string) (source.ParquetFile, error)  { return m, nil }

func (m *memoryFile) Seek(offset int64, whence int) (int64, error) {
	// Write-only usage; the writer never seeks backwards.
	return int64(m.buffer.Len()), nil
}

func (m *memoryFile) Read(b []byte) (int, error)  { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                { return nil }
func (m *memoryFile) Bytes() []byte               { return m.buffer.Bytes() }

// ParquetExporter writes a station month as a parquet file under
// analytics/station={id}/{YYYY}/{MM}/ for downstream query engines. The
// export is additive; JSON under the parsed prefix stays authoritative.
type ParquetExporter struct {
	client      s3API
	bucket      string
	prefix      string
	compression string
	log         *logger.Entry
}

func NewParquetExporter(client s3API, bucket, prefix, compression string) *ParquetExporter {
	if prefix == "" {
		prefix = "analytics"
	}
	return &ParquetExporter{
		client:      client,
		bucket:      bucket,
		prefix:      prefix,
		compression: compression,
		log:         logger.GetLogger().WithComponent("parquet_exporter").WithFields(logger.Fields{"bucket": bucket}),
	}
}

// Export writes every reading of one station month.
func (e *ParquetExporter) Export(ctx context.Context, stationID string, month models.MonthKey, readings []models.Reading) (string, error) {
	if len(readings) == 0 {
		return "", nil
	}

	data, err := e.encode(stationID, readings)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/station=%s/%04d/%02d/%s_%s.parquet",
		e.prefix, stationID, month.Year, int(month.Month), stationID, month.String())

	input := &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"station-id":   stationID,
			"compression":  e.compression,
		},
	}
	if _, err := e.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload parquet %s: %w", key, err)
	}

	e.log.WithFields(logger.Fields{
		"key":      key,
		"readings": len(readings),
		"bytes":    len(data),
	}).Info("analytics export written")
	return key, nil
}

func (e *ParquetExporter) encode(stationID string, readings []models.Reading) ([]byte, error) {
	fw := newMemoryFile()
	pw, err := writer.NewParquetWriter(fw, new(parquetReading), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}

	switch e.compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, r := range readings {
		row := parquetReading{
			Station:   stationID,
			Kind:      string(r.Kind),
			Timestamp: r.Timestamp.UnixMilli(),
			FlowRate:  r.FlowRate,
		}
		if r.WaterLevel != nil {
			row.WaterLevel = *r.WaterLevel
			row.HasLevel = true
		}
		if r.Temperature != nil {
			row.Temp = *r.Temperature
			row.HasTemp = true
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet file: %w", err)
	}
	return fw.Bytes(), nil
}
