package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type feedStat struct {
	messages int64
	bytes    int64
}

var (
	errorsCollector int64
	errorsAPI       int64
	warnsCollector  int64
	warnsAPI        int64
	fetches         int64
	parseFailures   int64
	s3RawWrites     int64
	s3SeriesWrites  int64
	feeds           sync.Map // map[string]*feedStat
)

func recordWarn(component string) {
	if strings.Contains(component, "api") {
		atomic.AddInt64(&warnsAPI, 1)
	} else {
		atomic.AddInt64(&warnsCollector, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "api") {
		atomic.AddInt64(&errorsAPI, 1)
	} else {
		atomic.AddInt64(&errorsCollector, 1)
	}
}

// IncrementFetch records one successful upstream download of size bytes.
func IncrementFetch(size int) {
	atomic.AddInt64(&fetches, 1)
	recordFeed("upstream_fetch", size)
}

// IncrementParseFailure records a document the parsers could not make sense of.
func IncrementParseFailure() {
	atomic.AddInt64(&parseFailures, 1)
}

// IncrementS3RawWrite records one raw document archived to S3.
func IncrementS3RawWrite(size int64) {
	atomic.AddInt64(&s3RawWrites, 1)
	recordFeed("s3_raw_write", int(size))
}

// IncrementS3SeriesWrite records one parsed or aggregated object written to S3.
func IncrementS3SeriesWrite(size int64) {
	atomic.AddInt64(&s3SeriesWrites, 1)
	recordFeed("s3_series_write", int(size))
}

func RecordFeedMessage(name string, size int) {
	recordFeed(name, size)
}

func recordFeed(name string, size int) {
	v, _ := feeds.LoadOrStore(name, &feedStat{})
	fs := v.(*feedStat)
	atomic.AddInt64(&fs.messages, 1)
	atomic.AddInt64(&fs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and feed statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	feedData := map[string]map[string]int64{}
	feeds.Range(func(k, v any) bool {
		name := k.(string)
		fs := v.(*feedStat)
		feedData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&fs.messages),
			"bytes":    atomic.LoadInt64(&fs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_collector": atomic.LoadInt64(&errorsCollector),
		"errors_api":       atomic.LoadInt64(&errorsAPI),
		"warns_collector":  atomic.LoadInt64(&warnsCollector),
		"warns_api":        atomic.LoadInt64(&warnsAPI),
		"fetches":          atomic.LoadInt64(&fetches),
		"parse_failures":   atomic.LoadInt64(&parseFailures),
		"s3_raw_writes":    atomic.LoadInt64(&s3RawWrites),
		"s3_series_writes": atomic.LoadInt64(&s3SeriesWrites),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memStats.Used) / 1024 / 1024,
		"disk_mb":          int64(diskStats.Used) / 1024 / 1024,
		"feeds":            feedData,
		"net_bytes_sent":   int64(bytesSent),
		"net_bytes_recv":   int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsCollector"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_collector"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsAPI"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_api"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsCollector"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_collector"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsAPI"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_api"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Fetches"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["fetches"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ParseFailures"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["parse_failures"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("S3RawWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["s3_raw_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("S3SeriesWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["s3_series_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range feedData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("FeedMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Feed"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("FeedBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Feed"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
