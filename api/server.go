// Package api serves the read side over HTTP: current conditions for every
// station and bounded historical windows, backed directly by the aggregated
// and parsed tiers in S3.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"riverflow/logger"
	"riverflow/models"
	"riverflow/series"
	"riverflow/storage"
)

// Reader is the slice of the storage layer the API reads from.
type Reader interface {
	GetLatest(ctx context.Context, stationID string) (models.LatestProjection, error)
	GetMonthly(ctx context.Context, stationID string, month models.MonthKey) (models.MonthlySeries, error)
}

// Options configures the server.
type Options struct {
	ListenAddr string
	// Stations is the ordered list of station IDs the API exposes.
	Stations []string
	// DefaultStation answers /history when no station parameter is given.
	DefaultStation string
	// DefaultWindowHours bounds /history when neither hours nor days is given.
	DefaultWindowHours int
}

// Server bundles the router and its dependencies.
type Server struct {
	opts   Options
	reader Reader
	engine *gin.Engine
	log    *logger.Entry

	// now is stubbed in tests.
	now func() time.Time
}

// New constructs a server with routes and middleware.
func New(opts Options, reader Reader) *Server {
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":8080"
	}
	if opts.DefaultWindowHours == 0 {
		opts.DefaultWindowHours = 24
	}
	if opts.DefaultStation == "" && len(opts.Stations) > 0 {
		opts.DefaultStation = opts.Stations[0]
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	s := &Server{
		opts:   opts,
		reader: reader,
		engine: engine,
		log:    logger.GetLogger().WithComponent("api"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.opts.ListenAddr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithFields(logger.Fields{"addr": s.opts.ListenAddr}).Info("api listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/latest", s.handleLatest)
	s.engine.GET("/history", s.handleHistory)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// handleLatest returns the current conditions for every station, or for one
// station when filtered. A station without stored data is skipped; it only
// becomes an error when no station has data at all.
func (s *Server) handleLatest(c *gin.Context) {
	stations := s.opts.Stations
	if filter := c.Query("station"); filter != "" {
		if !s.knownStation(filter) {
			c.JSON(http.StatusNotFound, errorBody(http.StatusNotFound, fmt.Sprintf("Unknown station: %s", filter)))
			return
		}
		stations = []string{filter}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	now := s.now()
	results := make([]gin.H, 0, len(stations))
	for _, id := range stations {
		proj, err := s.reader.GetLatest(ctx, id)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				s.log.WithError(err).WithFields(logger.Fields{"station": id}).Warn("latest read failed")
			}
			continue
		}
		results = append(results, latestEntry(id, proj, now))
	}

	if len(results) == 0 {
		c.JSON(http.StatusNotFound, errorBody(http.StatusNotFound, "No data available from any station"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp": models.FormatTimestamp(now),
		"stations":  results,
	})
}

// latestEntry flattens a stored projection into the response shape clients
// chart from. Field sets differ by station type.
func latestEntry(stationID string, proj models.LatestProjection, now time.Time) gin.H {
	reading := proj.Latest
	entry := gin.H{
		"stationId": stationID,
		"name":      proj.Station,
		"river":     proj.River,
		"timestamp": models.FormatTimestamp(reading.Timestamp),
		"dataAge":   int(now.Sub(reading.Timestamp).Minutes()),
	}

	switch reading.Kind {
	case models.KindFlow:
		entry["type"] = "flow"
		entry["flowRate"] = reading.FlowRate
		entry["unit"] = "m³/s"
		entry["status"] = series.StatusOf(reading.FlowRate)
	case models.KindLevel:
		entry["type"] = "water_level"
		entry["waterLevel"] = reading.WaterLevel
		entry["waterLevelUnit"] = "m"
		entry["temperature"] = reading.Temperature
		entry["temperatureUnit"] = "°C"
	}
	return entry
}

// handleHistory returns the readings of the current month that fall inside
// the requested window, oldest first, with summary statistics.
func (s *Server) handleHistory(c *gin.Context) {
	stationID := c.Query("station")
	if stationID == "" {
		stationID = s.opts.DefaultStation
	}

	hours := s.opts.DefaultWindowHours
	if hoursStr := c.Query("hours"); hoursStr != "" {
		parsed, err := strconv.Atoi(hoursStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, errorBody(http.StatusBadRequest, fmt.Sprintf("Invalid query parameter: hours=%s", hoursStr)))
			return
		}
		hours = parsed
	}
	// days overrides hours when both are present.
	if daysStr := c.Query("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, errorBody(http.StatusBadRequest, fmt.Sprintf("Invalid query parameter: days=%s", daysStr)))
			return
		}
		hours = parsed * 24
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	now := s.now()
	month, err := s.reader.GetMonthly(ctx, stationID, models.MonthKeyOf(now))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorBody(http.StatusNotFound, fmt.Sprintf("No historical data found for station: %s", stationID)))
			return
		}
		s.log.WithError(err).WithFields(logger.Fields{"station": stationID}).Error("history read failed")
		c.JSON(http.StatusInternalServerError, errorBody(http.StatusInternalServerError, "Error fetching historical data"))
		return
	}

	res := series.QueryRange(month.Readings, now, hours)
	cutoff := now.Add(-time.Duration(hours) * time.Hour)

	c.JSON(http.StatusOK, gin.H{
		"stationId":   stationID,
		"stationType": string(res.Kind),
		"timeRange": gin.H{
			"start": models.FormatTimestamp(cutoff),
			"end":   models.FormatTimestamp(now),
			"hours": hours,
		},
		"dataPoints": res.Points,
		"statistics": res.Statistics,
		"count":      len(res.Points),
	})
}

func (s *Server) knownStation(id string) bool {
	for _, known := range s.opts.Stations {
		if known == id {
			return true
		}
	}
	return false
}

func errorBody(code int, message string) gin.H {
	return gin.H{"error": message, "statusCode": code}
}
