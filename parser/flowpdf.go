package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"riverflow/logger"
	"riverflow/models"
)

// pdfTimestampLayout matches the hourly report cells, e.g. "05-Dec-25 17:00:00".
// The single-digit day form is accepted too.
const pdfTimestampLayout = "2-Jan-06 15:04:05"

// flowRowPattern recognizes one data row of the report once its text
// fragments are joined: timestamp, numeric value, units label.
var flowRowPattern = regexp.MustCompile(`^(\d{1,2}-[A-Za-z]{3}-\d{2} \d{1,2}:\d{2}:\d{2})\s+(-?\d+(?:\.\d+)?)\s+(\S.*)$`)

// FlowPDFParser extracts flow readings from the two-page hourly discharge
// report: page 1 carries the single current reading, page 2 the historical
// table with a title and header row ahead of the data.
type FlowPDFParser struct {
	StationID   string
	StationName string
	RiverName   string

	log *logger.Entry
}

func NewFlowPDFParser(stationID, stationName, riverName string) *FlowPDFParser {
	return &FlowPDFParser{
		StationID:   stationID,
		StationName: stationName,
		RiverName:   riverName,
		log:         logger.GetLogger().WithComponent("flow_pdf_parser").WithFields(logger.Fields{"station": stationID}),
	}
}

// Parse reads the PDF payload and returns the current reading plus at least
// one historical reading. Historical rows that fail to parse are skipped
// individually; the current reading has no such recovery.
func (p *FlowPDFParser) Parse(data []byte) (models.ParsedSeries, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return models.ParsedSeries{}, fmt.Errorf("%w: unreadable pdf: %v", ErrMalformedDocument, err)
	}

	pages := make([][]string, 0, reader.NumPage())
	for n := 1; n <= reader.NumPage(); n++ {
		lines, err := pageLines(reader.Page(n))
		if err != nil {
			return models.ParsedSeries{}, fmt.Errorf("%w: page %d: %v", ErrMalformedDocument, n, err)
		}
		pages = append(pages, lines)
	}

	return p.parsePages(pages)
}

// parsePages interprets the extracted text rows of the report: page 1 yields
// the current reading, page 2 the historical table.
func (p *FlowPDFParser) parsePages(pages [][]string) (models.ParsedSeries, error) {
	if len(pages) < 2 {
		return models.ParsedSeries{}, fmt.Errorf("%w: expected 2 pages, found %d", ErrMalformedDocument, len(pages))
	}

	current, err := p.parseCurrentPage(pages[0])
	if err != nil {
		return models.ParsedSeries{}, err
	}

	historical, err := p.parseHistoricalPage(pages[1])
	if err != nil {
		return models.ParsedSeries{}, err
	}

	p.log.WithFields(logger.Fields{
		"current_flow":    current.FlowRate,
		"historical_rows": len(historical),
	}).Debug("parsed flow report")

	return models.ParsedSeries{
		StationID:   p.StationID,
		StationName: p.StationName,
		RiverName:   p.RiverName,
		Current:     current,
		Historical:  historical,
		ParsedAt:    time.Now().UTC(),
	}, nil
}

// parseCurrentPage locates the first data row on page 1. Title and caption
// text never matches the row pattern, so scanning forward to the first match
// is equivalent to taking the first table row.
func (p *FlowPDFParser) parseCurrentPage(lines []string) (models.Reading, error) {
	if len(lines) == 0 {
		return models.Reading{}, fmt.Errorf("%w: page 1 has no extractable text", ErrMalformedDocument)
	}

	for _, line := range lines {
		reading, err := parseFlowRow(line)
		if err != nil {
			continue
		}
		return reading, nil
	}
	return models.Reading{}, fmt.Errorf("%w: page 1 has no parseable current reading", ErrMalformedDocument)
}

// parseHistoricalPage reads page 2, skipping the title and header rows, and
// collects every row that parses. Zero surviving rows is an error.
func (p *FlowPDFParser) parseHistoricalPage(lines []string) ([]models.Reading, error) {
	if len(lines) <= 2 {
		return nil, fmt.Errorf("%w: page 2 table too small (%d rows)", ErrMalformedDocument, len(lines))
	}

	readings := make([]models.Reading, 0, len(lines)-2)
	for i, line := range lines[2:] {
		reading, err := parseFlowRow(line)
		if err != nil {
			p.log.WithFields(logger.Fields{"row": i + 2, "error": err.Error()}).Debug("skipping unparseable historical row")
			continue
		}
		readings = append(readings, reading)
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("%w: every historical row failed to parse", ErrNoValidReadings)
	}
	return readings, nil
}

// parseFlowRow converts one joined row line into a flow reading.
func parseFlowRow(line string) (models.Reading, error) {
	m := flowRowPattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return models.Reading{}, fmt.Errorf("row %q does not match timestamp/value/units", line)
	}

	ts, err := parseReportTimestamp(m[1])
	if err != nil {
		return models.Reading{}, err
	}
	flowRate, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return models.Reading{}, fmt.Errorf("flow value %q: %w", m[2], err)
	}

	return models.NewFlowReading(ts, flowRate, strings.TrimSpace(m[3])), nil
}

// parseReportTimestamp reads the two-digit-year report timestamp. Two-digit
// years resolve to 2000-2068 or 1969-1999; only a year landing below 1970 is
// shifted forward two millennia.
func parseReportTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(pdfTimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	if t.Year() < 1970 {
		t = t.AddDate(2000, 0, 0)
	}
	return t, nil
}

// pageLines extracts text rows from a page top to bottom, joining each row's
// positioned fragments into one line. A horizontal gap wider than roughly a
// character's width becomes a single space; anything tighter is concatenated
// directly, which keeps glyph-level extraction from splitting cell contents.
func pageLines(page pdf.Page) ([]string, error) {
	if page.V.IsNull() {
		return nil, fmt.Errorf("page is empty")
	}
	rows, err := page.GetTextByRow()
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		line := joinRowTexts(row.Content)
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func joinRowTexts(texts []pdf.Text) string {
	var b strings.Builder
	prevEnd := 0.0
	for i, t := range texts {
		if i > 0 {
			gap := t.X - prevEnd
			sep := t.FontSize * 0.3
			if sep <= 0 {
				sep = 2
			}
			if gap > sep {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.S)
		prevEnd = t.X + t.W
	}
	return b.String()
}
