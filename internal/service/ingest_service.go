package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"silo-data/internal/ingest"
	"silo-data/internal/repository"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// IngestService runs wide-format sensor exports through the ingestion
// pipeline. Sources: CSV stream, XLSX workbook, or a remote CSV URL.
type IngestService struct {
	pipeline   *ingest.Pipeline
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewIngestService(silos repository.SiloRepository, readings repository.ReadingRepository, timestampColumn string, logger *zap.Logger) *IngestService {
	httpClient := resty.New().
		SetTimeout(60 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &IngestService{
		pipeline:   ingest.NewPipeline(silos, readings, timestampColumn, logger),
		httpClient: httpClient,
		logger:     logger,
	}
}

// IngestCSV streams a wide-format CSV document through the pipeline.
func (s *IngestService) IngestCSV(ctx context.Context, r io.Reader) (*ingest.RunStats, error) {
	reader := csv.NewReader(r)
	// rows can be ragged when trailing silo columns are empty
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	return s.pipeline.Run(ctx, reader)
}

// IngestExcel runs the first sheet of an XLSX workbook through the pipeline.
func (s *IngestService) IngestExcel(ctx context.Context, r io.Reader) (*ingest.RunStats, error) {
	rows, err := ingest.NewExcelRowReader(r)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Run(ctx, rows)
}

// IngestFromURL downloads a CSV export from a remote endpoint and ingests it.
// The body is streamed, not buffered.
func (s *IngestService) IngestFromURL(ctx context.Context, url string) (*ingest.RunStats, error) {
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode())
	}

	s.logger.Info("ingesting remote export", zap.String("url", url))
	return s.IngestCSV(ctx, body)
}
