package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// BigQueryConfig names the table decoded records are streamed into.
type BigQueryConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	DatasetID       string `mapstructure:"dataset_id"`
	TableID         string `mapstructure:"table_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// Enabled reports whether enough of the config is set to open a store.
func (c BigQueryConfig) Enabled() bool {
	return c.ProjectID != "" && c.DatasetID != "" && c.TableID != ""
}

// NewBigQueryClient opens a client with the configured credentials, falling
// back to application default credentials.
func NewBigQueryClient(ctx context.Context, cfg BigQueryConfig, logger zerolog.Logger, opts ...option.ClientOption) (*bigquery.Client, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("bigquery project id is required")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("using bigquery credentials file")
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// BigQueryStore streams records into a day-partitioned table.
type BigQueryStore struct {
	table    *bigquery.Table
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryStore checks that the table exists, creating it from the
// RecordPayload schema when it does not. The caller owns client.
func NewBigQueryStore(ctx context.Context, client *bigquery.Client, cfg BigQueryConfig, logger zerolog.Logger) (*BigQueryStore, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client is required")
	}
	if cfg.DatasetID == "" || cfg.TableID == "" {
		return nil, fmt.Errorf("bigquery dataset and table are required")
	}
	logger = logger.With().Str("dataset", cfg.DatasetID).Str("table", cfg.TableID).Logger()

	table := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	meta, err := table.Metadata(ctx)
	switch {
	case err == nil:
		logger.Info().Int("columns", len(meta.Schema)).Msg("bigquery table found")
	case isNotFound(err):
		schema, err := bigquery.InferSchema(RecordPayload{})
		if err != nil {
			return nil, fmt.Errorf("infer record schema: %w", err)
		}
		md := &bigquery.TableMetadata{
			Schema: schema,
			TimePartitioning: &bigquery.TimePartitioning{
				Type:  bigquery.DayPartitioningType,
				Field: "record_time",
			},
		}
		if err := table.Create(ctx, md); err != nil {
			return nil, fmt.Errorf("create table %s.%s: %w", cfg.DatasetID, cfg.TableID, err)
		}
		logger.Info().Msg("bigquery table created")
	default:
		return nil, fmt.Errorf("table metadata %s.%s: %w", cfg.DatasetID, cfg.TableID, err)
	}

	return &BigQueryStore{table: table, inserter: table.Inserter(), logger: logger}, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// InsertRecords streams rows; row-level failures are logged individually.
func (s *BigQueryStore) InsertRecords(ctx context.Context, rows []RecordPayload) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.inserter.Put(ctx, rows); err != nil {
		var multi bigquery.PutMultiError
		if errors.As(err, &multi) {
			for _, rowErr := range multi {
				s.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("bigquery row rejected: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put: %w", err)
	}
	s.logger.Debug().Int("rows", len(rows)).Msg("records inserted")
	return nil
}

// Close is a no-op; the client belongs to the caller.
func (s *BigQueryStore) Close() error { return nil }
