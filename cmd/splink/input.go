package splink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	splink "github.com/wilko77/splink"
	"github.com/wilko77/splink/pkg/backend"
	"github.com/wilko77/splink/pkg/config"
	"github.com/wilko77/splink/pkg/dialect"
	"github.com/wilko77/splink/pkg/em"
	"github.com/wilko77/splink/pkg/score"
	"github.com/wilko77/splink/pkg/settings"
	"github.com/wilko77/splink/pkg/types"
)

// loadSettings reads a settings document, JSON or YAML by extension.
func loadSettings(path string) (*settings.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings document: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return settings.ParseYAML(data)
	default:
		return settings.ParseJSON(data)
	}
}

// loadRecords reads one CSV table. The header row names the columns; empty
// cells become missing values.
func loadRecords(path string) ([]types.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("input table %s has no data rows", path)
	}

	header := rows[0]
	records := make([]types.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(types.Record, len(header))
		for i, col := range header {
			if i < len(row) && row[i] != "" {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// tableName derives a source dataset label from an input path.
func tableName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// loadParameters reads trained parameters written by the train command.
func loadParameters(path string) (*em.Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading parameters: %w", err)
	}
	params := &em.Parameters{}
	if err := json.Unmarshal(data, params); err != nil {
		return nil, fmt.Errorf("decoding parameters: %w", err)
	}
	return params, nil
}

// breakerConfig translates configured circuit breaker settings into the
// backend's tuning.
func breakerConfig(cfg config.CircuitBreakerConfig) backend.BreakerConfig {
	return backend.BreakerConfig{
		MaxRequests:      cfg.MaxRequests,
		Interval:         cfg.Interval,
		Timeout:          cfg.Timeout,
		ReadyToTripRatio: cfg.ReadyToTripRatio,
	}
}

// buildLinker assembles a linker from the settings document and input
// tables named on the command line.
func buildLinker(settingsPath string, inputs []string, extra ...splink.Option) (*splink.Linker, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	s, err := loadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	d, err := dialect.DefaultRegistry().Lookup(cfg.Engine.Dialect)
	if err != nil {
		return nil, err
	}

	var be backend.Backend = backend.NewMemory(nil, backend.WithWorkers(cfg.Engine.Workers))
	if cfg.CircuitBreaker.Enabled {
		be = backend.NewBreakerBackend(be, breakerConfig(cfg.CircuitBreaker), nil)
	}

	type namedTable struct {
		name    string
		records []types.Record
	}
	var allRecords []types.Record
	tables := make([]namedTable, 0, len(inputs))
	for _, path := range inputs {
		records, err := loadRecords(path)
		if err != nil {
			return nil, err
		}
		tables = append(tables, namedTable{name: tableName(path), records: records})
		allRecords = append(allRecords, records...)
	}

	opts := []splink.Option{splink.WithDialect(d)}
	if tfCols := s.TFColumns(); len(tfCols) > 0 {
		opts = append(opts, splink.WithTermFrequencyTable(score.ComputeTermFrequencies(allRecords, tfCols)))
	}
	opts = append(opts, extra...)

	linker, err := splink.New(s, be, opts...)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		if err := linker.RegisterTable(context.Background(), t.name, t.records); err != nil {
			return nil, err
		}
	}
	return linker, nil
}
