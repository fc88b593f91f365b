package benchmark

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var summaryHeader = []string{
	"scenario", "resolution", "format", "fps",
	"total_ms", "decode_ms", "infer_ms", "postprocess_ms", "render_ms",
	"alloc_mb", "detections", "error_rate", "live_tensors",
}

// SaveResults writes the results as indented JSON plus a CSV summary into the
// output directory, both stamped with the suite clock.
//
// Returns:
//   - []string: The written files.
//   - error: An error if the directory or a file cannot be written.
func (s *Suite) SaveResults() ([]string, error) {
	results := s.Results()
	if s.opts.OutputDir == "" {
		return nil, errors.New("benchmark suite has no output directory")
	}
	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create output directory")
	}

	stamp := s.opts.Clock.Now().Format("2006-01-02_15-04-05")
	jsonPath := filepath.Join(s.opts.OutputDir, fmt.Sprintf("benchmark_results_%s.json", stamp))
	csvPath := filepath.Join(s.opts.OutputDir, fmt.Sprintf("benchmark_summary_%s.csv", stamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal results")
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write results file")
	}

	if err := writeSummaryFile(csvPath, results); err != nil {
		return nil, err
	}

	s.opts.Logger.Infow("benchmark results saved", "results", jsonPath, "summary", csvPath)
	return []string{jsonPath, csvPath}, nil
}

func writeSummaryFile(path string, results []PerformanceMetrics) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create summary file")
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return WriteSummary(f, results)
}

// WriteSummary writes one CSV row per result.
func WriteSummary(w io.Writer, results []PerformanceMetrics) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return errors.Wrap(err, "failed to write summary header")
	}

	ms := func(d interface{ Microseconds() int64 }) string {
		return strconv.FormatFloat(float64(d.Microseconds())/1000, 'f', 3, 64)
	}
	for _, r := range results {
		row := []string{
			r.Scenario.Name,
			r.Scenario.Resolution.Name,
			string(r.Scenario.ImageFormat),
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			ms(r.TotalDuration),
			ms(r.DecodeDuration),
			ms(r.InferenceDuration),
			ms(r.PostProcessDuration),
			ms(r.RenderDuration),
			strconv.FormatFloat(float64(r.MemoryStats.AllocBytes)/(1024*1024), 'f', 2, 64),
			strconv.Itoa(r.DetectionCount),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
			strconv.FormatInt(r.LiveTensors, 10),
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "failed to write summary row")
		}
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "failed to flush summary")
}
