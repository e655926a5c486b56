package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"
)

// latency — распределение задержек в миллисекундах.
type latency struct {
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P95  float64 `json:"p95"`
	P99  float64 `json:"p99"`
	Max  float64 `json:"max"`
}

// opReport — итог по одной операции или по сценариям целиком.
type opReport struct {
	Calls     int64            `json:"calls"`
	OK        int64            `json:"ok"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	ByStatus  map[string]int64 `json:"by_status"`
	LatencyMs latency          `json:"latency_ms"`
}

type report struct {
	StartedAt      time.Time           `json:"started_at"`
	ElapsedSeconds float64             `json:"elapsed_seconds"`
	Throughput     float64             `json:"scenarios_per_second"`
	Scenarios      opReport            `json:"scenarios"`
	Operations     map[string]opReport `json:"operations"`
}

type sample struct {
	status string
	ok     bool
	ms     float64
}

// recorder копит сырые замеры; сводка строится один раз в конце прогона.
type recorder struct {
	mu      sync.Mutex
	samples map[string][]sample
}

func newRecorder() *recorder {
	return &recorder{samples: make(map[string][]sample)}
}

// add учитывает вызов. status — HTTP код ответа, "ok" или "error" для сетевых сбоев.
func (r *recorder) add(op string, took time.Duration, err error) {
	s := sample{status: outcome(err), ok: err == nil, ms: float64(took.Microseconds()) / 1000}

	r.mu.Lock()
	r.samples[op] = append(r.samples[op], s)
	r.mu.Unlock()
}

func (r *recorder) report(started time.Time, elapsed time.Duration) report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := report{
		StartedAt:      started.UTC(),
		ElapsedSeconds: elapsed.Seconds(),
		Operations:     make(map[string]opReport, len(r.samples)),
	}
	for op, samples := range r.samples {
		if op == scenarioOp {
			out.Scenarios = summarize(samples)
			continue
		}
		out.Operations[op] = summarize(samples)
	}
	if elapsed > 0 {
		out.Throughput = float64(out.Scenarios.Calls) / elapsed.Seconds()
	}
	return out
}

func summarize(samples []sample) opReport {
	rep := opReport{
		Calls:    int64(len(samples)),
		ByStatus: make(map[string]int64),
	}
	ms := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.ok {
			rep.OK++
		}
		rep.ByStatus[s.status]++
		ms = append(ms, s.ms)
	}
	rep.Failed = rep.Calls - rep.OK
	if rep.Calls > 0 {
		rep.ErrorRate = float64(rep.Failed) / float64(rep.Calls)
	}
	rep.LatencyMs = summarizeLatency(ms)
	return rep
}

func summarizeLatency(ms []float64) latency {
	if len(ms) == 0 {
		return latency{}
	}
	sorted := slices.Sorted(slices.Values(ms))

	total := 0.0
	for _, v := range sorted {
		total += v
	}
	return latency{
		Min:  sorted[0],
		Mean: total / float64(len(sorted)),
		P50:  quantile(sorted, 0.50),
		P90:  quantile(sorted, 0.90),
		P95:  quantile(sorted, 0.95),
		P99:  quantile(sorted, 0.99),
		Max:  sorted[len(sorted)-1],
	}
}

// quantile линейно интерполирует между соседними значениями отсортированной выборки.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	i := int(pos)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (sorted[i+1]-sorted[i])*(pos-float64(i))
}

func outcome(err error) string {
	var se *statusError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &se):
		return strconv.Itoa(se.Code)
	default:
		return "error"
	}
}

// saveReport пишет отчёт в файл внутри рабочего каталога.
func saveReport(path string, rep report) error {
	clean := filepath.Clean(path)
	if clean == "." || !filepath.IsLocal(clean) {
		return fmt.Errorf("report path must name a file inside the working directory: %q", path)
	}
	body, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	// #nosec G306 -- отчёт не содержит секретов.
	return os.WriteFile(clean, append(body, '\n'), 0o644)
}
