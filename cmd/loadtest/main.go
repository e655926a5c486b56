// Command loadtest гоняет сценарии заказов через HTTP API и печатает отчёт
// с процентилями задержек.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	idempotencyHeader = "Idempotency-Key"
	scenarioOp        = "scenario"
	maxResponseBytes  = 1 << 20
)

type loadMode string

const (
	modePlace         loadMode = "place"
	modePlaceCancel   loadMode = "place-cancel"
	modePlaceComplete loadMode = "place-complete"
)

// completePath — цепочка статусов до выдачи на самовывоз.
var completePath = []string{"accepted", "preparing", "ready_for_pickup", "completed"}

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	menuItem    string
	quantity    int
	customerTag string
	outputPath  string
}

func parseConfig(args []string, output io.Writer) (config, error) {
	var (
		cfg  config
		mode string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "base URL of the rms HTTP API")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to run; with -duration only applies when set explicitly")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 5m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(modePlace), "scenario: place | place-cancel | place-complete")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of place scenarios that also cancel (0..100)")
	fs.StringVar(&cfg.menuItem, "item", "espresso", "menu item to order")
	fs.IntVar(&cfg.quantity, "quantity", 1, "servings per order")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	fs.Visit(func(f *flag.Flag) { cfg.totalSet = cfg.totalSet || f.Name == "total" })
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.mode = loadMode(strings.TrimSpace(mode))

	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case !slices.Contains([]loadMode{modePlace, modePlaceCancel, modePlaceComplete}, c.mode):
		return fmt.Errorf("unsupported mode: %s", c.mode)
	case c.baseURL == "":
		return errors.New("addr is required")
	case c.duration < 0:
		return errors.New("duration must be >= 0")
	case c.duration == 0 && c.total <= 0:
		return errors.New("total must be > 0 when duration is not set")
	case c.duration > 0 && c.totalSet && c.total <= 0:
		return errors.New("total must be > 0 when explicitly set with duration")
	case c.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case c.timeout <= 0:
		return errors.New("timeout must be > 0")
	case c.cancelRate < 0 || c.cancelRate > 100:
		return errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(c.menuItem) == "":
		return errors.New("item is required")
	case c.quantity <= 0:
		return errors.New("quantity must be > 0")
	case strings.TrimSpace(c.customerTag) == "":
		return errors.New("customer-tag is required")
	}
	return nil
}

// target описывает границу прогона для отчёта.
func (c config) target() string {
	switch {
	case c.duration <= 0:
		return fmt.Sprintf("count:%d", c.total)
	case c.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", c.duration, c.total)
	default:
		return fmt.Sprintf("duration:%s", c.duration)
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run возвращает код выхода: 0 — все сценарии успешны, 1 — были ошибки, 2 — неверные флаги.
func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}

	client := &http.Client{
		Timeout: cfg.timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency,
			MaxIdleConnsPerHost: cfg.concurrency,
			IdleConnTimeout:     30 * time.Second,
		},
	}
	defer client.CloseIdleConnections()

	rep := runLoad(context.Background(), client, cfg)
	printReport(stdout, rep, cfg)
	if cfg.outputPath != "" {
		if err := saveReport(cfg.outputPath, rep); err != nil {
			_, _ = fmt.Fprintf(stderr, "failed to write report: %v\n", err)
			return 1
		}
	}
	if rep.Scenarios.Failed > 0 {
		return 1
	}
	return 0
}

func runLoad(ctx context.Context, client *http.Client, cfg config) report {
	started := time.Now()
	d := &driver{
		client: client,
		cfg:    cfg,
		rec:    newRecorder(),
		runID:  fmt.Sprintf("%d-%d", started.UnixNano(), os.Getpid()),
	}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				_ = d.runScenario(ctx, index)
			}
		}()
	}

	feed(ctx, jobs, cfg)
	wg.Wait()

	return d.rec.report(started, time.Since(started))
}

// feed раздаёт номера сценариев: ровно total штук или, с -duration, до истечения
// времени (и не больше total, если он задан явно).
func feed(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	bounded := cfg.duration <= 0 || cfg.totalSet
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	for i := 0; !bounded || i < cfg.total; i++ {
		select {
		case <-ctx.Done():
			return
		case jobs <- i:
		}
	}
}

type driver struct {
	client *http.Client
	cfg    config
	rec    *recorder
	runID  string
}

type orderView struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// statusError — неуспешный HTTP ответ.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (d *driver) runScenario(ctx context.Context, index int) (err error) {
	defer d.track(scenarioOp, time.Now(), &err)

	customer := fmt.Sprintf("%s-%s-%d", d.cfg.customerTag, d.runID, index)
	order, err := d.placeOrder(ctx, customer, fmt.Sprintf("lt-%s-%d", d.runID, index))
	if err != nil {
		return err
	}
	if order.ID == "" {
		return errors.New("place order returned empty order id")
	}

	switch {
	case d.cfg.mode == modePlaceComplete:
		for _, status := range completePath {
			if err := d.updateStatus(ctx, order.ID, status); err != nil {
				return err
			}
		}
	case d.cfg.mode == modePlaceCancel || cancels(index, d.cfg.cancelRate):
		return d.updateStatus(ctx, order.ID, "cancelled")
	}
	return nil
}

// track записывает длительность и исход вызова; вызывается через defer.
func (d *driver) track(op string, started time.Time, err *error) {
	d.rec.add(op, time.Since(started), *err)
}

func (d *driver) placeOrder(ctx context.Context, customerID, key string) (orderView, error) {
	body := map[string]any{
		"customer_id": customerID,
		"items": []map[string]any{
			{"menu_item_id": d.cfg.menuItem, "quantity": d.cfg.quantity},
		},
	}
	var order orderView
	err := d.call(ctx, "PlaceOrder", http.MethodPost, "/api/orders", key, body, http.StatusCreated, &order)
	return order, err
}

func (d *driver) updateStatus(ctx context.Context, orderID, status string) error {
	path := "/api/orders/" + orderID + "/status"
	return d.call(ctx, "UpdateStatus", http.MethodPatch, path, "", map[string]string{"status": status}, http.StatusOK, nil)
}

func (d *driver) call(ctx context.Context, op, method, path, key string, body any, want int, out any) (err error) {
	defer d.track(op, time.Now(), &err)

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.cfg.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	switch {
	case err != nil:
		return fmt.Errorf("read %s response: %w", op, err)
	case resp.StatusCode != want:
		return &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	case out == nil:
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// cancels решает, отменять ли сценарий index в режиме place при заданном проценте.
func cancels(index, rate int) bool {
	return rate > 0 && (rate >= 100 || index%100 < rate)
}

func printReport(w io.Writer, rep report, cfg config) {
	s := rep.Scenarios
	l := s.LatencyMs
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d ok=%d failed=%d error_rate=%.4f\n",
		cfg.mode, cfg.target(), s.Calls, s.OK, s.Failed, s.ErrorRate)
	_, _ = fmt.Fprintf(w, "elapsed=%.2fs throughput=%.2f/s\n", rep.ElapsedSeconds, rep.Throughput)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f mean=%.2f p50=%.2f p90=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		l.Min, l.Mean, l.P50, l.P90, l.P95, l.P99, l.Max)

	for _, op := range slices.Sorted(maps.Keys(rep.Operations)) {
		o := rep.Operations[op]
		_, _ = fmt.Fprintf(w, "%s: calls=%d ok=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			op, o.Calls, o.OK, o.Failed, o.ErrorRate, o.LatencyMs.P95)
	}
}
