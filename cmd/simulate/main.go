package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// simulate races concurrent patients for the same slots through the HTTP API
// and checks that every slot ends up with exactly one booking.
type SimConfig struct {
	APIBaseURL string
	Date       string
	Contenders int // concurrent requests per slot
	SlotLimit  int
	CancelRace bool
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeRateLimited
	outcomeError
)

type OperationMetrics struct {
	Total       int64
	Success     int64
	Conflict    int64
	RateLimited int64
	Error       int64
	Latencies   []time.Duration
	mu          sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeRateLimited:
		atomic.AddInt64(&om.RateLimited, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking OperationMetrics
	Cancel  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	metrics Metrics

	mu         sync.Mutex
	winners    map[string]int // slot -> successful bookings
	tokens     []string
	violations []string
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: date=%s contenders=%d slot_limit=%d cancel_race=%t",
		cfg.Date, cfg.Contenders, cfg.SlotLimit, cfg.CancelRace)

	gofakeit.Seed(time.Now().UnixNano())

	sim := &Simulator{
		config:  cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		winners: make(map[string]int),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	slots, err := sim.availableSlots(ctx)
	if err != nil {
		log.Fatalf("load availability: %v", err)
	}
	if len(slots) == 0 {
		log.Fatalf("no available slots on %s", cfg.Date)
	}
	if len(slots) > cfg.SlotLimit {
		slots = slots[:cfg.SlotLimit]
	}
	log.Printf("racing %d slots", len(slots))

	sim.RunBookingRace(ctx, slots)
	if cfg.CancelRace {
		sim.RunCancelRace(ctx)
	}

	sim.PrintReport()
	if len(sim.violations) > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL: strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Date:       getEnv("SIM_DATE", time.Now().AddDate(0, 0, 1).Format("2006-01-02")),
		Contenders: getInt("SIM_CONTENDERS", 8),
		SlotLimit:  getInt("SIM_SLOT_LIMIT", 12),
		CancelRace: getEnv("SIM_CANCEL_RACE", "true") == "true",
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Contenders < 2 {
		return fmt.Errorf("SIM_CONTENDERS must be >= 2")
	}
	if cfg.SlotLimit <= 0 {
		return fmt.Errorf("SIM_SLOT_LIMIT must be > 0")
	}
	if _, err := time.Parse("2006-01-02", cfg.Date); err != nil {
		return fmt.Errorf("SIM_DATE must be YYYY-MM-DD: %w", err)
	}
	return nil
}

func (s *Simulator) availableSlots(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/availability?date="+s.config.Date, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var day struct {
		Open      bool     `json:"open"`
		Degraded  bool     `json:"degraded"`
		Morning   []string `json:"morning"`
		Afternoon []string `json:"afternoon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&day); err != nil {
		return nil, err
	}
	if day.Degraded {
		log.Println("availability is degraded: calendar mirror unreachable")
	}
	return append(day.Morning, day.Afternoon...), nil
}

// RunBookingRace fires Contenders simultaneous bookings at every slot.
func (s *Simulator) RunBookingRace(ctx context.Context, slots []string) {
	var wg sync.WaitGroup
	for _, slot := range slots {
		start := make(chan struct{})
		for i := 0; i < s.config.Contenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				s.doBooking(ctx, slot)
			}()
		}
		close(start)
	}
	wg.Wait()

	for _, slot := range slots {
		if n := s.winners[slot]; n > 1 {
			s.violations = append(s.violations, fmt.Sprintf("slot %s booked %d times", slot, n))
		}
	}
	log.Println("booking race complete")
}

func (s *Simulator) doBooking(ctx context.Context, slot string) {
	body, _ := json.Marshal(map[string]string{
		"first_name": gofakeit.FirstName(),
		"last_name":  gofakeit.LastName(),
		"email":      gofakeit.Email(),
		"phone":      gofakeit.Phone(),
		"reason":     "Load simulation booking",
		"date":       s.config.Date,
		"time":       slot,
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Booking.Record(latency, outcomeError)
		return
	}
	defer resp.Body.Close()

	o := classify(resp.StatusCode, http.StatusCreated)
	if o == outcomeSuccess {
		var created struct {
			CancellationToken string `json:"cancellation_token"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&created)

		s.mu.Lock()
		s.winners[slot]++
		if created.CancellationToken != "" {
			s.tokens = append(s.tokens, created.CancellationToken)
		}
		s.mu.Unlock()
	}
	s.metrics.Booking.Record(latency, o)
}

// RunCancelRace cancels every booking twice at once; at most one may succeed.
func (s *Simulator) RunCancelRace(ctx context.Context) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := make(map[string]int)

	for _, token := range s.tokens {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.doCancel(ctx, token) {
					mu.Lock()
					successes[token]++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	for _, token := range s.tokens {
		if n := successes[token]; n > 1 {
			s.violations = append(s.violations, fmt.Sprintf("cancellation succeeded %d times for one booking", n))
		}
	}
	log.Println("cancel race complete")
}

func (s *Simulator) doCancel(ctx context.Context, token string) bool {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings/cancel/"+token, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Cancel.Record(latency, outcomeError)
		return false
	}
	defer resp.Body.Close()

	o := classify(resp.StatusCode, http.StatusOK)
	s.metrics.Cancel.Record(latency, o)
	return o == outcomeSuccess
}

func classify(status, want int) outcome {
	switch status {
	case want:
		return outcomeSuccess
	case http.StatusConflict:
		return outcomeConflict
	case http.StatusTooManyRequests:
		return outcomeRateLimited
	default:
		return outcomeError
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Date: %s\n", s.config.Date)
	fmt.Printf("Contenders per slot: %d\n", s.config.Contenders)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)

	if atomic.LoadInt64(&s.metrics.Booking.RateLimited) > 0 {
		fmt.Println("Note: rate limited requests hide contention, set BOOKING_RATE_LIMIT=0 on the server for load runs.")
		fmt.Println()
	}

	if len(s.violations) == 0 {
		fmt.Println("Invariants: OK (at most one booking per slot, one cancellation per booking)")
		return
	}
	fmt.Printf("Invariants: %d VIOLATIONS\n", len(s.violations))
	for _, v := range s.violations {
		fmt.Printf("  - %s\n", v)
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	limited := atomic.LoadInt64(&om.RateLimited)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if limited > 0 {
		fmt.Printf("  Rate limited: %d (%.1f%%)\n", limited, float64(limited)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
