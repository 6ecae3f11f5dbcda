package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/booking"
	"github.com/hackgods/clinic-appointment-booking/internal/cache"
	"github.com/hackgods/clinic-appointment-booking/internal/config"
	"github.com/hackgods/clinic-appointment-booking/internal/logging"
	"github.com/hackgods/clinic-appointment-booking/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
	"github.com/hackgods/clinic-appointment-booking/internal/slot"
	"github.com/hackgods/clinic-appointment-booking/internal/storeclient"
)

type SimConfig struct {
	Backend         string // http or memory
	Duration        time.Duration
	Workers         int
	Doctors         int
	Days            int
	BookingRatio    float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
	Client          config.ClientConfig
}

// DataPool holds the ids of appointments the workers have booked.
type DataPool struct {
	mu           sync.RWMutex
	appointments []string
}

func (dp *DataPool) AddAppointment(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return "", false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil:
		atomic.AddInt64(&om.Success, 1)
	case errors.Is(err, appointment.ErrConflict):
		atomic.AddInt64(&om.Conflict, 1)
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
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking    OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	List       OperationMetrics
	Check      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	store   appointment.Store
	pool    *DataPool
	log     zerolog.Logger
	prom    *metrics.Collector
	metrics Metrics
	dates   []slot.Date
}

var durations = []int{15, 30, 45, 60}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		boot := logging.New("dev", "info")
		boot.Fatal().Err(err).Msg("invalid config")
	}
	log := logging.New(cfg.Client.Env, cfg.Client.LogLevel).With().Str("service", "simulate").Logger()

	log.Info().Str("backend", cfg.Backend).Dur("duration", cfg.Duration).Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).Float64("reschedule", cfg.RescheduleRatio).
		Float64("cancel", cfg.CancelRatio).Float64("read", cfg.ReadRatio).Msg("simulator starting")

	gofakeit.Seed(time.Now().UnixNano())

	prom := metrics.NewCollector("booking_sim")
	var store appointment.Store
	switch cfg.Backend {
	case "memory":
		store = appointment.NewService(appointment.NewMemoryRepository(), redisclient.NewLocalLocker(),
			appointment.WithPolicy(cfg.Client.StatusPolicy))
	default:
		store = storeclient.New(cfg.Client, prom, storeclient.WithLogger(log))
	}

	sim := NewSimulator(cfg, store, log, prom, time.Now())
	if err := sim.Run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("simulation failed")
	}

	violations, err := sim.VerifyNoOverlap(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("final read failed")
	}

	sim.PrintReport(violations)
	if len(violations) > 0 {
		os.Exit(2)
	}
}

func NewSimulator(cfg SimConfig, store appointment.Store, log zerolog.Logger, prom *metrics.Collector, today time.Time) *Simulator {
	dates := make([]slot.Date, cfg.Days)
	for i := range dates {
		dates[i] = slot.Date(today.AddDate(0, 0, i+1).Format("2006-01-02"))
	}
	return &Simulator{
		config: cfg,
		store:  store,
		pool:   &DataPool{},
		log:    log,
		prom:   prom,
		dates:  dates,
	}
}

func loadConfig() (SimConfig, error) {
	client, err := config.LoadClient()
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{
		Backend:         getEnv("SIM_BACKEND", "http"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		Doctors:         getInt("SIM_DOCTORS", 5),
		Days:            getInt("SIM_DAYS", 3),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.1),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		Client:          client,
	}
	cfg.normalize()

	switch {
	case cfg.Backend != "http" && cfg.Backend != "memory":
		return cfg, fmt.Errorf("SIM_BACKEND must be http or memory, got %q", cfg.Backend)
	case cfg.Workers <= 0:
		return cfg, errors.New("SIM_WORKERS must be > 0")
	case cfg.Duration <= 0:
		return cfg, errors.New("SIM_DURATION must be > 0")
	case cfg.Doctors <= 0 || cfg.Days <= 0:
		return cfg, errors.New("SIM_DOCTORS and SIM_DAYS must be > 0")
	}
	return cfg, nil
}

func (c *SimConfig) normalize() {
	total := c.BookingRatio + c.RescheduleRatio + c.CancelRatio + c.ReadRatio
	if total > 0 {
		c.BookingRatio /= total
		c.RescheduleRatio /= total
		c.CancelRatio /= total
		c.ReadRatio /= total
	}
}

// Run drives one booking client per worker until the configured duration
// has passed.
func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(ctx, workerID)
			return nil
		})
	}
	err := g.Wait()

	s.log.Info().Msg("simulation complete")
	return err
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	client := booking.NewClient(s.store,
		booking.WithLogger(s.log.With().Int("worker", workerID).Logger()),
		booking.WithMetrics(s.prom),
		booking.WithPolicy(s.config.Client.StatusPolicy),
		booking.WithSettleTimeout(s.config.Client.SettleTimeout),
	)

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, client, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, client, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.CancelRatio:
			s.doCancel(ctx, client, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doList(ctx, client, rng)
			} else {
				s.doCheck(ctx, client, rng)
			}
		}
	}
}

func (s *Simulator) randomSlot(rng *rand.Rand) (doctor string, date slot.Date, start slot.TimeOfDay, duration int) {
	doctor = fmt.Sprintf("dr-%03d", rng.Intn(s.config.Doctors)+1)
	date = s.dates[rng.Intn(len(s.dates))]
	start = slot.TimeOfDay(8*60 + 15*rng.Intn(36))
	duration = durations[rng.Intn(len(durations))]
	return doctor, date, start, duration
}

// await waits for the task without letting the simulation deadline cut the
// settle step short.
func await(task *cache.Task) (*appointment.Appointment, error) {
	<-task.Done()
	res, err, _ := task.Result()
	return res, err
}

func (s *Simulator) doBooking(ctx context.Context, client *booking.Client, rng *rand.Rand) {
	doctor, date, start, duration := s.randomSlot(rng)

	began := time.Now()
	a, err := await(client.CreateAppointment(ctx, appointment.Draft{
		PatientID: "pt-" + strconv.Itoa(rng.Intn(10000)),
		DoctorID:  doctor,
		Date:      date,
		Time:      start,
		Duration:  duration,
		Reason:    "Consultation with " + gofakeit.Name(),
	}, cache.Hooks{}))
	if ctx.Err() != nil {
		return
	}

	if err == nil && a != nil {
		s.pool.AddAppointment(a.ID)
	}
	s.metrics.Booking.Record(time.Since(began), err)
}

func (s *Simulator) doReschedule(ctx context.Context, client *booking.Client, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	_, date, start, duration := s.randomSlot(rng)

	began := time.Now()
	_, err := await(client.RescheduleAppointment(ctx, id, date, start, duration, cache.Hooks{}))
	if ctx.Err() != nil {
		return
	}
	s.metrics.Reschedule.Record(time.Since(began), err)
}

func (s *Simulator) doCancel(ctx context.Context, client *booking.Client, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	began := time.Now()
	_, err := await(client.CancelAppointment(ctx, id, cache.Hooks{}))
	if ctx.Err() != nil {
		return
	}
	s.metrics.Cancel.Record(time.Since(began), err)
}

func (s *Simulator) doList(ctx context.Context, client *booking.Client, rng *rand.Rand) {
	doctor, date, _, _ := s.randomSlot(rng)

	began := time.Now()
	_, err := client.ListAppointments(ctx, appointment.ForDoctorDay(doctor, date))
	if ctx.Err() != nil {
		return
	}
	s.metrics.List.Record(time.Since(began), err)
}

func (s *Simulator) doCheck(ctx context.Context, client *booking.Client, rng *rand.Rand) {
	doctor, date, start, duration := s.randomSlot(rng)

	began := time.Now()
	_, err := client.CheckAvailability(ctx, doctor, date, start, duration, "")
	if ctx.Err() != nil {
		return
	}
	s.metrics.Check.Record(time.Since(began), err)
}

// Violation is a pair of slot-blocking appointments that overlap.
type Violation struct {
	A, B appointment.Appointment
}

// VerifyNoOverlap reads the whole store and reports every pair of
// slot-blocking appointments of one doctor and day that overlap.
func (s *Simulator) VerifyNoOverlap(ctx context.Context) ([]Violation, error) {
	all, err := s.store.List(ctx, appointment.Filter{})
	if err != nil {
		return nil, err
	}
	return findOverlaps(all), nil
}

func findOverlaps(all []appointment.Appointment) []Violation {
	byDay := make(map[string][]appointment.Appointment)
	for _, a := range all {
		if !a.Status.BlocksSlot() {
			continue
		}
		key := a.DoctorID + "|" + string(a.Date)
		byDay[key] = append(byDay[key], a)
	}

	var out []Violation
	for _, list := range byDay {
		for i := 0; i < len(list); i++ {
			ai, err := list[i].Interval()
			if err != nil {
				continue
			}
			for j := i + 1; j < len(list); j++ {
				aj, err := list[j].Interval()
				if err != nil {
					continue
				}
				if ai.Overlaps(aj) {
					out = append(out, Violation{A: list[i], B: list[j]})
				}
			}
		}
	}
	return out
}

func (s *Simulator) PrintReport(violations []Violation) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Backend: %s\n", s.config.Backend)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List doctor day", &s.metrics.List)
	printOperationReport("Check availability", &s.metrics.Check)

	if len(violations) == 0 {
		fmt.Println("Non-overlap invariant: OK")
		return
	}
	fmt.Printf("Non-overlap invariant: %d VIOLATIONS\n", len(violations))
	for _, v := range violations {
		fmt.Printf("  %s %s: %s %s vs %s %s\n", v.A.DoctorID, v.A.Date, v.A.ID, v.A.Time, v.B.ID, v.B.Time)
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
