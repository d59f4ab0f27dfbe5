package services

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"picpic.sync/internal/config"
	"picpic.sync/internal/core/logger"
	"picpic.sync/internal/core/ports"
)

type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckFail CheckStatus = "fail"
)

type MonitorState string

const (
	MonitorIdle      MonitorState = "idle"
	MonitorChecking  MonitorState = "checking"
	MonitorHealthy   MonitorState = "healthy"
	MonitorUnhealthy MonitorState = "unhealthy"
)

// Check names; the remediation table is keyed on these.
const (
	CheckServerReachable = "server reachable"
	CheckCapabilities    = "server capabilities"
	CheckWorkDir         = "working directory"
	CheckConfiguration   = "configuration"
	CheckOutputPaths     = "output paths"
)

// RequiredTools is the capability listing the companion server must expose.
// Order matters: failure messages name missing tools in this order.
var RequiredTools = []string{
	"get_code",
	"get_variable_defs",
	"get_code_connect_map",
	"get_image",
	"create_design_system_rules",
}

const reachabilityTimeout = 5 * time.Second

// DefaultMonitorInterval is the continuous-monitoring cadence.
const DefaultMonitorInterval = 30 * time.Second

// HealthRecord is one named check's outcome for a single cycle.
type HealthRecord struct {
	Name   string         `json:"name"`
	Status CheckStatus    `json:"status"`
	Detail string         `json:"detail"`
	Data   map[string]any `json:"data,omitempty"`
}

// HealthReport aggregates one full check cycle.
type HealthReport struct {
	State         MonitorState   `json:"state"`
	Score         int            `json:"score"`
	Passed        int            `json:"passed"`
	Total         int            `json:"total"`
	Records       []HealthRecord `json:"records"`
	CheckedAt     time.Time      `json:"checked_at"`
	Remediated    []string       `json:"remediated,omitempty"`
	NonRemediable []string       `json:"non_remediable,omitempty"`
}

// Healthy reports whether every check passed.
func (r *HealthReport) Healthy() bool {
	return r != nil && r.Passed == r.Total
}

// HealthService verifies the companion endpoint and the local filesystem
// prerequisites on demand or on a fixed interval. Checks never abort the
// cycle; every check always runs and is reported.
type HealthService struct {
	api ports.StatusClient
	cfg *config.Config

	mu    sync.Mutex
	state MonitorState
	last  *HealthReport
}

func NewHealthService(api ports.StatusClient, cfg *config.Config) *HealthService {
	return &HealthService{
		api:   api,
		cfg:   cfg,
		state: MonitorIdle,
	}
}

// State returns the monitor's current state.
func (s *HealthService) State() MonitorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastReport returns the most recent report, nil before the first cycle.
func (s *HealthService) LastReport() *HealthReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Healthy is the connection manager's reconnect gate. With no report yet it
// answers true so the first connection attempt is never blocked.
func (s *HealthService) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last == nil || s.last.Healthy()
}

type namedCheck struct {
	name string
	run  func(ctx context.Context) (string, map[string]any, error)
}

func (s *HealthService) checks() []namedCheck {
	return []namedCheck{
		{CheckServerReachable, s.checkReachable},
		{CheckCapabilities, s.checkCapabilities},
		{CheckWorkDir, s.checkWorkDir},
		{CheckConfiguration, s.checkConfiguration},
		{CheckOutputPaths, s.checkOutputPaths},
	}
}

// Run executes one full check cycle. Score = round(100 * passed / total).
func (s *HealthService) Run(ctx context.Context) *HealthReport {
	s.mu.Lock()
	s.state = MonitorChecking
	s.mu.Unlock()

	checks := s.checks()
	report := &HealthReport{
		Total:     len(checks),
		CheckedAt: time.Now(),
	}

	for _, check := range checks {
		detail, data, err := check.run(ctx)
		rec := HealthRecord{Name: check.name, Data: data}
		if err != nil {
			rec.Status = CheckFail
			rec.Detail = err.Error()
		} else {
			rec.Status = CheckPass
			rec.Detail = detail
			report.Passed++
		}
		report.Records = append(report.Records, rec)
	}

	report.Score = scoreOf(report.Passed, report.Total)
	if report.Healthy() {
		report.State = MonitorHealthy
	} else {
		report.State = MonitorUnhealthy
	}

	s.mu.Lock()
	s.state = report.State
	s.last = report
	s.mu.Unlock()
	return report
}

// scoreOf computes the aggregate score as round(100 * passed / total).
func scoreOf(passed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(passed) / float64(total)))
}

// remediations maps check names to their corrective filesystem action.
func (s *HealthService) remediations() map[string]func() error {
	createOutputPaths := func() error {
		for _, path := range s.cfg.OutputPaths {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
		}
		return nil
	}
	return map[string]func() error{
		CheckWorkDir:       func() error { return os.MkdirAll(s.cfg.WorkDir, 0o755) },
		CheckConfiguration: createOutputPaths,
		CheckOutputPaths:   createOutputPaths,
	}
}

// Fix runs a cycle, applies known remediations to the failures, then
// re-runs the full cycle and reports that second pass. Failures with no
// known remediation are listed as non-remediable.
func (s *HealthService) Fix(ctx context.Context) *HealthReport {
	first := s.Run(ctx)

	var remediated, nonRemediable []string
	fixes := s.remediations()
	for _, rec := range first.Records {
		if rec.Status != CheckFail {
			continue
		}
		fix, ok := fixes[rec.Name]
		if !ok {
			nonRemediable = append(nonRemediable, rec.Name)
			continue
		}
		if err := fix(); err != nil {
			logger.Error("remediation failed", "check", rec.Name, "error", err)
			nonRemediable = append(nonRemediable, rec.Name)
			continue
		}
		remediated = append(remediated, rec.Name)
	}

	second := s.Run(ctx)
	second.Remediated = remediated
	second.NonRemediable = nonRemediable
	return second
}

// Monitor runs cycles on a fixed interval until ctx is cancelled. There is
// no backoff; the cadence is unconditional.
func (s *HealthService) Monitor(ctx context.Context, interval time.Duration, onReport func(*HealthReport)) {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report := s.Run(ctx)
		if onReport != nil {
			onReport(report)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *HealthService) checkReachable(ctx context.Context) (string, map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, reachabilityTimeout)
	defer cancel()

	start := time.Now()
	health, err := s.api.Health(ctx)
	if err != nil {
		return "", nil, err
	}
	detail := fmt.Sprintf("status %q in %s", health.Status, time.Since(start).Round(time.Millisecond))
	return detail, map[string]any{"status": health.Status, "version": health.Version}, nil
}

func (s *HealthService) checkCapabilities(ctx context.Context) (string, map[string]any, error) {
	tools, err := s.api.Tools(ctx)
	if err != nil {
		return "", nil, err
	}

	available := make(map[string]bool, len(tools))
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		available[t.Name] = true
		names = append(names, t.Name)
	}

	var missing []string
	for _, required := range RequiredTools {
		if !available[required] {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return "", map[string]any{"available": names},
			fmt.Errorf("missing tools: %s", strings.Join(missing, ", "))
	}
	return fmt.Sprintf("all %d required tools available", len(RequiredTools)),
		map[string]any{"available": names}, nil
}

func (s *HealthService) checkWorkDir(ctx context.Context) (string, map[string]any, error) {
	dir := s.cfg.WorkDir
	info, err := os.Stat(dir)
	if err != nil {
		return "", nil, fmt.Errorf("working directory missing: %s", dir)
	}
	if !info.IsDir() {
		return "", nil, fmt.Errorf("working directory is not a directory: %s", dir)
	}
	if err := probeWrite(dir); err != nil {
		return "", nil, fmt.Errorf("working directory not writable: %w", err)
	}
	return fmt.Sprintf("writable: %s", dir), nil, nil
}

func (s *HealthService) checkConfiguration(ctx context.Context) (string, map[string]any, error) {
	if missing := s.cfg.MissingKeys(); len(missing) > 0 {
		return "", nil, fmt.Errorf("missing configuration keys: %s", strings.Join(missing, ", "))
	}
	for kind, path := range s.cfg.OutputPaths {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", nil, fmt.Errorf("cannot create output path %s (%s): %w", kind, path, err)
		}
	}
	return fmt.Sprintf("%d keys present, %d output paths created",
		len(config.RequiredKeys), len(s.cfg.OutputPaths)), nil, nil
}

func (s *HealthService) checkOutputPaths(ctx context.Context) (string, map[string]any, error) {
	paths := s.cfg.CriticalPaths()
	var unwritable []string
	for _, path := range paths {
		if err := probeWrite(path); err != nil {
			unwritable = append(unwritable, path)
		}
	}
	if len(unwritable) > 0 {
		return "", nil, fmt.Errorf("paths not writable: %s", strings.Join(unwritable, ", "))
	}
	return fmt.Sprintf("all %d critical paths writable", len(paths)), nil, nil
}

// probeWrite verifies writability by creating, writing, and deleting a
// probe file inside dir.
func probeWrite(dir string) error {
	probe := filepath.Join(dir, ".picpic-sync-probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}
