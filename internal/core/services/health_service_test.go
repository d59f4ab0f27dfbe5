package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"picpic.sync/internal/config"
	"picpic.sync/internal/core/domain"
)

type fakeStatusClient struct {
	healthErr error
	tools     []domain.ToolInfo
	toolsErr  error
}

func (c *fakeStatusClient) Health(ctx context.Context) (*domain.ServerHealth, error) {
	if c.healthErr != nil {
		return nil, c.healthErr
	}
	return &domain.ServerHealth{Status: "ok", Version: "1.2.0"}, nil
}

func (c *fakeStatusClient) Tools(ctx context.Context) ([]domain.ToolInfo, error) {
	if c.toolsErr != nil {
		return nil, c.toolsErr
	}
	return c.tools, nil
}

func allTools() []domain.ToolInfo {
	tools := make([]domain.ToolInfo, len(RequiredTools))
	for i, name := range RequiredTools {
		tools[i] = domain.ToolInfo{Name: name}
	}
	return tools
}

func healthyConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	paths := map[string]string{
		"renders": filepath.Join(root, "renders"),
		"assets":  filepath.Join(root, "assets"),
		"reports": filepath.Join(root, "reports"),
	}
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return &config.Config{
		ServerURL:   "http://localhost:3333",
		PushURL:     "ws://localhost:3333/ws",
		WorkDir:     root,
		OutputPaths: paths,
	}
}

func recordByName(t *testing.T, report *HealthReport, name string) HealthRecord {
	t.Helper()
	for _, rec := range report.Records {
		if rec.Name == name {
			return rec
		}
	}
	t.Fatalf("no record named %q in %+v", name, report.Records)
	return HealthRecord{}
}

func TestRunAllChecksPass(t *testing.T) {
	api := &fakeStatusClient{tools: allTools()}
	svc := NewHealthService(api, healthyConfig(t))

	report := svc.Run(context.Background())

	if !report.Healthy() {
		t.Fatalf("report unhealthy: %+v", report.Records)
	}
	if report.Score != 100 || report.Passed != 5 || report.Total != 5 {
		t.Errorf("score/passed/total = %d/%d/%d, want 100/5/5",
			report.Score, report.Passed, report.Total)
	}
	if report.State != MonitorHealthy {
		t.Errorf("state = %s, want healthy", report.State)
	}
	if svc.State() != MonitorHealthy {
		t.Errorf("service state = %s, want healthy", svc.State())
	}
}

func TestRunAllChecksAlwaysExecute(t *testing.T) {
	// The reachability check fails first, but every later check must still
	// run and be reported.
	api := &fakeStatusClient{
		healthErr: errors.New("connection refused"),
		toolsErr:  errors.New("connection refused"),
	}
	svc := NewHealthService(api, healthyConfig(t))

	report := svc.Run(context.Background())

	if len(report.Records) != 5 {
		t.Fatalf("records = %d, want all 5", len(report.Records))
	}
	if report.Passed != 3 {
		t.Errorf("passed = %d, want 3 (filesystem checks unaffected)", report.Passed)
	}
	if report.Score != 60 {
		t.Errorf("score = %d, want 60", report.Score)
	}
	if report.State != MonitorUnhealthy {
		t.Errorf("state = %s, want unhealthy", report.State)
	}
}

func TestScoreRounding(t *testing.T) {
	cases := []struct {
		passed, total, want int
	}{
		{5, 5, 100},
		{4, 5, 80},
		{4, 6, 67},
		{1, 3, 33},
		{2, 3, 67},
		{0, 5, 0},
		{0, 0, 0},
	}
	for _, tc := range cases {
		if got := scoreOf(tc.passed, tc.total); got != tc.want {
			t.Errorf("scoreOf(%d, %d) = %d, want %d", tc.passed, tc.total, got, tc.want)
		}
	}
}

func TestMissingToolsOrdered(t *testing.T) {
	// Expose only two tools; the failure detail must list the remaining
	// three in the declared required order.
	api := &fakeStatusClient{tools: []domain.ToolInfo{
		{Name: "get_variable_defs"},
		{Name: "get_image"},
	}}
	svc := NewHealthService(api, healthyConfig(t))

	report := svc.Run(context.Background())
	rec := recordByName(t, report, CheckCapabilities)

	if rec.Status != CheckFail {
		t.Fatalf("capabilities status = %s, want fail", rec.Status)
	}
	want := "missing tools: get_code, get_code_connect_map, create_design_system_rules"
	if rec.Detail != want {
		t.Errorf("detail = %q, want %q", rec.Detail, want)
	}
}

func TestWorkDirCheckFailures(t *testing.T) {
	api := &fakeStatusClient{tools: allTools()}

	t.Run("missing directory", func(t *testing.T) {
		cfg := healthyConfig(t)
		cfg.WorkDir = filepath.Join(t.TempDir(), "does-not-exist")
		report := NewHealthService(api, cfg).Run(context.Background())
		if rec := recordByName(t, report, CheckWorkDir); rec.Status != CheckFail {
			t.Errorf("workdir status = %s, want fail", rec.Status)
		}
	})

	t.Run("file in place of directory", func(t *testing.T) {
		cfg := healthyConfig(t)
		file := filepath.Join(t.TempDir(), "not-a-dir")
		if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg.WorkDir = file
		report := NewHealthService(api, cfg).Run(context.Background())
		if rec := recordByName(t, report, CheckWorkDir); rec.Status != CheckFail {
			t.Errorf("workdir status = %s, want fail", rec.Status)
		}
	})
}

func TestConfigurationCheckReportsMissingKeys(t *testing.T) {
	api := &fakeStatusClient{tools: allTools()}
	cfg := healthyConfig(t)
	cfg.PushURL = ""
	cfg.OutputPaths = nil

	report := NewHealthService(api, cfg).Run(context.Background())
	rec := recordByName(t, report, CheckConfiguration)

	if rec.Status != CheckFail {
		t.Fatalf("configuration status = %s, want fail", rec.Status)
	}
	want := "missing configuration keys: push_url, output_paths"
	if rec.Detail != want {
		t.Errorf("detail = %q, want %q", rec.Detail, want)
	}
}

func TestFixCreatesMissingWorkDir(t *testing.T) {
	api := &fakeStatusClient{tools: allTools()}
	cfg := healthyConfig(t)
	cfg.WorkDir = filepath.Join(t.TempDir(), "fresh", "workdir")

	svc := NewHealthService(api, cfg)
	report := svc.Fix(context.Background())

	if !report.Healthy() {
		t.Fatalf("post-fix report unhealthy: %+v", report.Records)
	}
	if len(report.Remediated) != 1 || report.Remediated[0] != CheckWorkDir {
		t.Errorf("remediated = %v, want [%s]", report.Remediated, CheckWorkDir)
	}
	if info, err := os.Stat(cfg.WorkDir); err != nil || !info.IsDir() {
		t.Errorf("workdir not created by fix: %v", err)
	}
}

func TestFixMarksNonRemediableFailures(t *testing.T) {
	api := &fakeStatusClient{
		healthErr: errors.New("connection refused"),
		toolsErr:  errors.New("connection refused"),
	}
	svc := NewHealthService(api, healthyConfig(t))

	report := svc.Fix(context.Background())

	if report.Healthy() {
		t.Fatal("report healthy despite unreachable server")
	}
	want := map[string]bool{CheckServerReachable: true, CheckCapabilities: true}
	if len(report.NonRemediable) != 2 {
		t.Fatalf("non-remediable = %v, want the two server checks", report.NonRemediable)
	}
	for _, name := range report.NonRemediable {
		if !want[name] {
			t.Errorf("unexpected non-remediable check %q", name)
		}
	}
}

func TestHealthyGateDefaultsTrue(t *testing.T) {
	svc := NewHealthService(&fakeStatusClient{}, healthyConfig(t))
	if !svc.Healthy() {
		t.Error("gate must be open before the first cycle")
	}

	svc.Run(context.Background())
	// fakeStatusClient with no tools fails capabilities, closing the gate.
	if svc.Healthy() {
		t.Error("gate open despite failed cycle")
	}
}
