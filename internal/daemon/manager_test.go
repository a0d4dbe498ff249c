package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/tally/internal/config"
)

// callLog records lifecycle calls across components in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type mockComponent struct {
	name         string
	dependencies []string
	log          *callLog
	initCalled   bool
	startCalled  bool
	stopCalled   bool
	initError    error
	startError   error
	stopError    error
	healthError  error
	healthResult *ComponentHealth
}

func newMockComponent(name string, dependencies []string) *mockComponent {
	return &mockComponent{
		name:         name,
		dependencies: dependencies,
		healthResult: &ComponentHealth{
			Name:    name,
			Healthy: true,
		},
	}
}

func (m *mockComponent) Name() string {
	return m.name
}

func (m *mockComponent) Dependencies() []string {
	return m.dependencies
}

func (m *mockComponent) Init(ctx context.Context) error {
	m.initCalled = true
	m.log.add("init:" + m.name)
	return m.initError
}

func (m *mockComponent) Start(ctx context.Context) error {
	m.startCalled = true
	m.log.add("start:" + m.name)
	return m.startError
}

func (m *mockComponent) Stop(ctx context.Context) error {
	m.stopCalled = true
	m.log.add("stop:" + m.name)
	return m.stopError
}

func (m *mockComponent) Health(ctx context.Context) (*ComponentHealth, error) {
	return m.healthResult, m.healthError
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: 8080},
		Daemon: config.DaemonConfig{WorkspacePath: t.TempDir()},
	}
}

func TestNewDaemon(t *testing.T) {
	if _, err := NewDaemon(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	d, err := NewDaemon(&config.Config{})
	if err != nil {
		t.Fatalf("NewDaemon() failed: %v", err)
	}
	if d.Health() != StatusStarting {
		t.Errorf("Health = %v, want starting", d.Health())
	}
}

func TestPrepareWorkspace_ResolvesDefaultWorkspaceRoot(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	d, _ := NewDaemon(&config.Config{Server: config.ServerConfig{Port: 8080}})
	if err := d.prepareWorkspace(); err != nil {
		t.Fatalf("prepareWorkspace() failed: %v", err)
	}

	expected := filepath.Join(tmpHome, ".tally")
	if _, err := os.Stat(expected); err != nil {
		t.Fatalf("expected workspace path to exist at %s: %v", expected, err)
	}
	if d.WorkspacePath() != expected {
		t.Errorf("WorkspacePath = %s, want %s", d.WorkspacePath(), expected)
	}
}

func TestPrepareWorkspace_RejectsBadPort(t *testing.T) {
	d, _ := NewDaemon(&config.Config{Server: config.ServerConfig{Port: 70000}})
	if err := d.prepareWorkspace(); err == nil {
		t.Fatal("expected invalid port error")
	}
}

func TestInitComponentsDependencyOrder(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	log := &callLog{}

	api := newMockComponent("api", []string{"engine", "poller"})
	poller := newMockComponent("poller", []string{"engine"})
	engine := newMockComponent("engine", []string{"records"})
	records := newMockComponent("records", nil)
	for _, c := range []*mockComponent{api, poller, engine, records} {
		c.log = log
		d.AddComponent(c)
	}

	if err := d.initComponents(context.Background()); err != nil {
		t.Fatalf("initComponents() error = %v", err)
	}

	want := []string{"init:records", "init:engine", "init:poller", "init:api"}
	if got := log.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("init order = %v, want %v", got, want)
	}
}

func TestInitComponentsCircularDependency(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	d.AddComponent(newMockComponent("Comp1", []string{"Comp2"}))
	d.AddComponent(newMockComponent("Comp2", []string{"Comp1"}))

	if err := d.initComponents(context.Background()); err == nil {
		t.Error("Expected error for circular dependency, got nil")
	}
}

func TestInitComponentsMissingDependency(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	d.AddComponent(newMockComponent("Comp", []string{"NonExistent"}))

	if err := d.initComponents(context.Background()); err == nil {
		t.Error("Expected error for missing dependency, got nil")
	}
}

func TestComponentHealth(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))

	comp1 := newMockComponent("Comp1", nil)
	comp2 := newMockComponent("Comp2", nil)
	comp2.healthResult.Healthy = false
	comp2.healthResult.Error = fmt.Errorf("mock error")
	comp3 := newMockComponent("Comp3", nil)
	comp3.healthResult = nil
	comp3.healthError = fmt.Errorf("probe failed")

	d.AddComponent(comp1)
	d.AddComponent(comp2)
	d.AddComponent(comp3)

	healths := d.ComponentHealth()
	if len(healths) != 3 {
		t.Fatalf("ComponentHealth() returned %v healths, want 3", len(healths))
	}
	if !healths["Comp1"].Healthy {
		t.Error("Comp1 should be healthy")
	}
	if healths["Comp2"].Healthy || healths["Comp2"].Error == nil {
		t.Error("Comp2 should be unhealthy with an error")
	}
	if healths["Comp3"].Healthy || healths["Comp3"].Error == nil {
		t.Error("Comp3 should report its probe error")
	}
}

func TestStopInitializedSkipsFailedInit(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	log := &callLog{}

	first := newMockComponent("first", nil)
	broken := newMockComponent("broken", []string{"first"})
	broken.initError = fmt.Errorf("boom")
	after := newMockComponent("after", []string{"broken"})
	for _, c := range []*mockComponent{first, broken, after} {
		c.log = log
		d.AddComponent(c)
	}

	if err := d.initComponents(context.Background()); err == nil {
		t.Fatal("expected init failure")
	}
	d.stopInitialized(context.Background())

	if !first.stopCalled {
		t.Error("first should be stopped during rollback")
	}
	if broken.stopCalled || after.stopCalled {
		t.Error("components that never initialized should not be stopped")
	}
	if d.Health() != StatusStopped {
		t.Errorf("Health = %v, want StatusStopped", d.Health())
	}
}

func TestDaemonFullLifecycle(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	log := &callLog{}

	store := newMockComponent("store", nil)
	worker := newMockComponent("worker", []string{"store"})
	store.log, worker.log = log, log
	d.AddComponent(worker)
	d.AddComponent(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for d.Health() != StatusRunning {
		if time.Now().After(deadline) {
			t.Fatal("daemon did not reach running state")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	want := []string{"init:store", "init:worker", "start:store", "start:worker", "stop:worker", "stop:store"}
	if got := log.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("lifecycle = %v, want %v", got, want)
	}
	if d.Health() != StatusStopped {
		t.Errorf("Health = %v, want stopped", d.Health())
	}
}

func TestDaemonStartupFailureShutsDown(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	ok := newMockComponent("ok", nil)
	bad := newMockComponent("bad", []string{"ok"})
	bad.startError = fmt.Errorf("port in use")
	d.AddComponent(ok)
	d.AddComponent(bad)

	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected startup failure")
	}
	if !ok.stopCalled {
		t.Error("started components should be stopped after startup failure")
	}
}

func TestInitComponentsRejectsDuplicateNames(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	d.AddComponent(newMockComponent("records", nil))
	d.AddComponent(newMockComponent("records", nil))

	if err := d.initComponents(context.Background()); err == nil {
		t.Fatal("expected error for duplicate component names")
	}
}

func TestStartOrderKeepsRegistrationOrderForPeers(t *testing.T) {
	workspace := newMockComponent("workspace", nil)
	records := newMockComponent("records", []string{"workspace"})
	poller := newMockComponent("poller", []string{"records"})
	scheduler := newMockComponent("scheduler", []string{"records"})

	order, err := startOrder([]Component{scheduler, poller, records, workspace})
	if err != nil {
		t.Fatalf("startOrder() error = %v", err)
	}

	want := []string{"workspace", "records", "scheduler", "poller"}
	if got := names(order); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestStartOrderNamesCycle(t *testing.T) {
	_, err := startOrder([]Component{
		newMockComponent("ok", nil),
		newMockComponent("a", []string{"b", "ok"}),
		newMockComponent("b", []string{"a"}),
	})
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if got := err.Error(); got != "circular dependency among a, b" {
		t.Errorf("error = %q", got)
	}
}

func TestReport(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))

	poller := newMockComponent("poller", nil)
	poller.healthResult = &ComponentHealth{Healthy: false, Error: fmt.Errorf("halted"), Detail: "0 cycles"}
	records := newMockComponent("records", nil)
	records.healthResult.Detail = "2 pending records"
	d.AddComponent(records)
	d.AddComponent(poller)

	report := d.Report(context.Background())
	if report.Status != StatusStarting {
		t.Errorf("Status = %v, want starting", report.Status)
	}
	if !report.Degraded() {
		t.Error("report should be degraded")
	}
	if len(report.Components) != 2 || report.Components[0].Name != "poller" {
		t.Fatalf("components should be sorted by name, got %+v", report.Components)
	}
	if report.Components[0].Detail != "0 cycles" || report.Components[1].Detail != "2 pending records" {
		t.Errorf("details not carried: %+v", report.Components)
	}
}
