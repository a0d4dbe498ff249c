package components

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/tally/internal/config"
	"github.com/harunnryd/tally/internal/daemon"
	"github.com/harunnryd/tally/internal/delivery"
	"github.com/harunnryd/tally/internal/mailbox"
	"github.com/harunnryd/tally/internal/records"
	"github.com/harunnryd/tally/internal/scheduler"
)

const sheet = `employee_id,employee_name,employee_email,date,hours_worked,project,status,notes
E1,Jane,jane@example.com,2025-03-04,3,Apollo,pending,
E2,Bob,bob@example.com,2025-03-04,8,Apollo,pending,
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "timesheets.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(sheet), 0o644))

	return &config.Config{
		Server:  config.ServerConfig{Port: 0},
		Records: config.RecordsConfig{Driver: "csv", CSVPath: csvPath},
		Tracker: config.TrackerConfig{SnapshotPath: filepath.Join(dir, "cases.json")},
		Scheduler: config.SchedulerConfig{
			Enabled:       true,
			SweepSchedule: "@every 1h",
		},
		Daemon: config.DaemonConfig{WorkspacePath: filepath.Join(dir, "ws")},
	}
}

type stack struct {
	workspace *WorkspaceComponent
	records   *RecordsComponent
	engine    *EngineComponent
	poller    *PollerComponent
	scheduler *SchedulerComponent
	http      *HTTPServerComponent
}

func (s stack) all() []daemon.Component {
	return []daemon.Component{s.workspace, s.records, s.engine, s.poller, s.scheduler, s.http}
}

func newStack(cfg *config.Config, src mailbox.Source) stack {
	s := stack{workspace: NewWorkspaceComponent(cfg)}
	s.records = NewRecordsComponent(cfg.Records)
	s.engine = NewEngineComponent(cfg, s.records)
	s.poller = NewPollerComponent(cfg, s.engine)
	if src != nil {
		s.poller.WithSource(src)
	}
	s.scheduler = NewSchedulerComponent(cfg, s.engine, s.workspace)
	s.http = NewHTTPServerComponent(nil, &cfg.Server, s.engine, s.poller, s.scheduler)
	return s
}

func TestComponentsWireEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	s := newStack(cfg, mailbox.NewMemory())
	ctx := context.Background()

	for _, c := range s.all() {
		require.NoError(t, c.Init(ctx), c.Name())
	}
	for _, c := range s.all() {
		require.NoError(t, c.Start(ctx), c.Name())
	}
	t.Cleanup(func() {
		all := s.all()
		for i := len(all) - 1; i >= 0; i-- {
			_ = all[i].Stop(ctx)
		}
	})

	for _, c := range s.all() {
		h, err := c.Health(ctx)
		require.NoError(t, err)
		assert.True(t, h.Healthy, "%s: %v", c.Name(), h.Error)
	}
	h, _ := s.records.Health(ctx)
	assert.Equal(t, "2 pending records", h.Detail)
	h, _ = s.scheduler.Health(ctx)
	assert.Equal(t, "1 tasks", h.Detail)

	base := "http://" + s.http.Addr()

	resp, err := http.Post(base+"/api/detect", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detect struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detect))
	assert.Equal(t, 1, detect.Count)

	resp2, err := http.Get(base + "/api/scheduler")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var tasks []scheduler.Task
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, SweepTaskID, tasks[0].ID)

	resp3, err := http.Get(base + "/api/poller")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)

	_, err = os.Stat(filepath.Join(cfg.Daemon.WorkspacePath, "scheduler.json"))
	assert.NoError(t, err, "scheduler state defaults into the workspace")
}

func TestDisabledFeaturesStayIdle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Enabled = false
	s := newStack(cfg, nil)
	ctx := context.Background()

	for _, c := range []daemon.Component{s.workspace, s.records, s.engine, s.poller, s.scheduler} {
		require.NoError(t, c.Init(ctx), c.Name())
		require.NoError(t, c.Start(ctx), c.Name())
	}
	defer s.workspace.Stop(ctx)
	defer s.records.Stop(ctx)

	assert.Nil(t, s.poller.Poller())
	assert.Nil(t, s.scheduler.Scheduler())

	h, _ := s.poller.Health(ctx)
	assert.True(t, h.Healthy)
	assert.Equal(t, "mailbox disabled", h.Detail)
	h, _ = s.scheduler.Health(ctx)
	assert.True(t, h.Healthy)
	assert.Equal(t, "disabled", h.Detail)
}

func TestEngineRequiresRecords(t *testing.T) {
	cfg := testConfig(t)
	eng := NewEngineComponent(cfg, NewRecordsComponent(cfg.Records))
	assert.Error(t, eng.Init(context.Background()))

	h, err := eng.Health(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Healthy)
}

func TestBuildSenderDisabled(t *testing.T) {
	sender, err := BuildSender(config.DeliveryConfig{})
	require.NoError(t, err)
	assert.False(t, sender.Send(context.Background(), delivery.Message{To: "jane@example.com"}))

	_, err = BuildSender(config.DeliveryConfig{Enabled: true})
	assert.Error(t, err, "enabled delivery needs a host")
}

func TestEngagementFollowsCatalogThresholds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Policy = config.PolicyConfig{MaxFollowups: 2, CatalogPath: filepath.Join(t.TempDir(), "catalog.yaml")}

	eng, err := BuildEngagement(cfg, records.NewMemory())
	require.NoError(t, err)
	assert.Equal(t, 2, eng.Tracker().MaxFollowups())

	pinned := "thresholds:\n  max_followups: 5\ncategories:\n  - id: sick\n    keywords: [fever]\n    active: true\n"
	require.NoError(t, os.WriteFile(cfg.Policy.CatalogPath, []byte(pinned), 0o600))
	cfg.Tracker.SnapshotPath = ""

	eng, err = BuildEngagement(cfg, records.NewMemory())
	require.NoError(t, err)
	assert.Equal(t, 5, eng.Policy().Thresholds().MaxFollowups)
	assert.Equal(t, 5, eng.Tracker().MaxFollowups())
}
