package snapshot

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/secureops/internal/model"
	"github.com/hitoshi/secureops/internal/reconcile"
)

// --- モック定義 ---

type mockDirectory struct {
	fetchFn func(ctx context.Context) ([]model.User, error)
}

func (m *mockDirectory) FetchUsers(ctx context.Context) ([]model.User, error) {
	return m.fetchFn(ctx)
}

type mockDevices struct {
	fetchFn func(ctx context.Context) ([]model.Device, error)
}

func (m *mockDevices) FetchDevices(ctx context.Context) ([]model.Device, error) {
	return m.fetchFn(ctx)
}

type mockSyncRunRepo struct {
	mu        sync.Mutex
	runs      []*model.SyncRun
	createErr error
}

func (m *mockSyncRunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return m.createErr
}

func (m *mockSyncRunRepo) ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	return m.runs, nil
}

func (m *mockSyncRunRepo) LatestSuccess(ctx context.Context) (*model.SyncRun, error) {
	return nil, nil
}

type mockRecorder struct {
	mu        sync.Mutex
	successes []reconcile.Summary
	failures  []string
	latencies map[string]int
}

func (m *mockRecorder) RecordSyncSuccess(summary reconcile.Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, summary)
}

func (m *mockRecorder) RecordSyncFailure(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, source)
}

func (m *mockRecorder) RecordUpstreamLatency(source string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latencies == nil {
		m.latencies = map[string]int{}
	}
	m.latencies[source]++
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

var (
	testUsers = []model.User{
		{ID: "u1", DisplayName: "Adele Vance", Mail: "adele@contoso.com", Role: model.RoleAdmin},
		{ID: "u2", DisplayName: "Alex Wilber", Mail: "alex@contoso.com", Role: model.RoleViewer},
	}
	testDevices = []model.Device{
		{ID: "d1", OwnerHint: "u1", RiskLevel: model.RiskHigh},
		{ID: "d2", OwnerHint: "unknown", MachineTags: []string{"alex@contoso.com"}},
		{ID: "d3", OwnerHint: ""},
	}
)

func staticDirectory(users []model.User) *mockDirectory {
	return &mockDirectory{fetchFn: func(ctx context.Context) ([]model.User, error) { return users, nil }}
}

func staticDevices(devices []model.Device) *mockDevices {
	return &mockDevices{fetchFn: func(ctx context.Context) ([]model.Device, error) { return devices, nil }}
}

func TestService_Current_BeforeFirstRefresh(t *testing.T) {
	var buf bytes.Buffer
	svc := NewService(staticDirectory(nil), staticDevices(nil), nil, nil, newTestLogger(&buf))

	status := svc.Current()
	if status.Snapshot == nil {
		t.Fatal("Snapshot should never be nil")
	}
	if status.Snapshot.Loaded() {
		t.Error("Loaded() = true before first refresh")
	}
	if status.LastError != "" {
		t.Errorf("LastError = %q, want empty", status.LastError)
	}
}

func TestService_Refresh_Success(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockSyncRunRepo{}
	rec := &mockRecorder{}
	svc := NewService(staticDirectory(testUsers), staticDevices(testDevices), repo, rec, newTestLogger(&buf))
	fixed := time.Date(2024, 7, 28, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	snap, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	if len(snap.Devices) != 3 {
		t.Fatalf("len(Devices) = %d, want 3", len(snap.Devices))
	}
	if snap.Devices[0].Provenance != model.ProvenanceDirect || snap.Devices[1].Provenance != model.ProvenanceTag {
		t.Errorf("provenances = %q, %q", snap.Devices[0].Provenance, snap.Devices[1].Provenance)
	}
	want := reconcile.Summary{Direct: 1, Tag: 1, Unresolved: 1}
	if snap.Summary != want {
		t.Errorf("Summary = %+v, want %+v", snap.Summary, want)
	}
	if !snap.SyncedAt.Equal(fixed) {
		t.Errorf("SyncedAt = %v, want %v", snap.SyncedAt, fixed)
	}

	if got := svc.Current().Snapshot; got != snap {
		t.Error("Current() should return the refreshed snapshot")
	}

	if len(repo.runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(repo.runs))
	}
	run := repo.runs[0]
	if run.Status != model.SyncStatusSuccess || run.ID == "" {
		t.Errorf("run = %+v", run)
	}
	if run.UserCount != 2 || run.DeviceCount != 3 || run.DirectCount != 1 || run.TagCount != 1 || run.UnresolvedCount != 1 {
		t.Errorf("run counts = %+v", run)
	}

	if len(rec.successes) != 1 || rec.successes[0] != want {
		t.Errorf("recorded successes = %v", rec.successes)
	}
	if rec.latencies["directory"] != 1 || rec.latencies["devices"] != 1 {
		t.Errorf("latencies = %v", rec.latencies)
	}
}

func TestService_Refresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockSyncRunRepo{}
	rec := &mockRecorder{}

	fail := false
	devices := &mockDevices{fetchFn: func(ctx context.Context) ([]model.Device, error) {
		if fail {
			return nil, model.NewFetchError("devices", model.FetchKindAuth, 403, errors.New("forbidden"))
		}
		return testDevices, nil
	}}
	svc := NewService(staticDirectory(testUsers), devices, repo, rec, newTestLogger(&buf))

	first, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("first Refresh returned error: %v", err)
	}

	fail = true
	_, err = svc.Refresh(context.Background())
	fe, ok := model.AsFetchError(err)
	if !ok {
		t.Fatalf("err = %v, want FetchError", err)
	}
	if fe.Kind != model.FetchKindAuth || fe.StatusCode != 403 {
		t.Errorf("FetchError = %+v", fe)
	}

	status := svc.Current()
	if status.Snapshot != first {
		t.Error("failed refresh must keep the previous snapshot")
	}
	if status.LastError == "" || status.LastErrorAt.IsZero() {
		t.Errorf("status = %+v, want LastError set", status)
	}

	if len(repo.runs) != 2 || repo.runs[1].Status != model.SyncStatusFailed || repo.runs[1].ErrorMessage == "" {
		t.Errorf("runs = %+v", repo.runs)
	}
	if len(rec.failures) != 1 || rec.failures[0] != "devices" {
		t.Errorf("failures = %v", rec.failures)
	}

	// 次の成功でエラー表示が消える
	fail = false
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("third Refresh returned error: %v", err)
	}
	if svc.Current().LastError != "" {
		t.Error("LastError should be cleared after a successful refresh")
	}
}

func TestService_Refresh_BothFailReturnsDirectoryError(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	directory := &mockDirectory{fetchFn: func(ctx context.Context) ([]model.User, error) {
		return nil, model.NewFetchError("directory", model.FetchKindTransport, 0, errors.New("dial tcp"))
	}}
	devices := &mockDevices{fetchFn: func(ctx context.Context) ([]model.Device, error) {
		return nil, model.NewFetchError("devices", model.FetchKindStatus, 500, errors.New("server error"))
	}}
	svc := NewService(directory, devices, nil, rec, newTestLogger(&buf))

	_, err := svc.Refresh(context.Background())
	fe, ok := model.AsFetchError(err)
	if !ok || fe.Source != "directory" {
		t.Errorf("err = %v, want directory FetchError", err)
	}
	if len(rec.failures) != 2 {
		t.Errorf("failures = %v, want both sources", rec.failures)
	}
	if svc.Current().Snapshot.Loaded() {
		t.Error("snapshot should stay unloaded")
	}
}

func TestService_Refresh_FetchesConcurrently(t *testing.T) {
	var buf bytes.Buffer
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	directory := &mockDirectory{fetchFn: func(ctx context.Context) ([]model.User, error) {
		started <- struct{}{}
		<-release
		return testUsers, nil
	}}
	devices := &mockDevices{fetchFn: func(ctx context.Context) ([]model.Device, error) {
		started <- struct{}{}
		<-release
		return testDevices, nil
	}}
	svc := NewService(directory, devices, nil, nil, newTestLogger(&buf))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(context.Background())
		done <- err
	}()

	// 両方の取得が同時に開始されていること
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("fetches did not start concurrently")
		}
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
}

func TestService_Refresh_SyncRunSaveFailureDoesNotFail(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockSyncRunRepo{createErr: errors.New("db down")}
	svc := NewService(staticDirectory(testUsers), staticDevices(testDevices), repo, nil, newTestLogger(&buf))

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if !svc.Current().Snapshot.Loaded() {
		t.Error("snapshot should be loaded even if history save fails")
	}
	if !bytes.Contains(buf.Bytes(), []byte("同期履歴の保存に失敗しました")) {
		t.Errorf("log = %s, want save failure warning", buf.String())
	}
}

func TestSnapshot_FindUser(t *testing.T) {
	snap := &Snapshot{Users: testUsers}

	u, ok := snap.FindUser("u2")
	if !ok || u.DisplayName != "Alex Wilber" {
		t.Errorf("FindUser(u2) = %+v, %v", u, ok)
	}
	if _, ok := snap.FindUser("missing"); ok {
		t.Error("FindUser(missing) should return false")
	}
}
