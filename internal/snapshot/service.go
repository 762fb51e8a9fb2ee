// Package snapshot はユーザーとデバイスの取得、照合、最新結果の保持を行う。
//
// 2つの取得元を並行に取得し、両方の完了を待ってから照合する。
// どちらかが失敗した場合は直前に成功したスナップショットを維持する。
package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/secureops/internal/model"
	"github.com/hitoshi/secureops/internal/reconcile"
	"github.com/hitoshi/secureops/internal/repository"
	"github.com/hitoshi/secureops/internal/source"
)

// 取得元名。FetchErrorを返さない失敗もこの名前で記録する。
const (
	sourceDirectory = "directory"
	sourceDevices   = "devices"
)

// Recorder は同期結果のメトリクス記録インターフェース。
type Recorder interface {
	RecordSyncSuccess(summary reconcile.Summary)
	RecordSyncFailure(source string)
	RecordUpstreamLatency(source string, duration time.Duration)
}

// Snapshot は1回の同期で得られたユーザーと照合済みデバイス。
// 置き換え後は変更しないため、参照側で複製せずに共有できる。
type Snapshot struct {
	Users    []model.User
	Devices  []model.ReconciledDevice
	Summary  reconcile.Summary
	SyncedAt time.Time
}

// Loaded は一度でも同期に成功しているかを返す。
func (s *Snapshot) Loaded() bool {
	return !s.SyncedAt.IsZero()
}

// FindUser は指定IDのユーザーを返す。
func (s *Snapshot) FindUser(id string) (model.User, bool) {
	for _, u := range s.Users {
		if u.ID == id {
			return u, true
		}
	}
	return model.User{}, false
}

// Status は現在のスナップショットと直近の失敗情報。
type Status struct {
	Snapshot    *Snapshot
	LastError   string
	LastErrorAt time.Time
}

// Service は同期の実行と最新スナップショットの保持を行う。
type Service struct {
	directory source.DirectorySource
	devices   source.DeviceSource
	runs      repository.SyncRunRepository
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time

	// refreshMu は同期処理の同時実行を防ぐ。
	refreshMu sync.Mutex

	mu          sync.RWMutex
	current     *Snapshot
	lastErr     string
	lastErrorAt time.Time
}

// NewService はServiceを生成する。runsとrecorderはnilでもよい。
func NewService(
	directory source.DirectorySource,
	devices source.DeviceSource,
	runs repository.SyncRunRepository,
	recorder Recorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		directory: directory,
		devices:   devices,
		runs:      runs,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
		current:   &Snapshot{},
	}
}

// Current は最後に成功したスナップショットと直近の失敗情報を返す。
// 一度も成功していない場合はLoadedがfalseのスナップショットを返す。
func (s *Service) Current() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Snapshot:    s.current,
		LastError:   s.lastErr,
		LastErrorAt: s.lastErrorAt,
	}
}

// Users は現在のスナップショットのユーザーを返す。
func (s *Service) Users() []model.User {
	return s.Current().Snapshot.Users
}

// Refresh は両方の取得元から取得して照合し、成功した場合のみスナップショットを置き換える。
// 失敗時は直前のスナップショットを変更せずにエラーを返す。
// 両方の取得元が失敗した場合はディレクトリ側のエラーを返す。
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	startedAt := s.now()

	var wg sync.WaitGroup
	var users []model.User
	var devices []model.Device
	var usersErr, devicesErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		start := time.Now()
		users, usersErr = s.directory.FetchUsers(ctx)
		s.recordLatency(sourceDirectory, time.Since(start))
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		devices, devicesErr = s.devices.FetchDevices(ctx)
		s.recordLatency(sourceDevices, time.Since(start))
	}()
	wg.Wait()

	if usersErr != nil || devicesErr != nil {
		err := usersErr
		if err == nil {
			err = devicesErr
		}
		s.recordFailure(sourceDirectory, usersErr)
		s.recordFailure(sourceDevices, devicesErr)

		s.mu.Lock()
		s.lastErr = err.Error()
		s.lastErrorAt = s.now()
		s.mu.Unlock()

		s.saveRun(ctx, &model.SyncRun{
			StartedAt:    startedAt,
			Status:       model.SyncStatusFailed,
			UserCount:    len(users),
			DeviceCount:  len(devices),
			ErrorMessage: err.Error(),
		})
		return nil, err
	}

	reconciled := reconcile.Reconcile(users, devices)
	summary := reconcile.Summarize(reconciled)
	snap := &Snapshot{
		Users:    users,
		Devices:  reconciled,
		Summary:  summary,
		SyncedAt: s.now(),
	}

	s.mu.Lock()
	s.current = snap
	s.lastErr = ""
	s.lastErrorAt = time.Time{}
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.RecordSyncSuccess(summary)
	}
	s.saveRun(ctx, &model.SyncRun{
		StartedAt:       startedAt,
		Status:          model.SyncStatusSuccess,
		UserCount:       len(users),
		DeviceCount:     len(reconciled),
		DirectCount:     summary.Direct,
		TagCount:        summary.Tag,
		UnresolvedCount: summary.Unresolved,
	})

	s.logger.Info("同期が完了しました",
		slog.Int("user_count", len(users)),
		slog.Int("device_count", len(reconciled)),
		slog.Int("direct", summary.Direct),
		slog.Int("tag", summary.Tag),
		slog.Int("unresolved", summary.Unresolved),
	)
	return snap, nil
}

func (s *Service) recordLatency(src string, d time.Duration) {
	if s.recorder != nil {
		s.recorder.RecordUpstreamLatency(src, d)
	}
}

// recordFailure は取得元ごとの失敗をログとメトリクスに記録する。
func (s *Service) recordFailure(src string, err error) {
	if err == nil {
		return
	}
	attrs := []any{slog.String("source", src), slog.String("error", err.Error())}
	if fe, ok := model.AsFetchError(err); ok {
		attrs = append(attrs, slog.String("kind", string(fe.Kind)))
		if fe.StatusCode != 0 {
			attrs = append(attrs, slog.Int("status_code", fe.StatusCode))
		}
	}
	s.logger.Error("上流データの取得に失敗しました", attrs...)
	if s.recorder != nil {
		s.recorder.RecordSyncFailure(src)
	}
}

// saveRun は同期実行の記録を保存する。保存の失敗は同期結果に影響させない。
func (s *Service) saveRun(ctx context.Context, run *model.SyncRun) {
	if s.runs == nil {
		return
	}
	run.ID = uuid.New().String()
	run.FinishedAt = s.now()
	if err := s.runs.Create(ctx, run); err != nil {
		s.logger.Warn("同期履歴の保存に失敗しました",
			slog.String("sync_run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
}
