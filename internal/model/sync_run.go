package model

import "time"

// SyncStatus は同期実行の結果。
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncRun は上流データの取得と照合を1回実行した記録。
// 照合結果そのものではなく、件数と結果のみを監査目的で保持する。
type SyncRun struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	Status          SyncStatus
	UserCount       int
	DeviceCount     int
	DirectCount     int
	TagCount        int
	UnresolvedCount int
	ErrorMessage    string
}
