package model

import "time"

// UnknownOwner はデバイスの所有者が不明であることを示す予約済みのオーナーヒント値。
const UnknownOwner = "unknown"

// RiskLevel はエンドポイントセキュリティサービスが算出したリスクレベル。
type RiskLevel string

const (
	RiskLow     RiskLevel = "Low"
	RiskMedium  RiskLevel = "Medium"
	RiskHigh    RiskLevel = "High"
	RiskUnknown RiskLevel = "Unknown"
)

// RiskLevels は集計・表示順のリスクレベル一覧。
var RiskLevels = []RiskLevel{RiskHigh, RiskMedium, RiskLow, RiskUnknown}

// ParseRiskLevel は文字列をRiskLevelに変換する。未知の値はfalseを返す。
func ParseRiskLevel(s string) (RiskLevel, bool) {
	for _, lv := range RiskLevels {
		if string(lv) == s {
			return lv, true
		}
	}
	return "", false
}

// IsElevated はHighまたはMediumのリスクであるかを返す。
func (r RiskLevel) IsElevated() bool {
	return r == RiskHigh || r == RiskMedium
}

// HealthStatus はデバイスのセンサー稼働状態。
type HealthStatus string

const (
	HealthActive                            HealthStatus = "Active"
	HealthInactive                          HealthStatus = "Inactive"
	HealthImpairedCommunication             HealthStatus = "ImpairedCommunication"
	HealthNoSensorData                      HealthStatus = "NoSensorData"
	HealthNoSensorDataImpairedCommunication HealthStatus = "NoSensorDataImpairedCommunication"
	HealthUnknown                           HealthStatus = "Unknown"
)

// ParseHealthStatus は上流の文字列をHealthStatusに変換する。
// 未知の値はHealthUnknownになる。
func ParseHealthStatus(s string) HealthStatus {
	switch HealthStatus(s) {
	case HealthActive, HealthInactive, HealthImpairedCommunication,
		HealthNoSensorData, HealthNoSensorDataImpairedCommunication:
		return HealthStatus(s)
	default:
		return HealthUnknown
	}
}

// Device はエンドポイントセキュリティサービスから取得したデバイスを表す。
//
// OwnerHintは上流が付与した所有者の手がかりで、ユーザーID、UnknownOwner、
// または空文字列（未設定）のいずれか。信頼できる値とは限らない。
// MachineTagsは管理者が付与した自由形式のタグで、順序に意味がある。
type Device struct {
	ID           string
	OwnerHint    string
	DeviceName   string
	OS           string
	HealthStatus HealthStatus
	RiskLevel    RiskLevel
	LastSeen     time.Time
	MachineTags  []string
}

// Provenance は所有者の解決方法を表す。
type Provenance string

const (
	// ProvenanceDirect はオーナーヒントがユーザーIDと完全一致した。
	ProvenanceDirect Provenance = "direct"
	// ProvenanceTag はマシンタグ内のメールアドレスから解決した。
	ProvenanceTag Provenance = "tag"
	// ProvenanceUnresolved は所有者を特定できなかった。
	ProvenanceUnresolved Provenance = "unresolved"
)

// ReconciledDevice は所有ユーザーの解決結果を付与したデバイス。
// 照合のたびに再計算される派生ビューであり、永続化しない。
// Device.OwnerHintは元の値のまま保持される。
type ReconciledDevice struct {
	Device
	OwnerID    string
	Provenance Provenance
}

// Resolved は所有者が解決済みかどうかを返す。
func (d ReconciledDevice) Resolved() bool {
	return d.OwnerID != ""
}
