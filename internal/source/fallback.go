package source

import (
	"context"
	"log/slog"

	"github.com/hitoshi/secureops/internal/model"
)

// FallbackRecorder はフォールバック発生を記録する。
type FallbackRecorder interface {
	RecordSourceFallback(source string)
}

// FallbackDirectory はPrimaryの取得に失敗した場合にSecondaryのユーザーを返す。
type FallbackDirectory struct {
	Primary   DirectorySource
	Secondary DirectorySource
	Logger    *slog.Logger
	Recorder  FallbackRecorder
}

// FetchUsers はPrimaryから取得し、FetchErrorの場合はSecondaryから取得する。
func (f *FallbackDirectory) FetchUsers(ctx context.Context) ([]model.User, error) {
	users, err := f.Primary.FetchUsers(ctx)
	if err == nil {
		return users, nil
	}
	fe, ok := model.AsFetchError(err)
	if !ok || ctx.Err() != nil {
		return nil, err
	}
	logFallback(f.Logger, f.Recorder, fe)
	return f.Secondary.FetchUsers(ctx)
}

// FallbackDevices はPrimaryの取得に失敗した場合にSecondaryのデバイスを返す。
type FallbackDevices struct {
	Primary   DeviceSource
	Secondary DeviceSource
	Logger    *slog.Logger
	Recorder  FallbackRecorder
}

// FetchDevices はPrimaryから取得し、FetchErrorの場合はSecondaryから取得する。
func (f *FallbackDevices) FetchDevices(ctx context.Context) ([]model.Device, error) {
	devices, err := f.Primary.FetchDevices(ctx)
	if err == nil {
		return devices, nil
	}
	fe, ok := model.AsFetchError(err)
	if !ok || ctx.Err() != nil {
		return nil, err
	}
	logFallback(f.Logger, f.Recorder, fe)
	return f.Secondary.FetchDevices(ctx)
}

func logFallback(logger *slog.Logger, recorder FallbackRecorder, fe *model.FetchError) {
	if logger != nil {
		logger.Warn("upstream fetch failed, serving static data",
			slog.String("source", fe.Source),
			slog.String("kind", string(fe.Kind)),
			slog.String("error", fe.Error()),
		)
	}
	if recorder != nil {
		recorder.RecordSourceFallback(fe.Source)
	}
}
