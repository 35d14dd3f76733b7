//go:build nometrics

package obs

import (
	"context"
	"time"
)

func ObserveRequest(string, string, time.Duration, string) {}

func ObserveFused(int) {}

func RecordSourceError(string, string) {}

func ObserveCache(string, bool) {}

func InitTracer(string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
