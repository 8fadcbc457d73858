package app

import (
	"context"
	"fmt"

	"github.com/filot/docverify/internal/domain"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OCRHealther reports reachability of an OCR endpoint.
type OCRHealther interface {
	Healthy(ctx context.Context) error
}

// BuildReadinessChecks returns the db, redis and OCR checks wired into the
// health handler.
func BuildReadinessChecks(pool Pinger, queue domain.Queue, ocr OCRHealther) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck := func(ctx context.Context) error {
		if queue == nil {
			return fmt.Errorf("queue not configured")
		}
		return queue.Ping(ctx)
	}
	ocrCheck := func(ctx context.Context) error {
		if ocr == nil {
			return fmt.Errorf("ocr not configured")
		}
		return ocr.Healthy(ctx)
	}
	return dbCheck, redisCheck, ocrCheck
}
