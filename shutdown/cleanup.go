package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"finanalyst/core"
)

// CleanupTempFiles returns a shutdown function that removes stray temp files
// left behind by interrupted atomic writes in the blob and index
// directories. Those writers create dot-prefixed temp files and rename them
// into place; a crash mid-write strands the temp file.
//
// Removal failures are logged, not returned, so cleanup never blocks
// shutdown.
func CleanupTempFiles(logger *zap.Logger, dirs ...string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		for _, dir := range dirs {
			sweepTempFiles(ctx, logger, dir)
		}
		return nil
	}
}

func sweepTempFiles(ctx context.Context, logger *zap.Logger, dir string) {
	var matches []string
	for _, pattern := range []string{".put-*", ".index-*"} {
		found, err := filepath.Glob(filepath.Join(dir, "*", pattern))
		if err == nil {
			matches = append(matches, found...)
		}
		found, err = filepath.Glob(filepath.Join(dir, pattern))
		if err == nil {
			matches = append(matches, found...)
		}
	}
	if len(matches) == 0 {
		return
	}

	removed := 0
	for _, match := range matches {
		select {
		case <-ctx.Done():
			logger.Warn("temp file sweep interrupted",
				zap.String("dir", dir), zap.Int("removed", removed))
			return
		default:
		}
		if err := os.Remove(match); err != nil {
			logger.Warn("failed to remove temp file",
				zap.String("file", filepath.Base(match)), zap.Error(err))
			continue
		}
		removed++
	}
	logger.Info("removed stray temp files",
		zap.String("dir", dir), zap.Int("count", removed))
}
