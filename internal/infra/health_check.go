package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	checkExecInterval = 5 * time.Second
)

// MonitorExecutable signals once when the running binary is replaced on disk, so a
// supervisor can restart the bot with the new build.
func MonitorExecutable(ctx context.Context) <-chan struct{} {
	return monitorFile(ctx, "", checkExecInterval)
}

func monitorFile(ctx context.Context, filename string, interval time.Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)
	entry := log.WithField("object", "MonitorExecutable")
	go func() {
		defer close(ch)

		if filename == "" {
			exe, err := os.Executable()
			if err != nil {
				entry.WithField("error", err.Error()).Warn("cant resolve executable path")
				return
			}
			filename = exe
		}
		stat, err := os.Stat(filename)
		if err != nil {
			entry.WithField("error", err.Error()).Warn("cant stat executable")
			return
		}
		originalTime := stat.ModTime()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(filename)
				if err != nil {
					entry.WithField("error", err.Error()).Warn("cant stat executable on tick")
					continue
				}
				if !originalTime.Equal(stat.ModTime()) {
					entry.WithField("file", filename).Info("executable changed")
					ch <- struct{}{}
					return
				}
			}
		}
	}()
	return ch
}
