package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GoRecoverable runs f and runs it again after a panic until maxPanics restarts were
// spent. A negative maxPanics restarts forever. It returns once f returns normally or
// the restarts are exhausted, so callers may wrap it with their own cleanup.
func GoRecoverable(maxPanics int, id string, f func()) {
	entry := log.WithField("job", id)
	for !runRecovered(entry, f) {
		if maxPanics == 0 {
			entry.Error("panics limit exceeded, job stopped")
			return
		}
		if maxPanics > 0 {
			maxPanics--
		}
		entry.WithField("panics_left", maxPanics).Debug("recovering job")
	}
}

func runRecovered(entry *log.Entry, f func()) (ok bool) {
	defer func() {
		if err := recover(); err != nil {
			entry.Errorf("panic: %v at %s", err, identifyPanic())
			ok = false
		}
	}()
	f()
	return true
}

// RecoverAndLog swallows a panic of a one-shot job such as a single update.
// Use it deferred.
func RecoverAndLog(id string) {
	if err := recover(); err != nil {
		log.WithField("job", id).Errorf("panic: %v at %s", err, identifyPanic())
	}
}

func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}

	return fmt.Sprintf("pc:%x", pc)
}
