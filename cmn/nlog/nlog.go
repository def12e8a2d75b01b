// Package nlog is the fabric's logger: buffered, timestamped, severity-gated,
// with optional rotation and a stderr passthrough for warnings and above.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const flushInterval = 2 * time.Second

var sevName = map[severity]string{sevInfo: "I", sevWarn: "W", sevErr: "E"}

type logger struct {
	mu   sync.Mutex
	w    *bufio.Writer
	file *os.File
	sev  severity
	last atomic.Int64
}

var (
	loggers      [3]*logger
	toStderr     bool
	alsoToStderr bool
	logDir       string
	role         string
	title        string
	onceInit     sync.Once
)

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

func SetLogDirRole(dir, r string) { logDir, role = dir, r }
func SetTitle(s string)           { title = s }

func sname(sev severity) string {
	base := title
	if base == "" {
		base = "bec"
	}
	if role != "" {
		base += "." + role
	}
	return fmt.Sprintf("%s.%s", base, sevName[sev])
}

func InfoLogName() string { return sname(sevInfo) + ".log" }
func ErrLogName() string  { return sname(sevErr) + ".log" }

func initLoggers() {
	for _, sev := range []severity{sevInfo, sevWarn, sevErr} {
		l := &logger{sev: sev}
		if logDir != "" && !toStderr {
			fsev := sev
			if fsev == sevWarn {
				fsev = sevErr // warnings land in the same file as errors, like the teacher does
			}
			name := filepath.Join(logDir, sname(fsev)+".log")
			if f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				l.file = f
				l.w = bufio.NewWriterSize(f, 32*1024)
			}
		}
		loggers[sev] = l
	}
	go flushLoop()
}

func flushLoop() {
	t := time.NewTicker(flushInterval)
	defer t.Stop()
	for range t.C {
		Flush(false)
	}
}

func header(sev severity) string {
	now := time.Now()
	return fmt.Sprintf("%s %02d:%02d:%02d.%06d ", sevName[sev], now.Hour(), now.Minute(), now.Second(), now.Nanosecond()/1000)
}

func log(sev severity, _ int, format string, args ...any) {
	onceInit.Do(initLoggers)
	var line string
	if format == "" {
		line = header(sev) + fmt.Sprintln(args...)
	} else {
		line = header(sev) + fmt.Sprintf(format, args...) + "\n"
	}

	if toStderr || alsoToStderr || sev >= sevWarn {
		os.Stderr.WriteString(line)
	}
	l := loggers[sev]
	if l == nil || l.w == nil {
		return
	}
	l.mu.Lock()
	l.w.WriteString(line)
	l.last.Store(time.Now().UnixNano())
	l.mu.Unlock()
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

func Fatalf(format string, args ...any) {
	log(sevErr, 0, format, args...)
	Flush(true)
	os.Exit(1)
}

// Flush writes buffered lines to disk. With exit=true it also syncs and
// closes the underlying files, used on graceful shutdown.
func Flush(exit bool) {
	for _, l := range loggers {
		if l == nil || l.w == nil {
			continue
		}
		l.mu.Lock()
		l.w.Flush()
		if exit {
			l.file.Sync()
			l.file.Close()
		}
		l.mu.Unlock()
	}
}

// Since returns how long it has been since the last write to any logger.
func Since() time.Duration {
	var latest int64
	for _, l := range loggers {
		if l == nil {
			continue
		}
		if v := l.last.Load(); v > latest {
			latest = v
		}
	}
	if latest == 0 {
		return 0
	}
	return time.Since(time.Unix(0, latest))
}
