package telemetry

import (
	"context"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterRecorderName = "github.com/edenlabs/gesher"
	loggerName        = "gesherd"
)

// recorderInstruments holds all lazy-initialized OTel metric instruments.
type recorderInstruments struct {
	commandTotal    metric.Int64Counter
	thinkCycleTotal metric.Int64Counter
	execTotal       metric.Int64Counter
	backendTotal    metric.Int64Counter
	persistTotal    metric.Int64Counter
	transitionTotal metric.Int64Counter
	syncTotal       metric.Int64Counter

	backendDurationHist metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers all instruments against the global
// MeterProvider. Called by Init and lazily on first use.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.commandTotal, _ = m.Int64Counter("gesher.commands.total",
			metric.WithDescription("Total socket commands handled"),
		)
		inst.thinkCycleTotal, _ = m.Int64Counter("gesher.think_cycles.total",
			metric.WithDescription("Total autonomous think cycles by outcome"),
		)
		inst.execTotal, _ = m.Int64Counter("gesher.exec.total",
			metric.WithDescription("Total shell commands executed"),
		)
		inst.backendTotal, _ = m.Int64Counter("gesher.backend.calls.total",
			metric.WithDescription("Total model backend generate calls"),
		)
		inst.persistTotal, _ = m.Int64Counter("gesher.persist.writes.total",
			metric.WithDescription("Total soul state writes"),
		)
		inst.transitionTotal, _ = m.Int64Counter("gesher.soul.transitions.total",
			metric.WithDescription("Total soul state transitions by type"),
		)
		inst.syncTotal, _ = m.Int64Counter("gesher.sync.total",
			metric.WithDescription("Total presence syncs sent to the remote thread"),
		)

		inst.backendDurationHist, _ = m.Float64Histogram("gesher.backend.duration_ms",
			metric.WithDescription("Model backend round-trip latency in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

// maxCommandLog bounds how much of a shell command lands in a log event.
const maxCommandLog = 512

// truncate trims s to max bytes without splitting a rune and appends "…".
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	truncated := s[:max]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated + "…"
}

// RecordCommand records one handled socket command. status is "ok" or the
// error kind returned to the caller.
func RecordCommand(ctx context.Context, cmd, status string, durationMs float64) {
	initInstruments()
	inst.commandTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cmd", cmd),
			attribute.String("status", status),
		),
	)
	sev := otellog.SeverityInfo
	if status != "ok" {
		sev = otellog.SeverityWarn
	}
	emit(ctx, "command", sev,
		otellog.String("cmd", cmd),
		otellog.String("status", status),
		otellog.Float64("duration_ms", durationMs),
	)
}

// RecordThinkCycle records an autonomous cycle outcome: "completed",
// "failed" or "skipped".
func RecordThinkCycle(ctx context.Context, outcome string, thoughts, commands int, err error) {
	initInstruments()
	inst.thinkCycleTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	emit(ctx, "think_cycle", severity(err),
		otellog.String("outcome", outcome),
		otellog.Int64("thoughts", int64(thoughts)),
		otellog.Int64("commands", int64(commands)),
		errKV(err),
	)
}

// RecordExec records one shell execution.
func RecordExec(ctx context.Context, command string, exitCode int, timedOut bool, durationMs float64) {
	initInstruments()
	status := "ok"
	switch {
	case timedOut:
		status = "timeout"
	case exitCode != 0:
		status = "error"
	}
	inst.execTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	emit(ctx, "exec", otellog.SeverityInfo,
		otellog.String("command", truncate(command, maxCommandLog)),
		otellog.Int64("exit_code", int64(exitCode)),
		otellog.Bool("timed_out", timedOut),
		otellog.Float64("duration_ms", durationMs),
		otellog.String("status", status),
	)
}

// RecordBackendCall records one model backend generate call with latency.
func RecordBackendCall(ctx context.Context, backend string, durationMs float64, err error) {
	initInstruments()
	status := statusStr(err)
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", status),
	)
	inst.backendTotal.Add(ctx, 1, attrs)
	inst.backendDurationHist.Record(ctx, durationMs, attrs)
	emit(ctx, "backend.generate", severity(err),
		otellog.String("backend", backend),
		otellog.Float64("duration_ms", durationMs),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordPersist records one soul state write.
func RecordPersist(ctx context.Context, err error) {
	initInstruments()
	inst.persistTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", statusStr(err))),
	)
	if err != nil {
		emit(ctx, "persist", otellog.SeverityError, errKV(err))
	}
}

// RecordTransition counts one soul state transition.
func RecordTransition(ctx context.Context, transition string) {
	initInstruments()
	inst.transitionTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", transition)),
	)
}

// RecordSync records one presence sync to the remote thread.
func RecordSync(ctx context.Context, err error) {
	initInstruments()
	inst.syncTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", statusStr(err))),
	)
	emit(ctx, "sync", severity(err), errKV(err))
}
