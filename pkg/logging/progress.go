package logging

import (
	"sort"
	"time"

	"github.com/eunmann/vendas-agg/pkg/humanfmt"
	"github.com/rs/zerolog"
)

// ProgressTracker estimates progress through an input of known byte size.
// It is not safe for concurrent use; the pipeline updates it from one
// goroutine between chunks.
type ProgressTracker struct {
	totalBytes int64
	doneBytes  int64
	startTime  time.Time
}

// NewProgressTracker creates a tracker for an input of totalBytes.
// A totalBytes of -1 means the size is unknown (e.g. a compressed stream).
func NewProgressTracker(totalBytes int64) *ProgressTracker {
	return &ProgressTracker{
		totalBytes: totalBytes,
		startTime:  time.Now(),
	}
}

// Update records the number of input bytes consumed so far.
func (pt *ProgressTracker) Update(doneBytes int64) {
	pt.doneBytes = doneBytes
}

// Known reports whether the input size is known.
func (pt *ProgressTracker) Known() bool {
	return pt.totalBytes > 0
}

// ProgressPct returns the progress percentage (0-100), or 0 if unknown.
func (pt *ProgressTracker) ProgressPct() float64 {
	if !pt.Known() {
		return 0
	}
	pct := float64(pt.doneBytes) * 100.0 / float64(pt.totalBytes)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ETA extrapolates the remaining time from the average byte rate so far.
func (pt *ProgressTracker) ETA() time.Duration {
	if !pt.Known() || pt.doneBytes <= 0 || pt.doneBytes >= pt.totalBytes {
		return 0
	}
	elapsed := time.Since(pt.startTime)
	perByte := float64(elapsed) / float64(pt.doneBytes)
	return time.Duration(perByte * float64(pt.totalBytes-pt.doneBytes))
}

// Elapsed returns time since tracking started.
func (pt *ProgressTracker) Elapsed() time.Duration {
	return time.Since(pt.startTime)
}

// CompletionEvent helps build consistent completion log events.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	phase   string
	elapsed time.Duration
	fields  map[string]interface{}
}

// NewCompletionEvent creates a new completion event builder.
func NewCompletionEvent(log zerolog.Logger, event, phase string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{
		log:     log,
		event:   event,
		phase:   phase,
		elapsed: elapsed,
		fields:  make(map[string]interface{}),
	}
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Bytes adds a byte count with optional human-readable companion.
func (ce *CompletionEvent) Bytes(key string, bytes int64) *CompletionEvent {
	ce.fields[key] = bytes
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Bytes(bytes)
	}
	return ce
}

// Count adds a count with optional human-readable companion.
func (ce *CompletionEvent) Count(key string, n int64) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Count(n)
	}
	return ce
}

// Progress adds progress_pct and eta fields from a tracker with a known size.
func (ce *CompletionEvent) Progress(pt *ProgressTracker) *CompletionEvent {
	if pt == nil || !pt.Known() {
		return ce
	}
	ce.fields["progress_pct"] = pt.ProgressPct()
	if eta := pt.ETA(); eta > 0 {
		ce.fields["eta_ms"] = eta.Milliseconds()
		if IsPrettyMode() {
			ce.fields["eta_h"] = humanfmt.Duration(eta)
		}
	}
	return ce
}

// Rate adds a rows-per-second field computed from the event duration.
func (ce *CompletionEvent) Rate(rows int64) *CompletionEvent {
	if ce.elapsed > 0 {
		ce.fields["rows_per_sec"] = float64(rows) / ce.elapsed.Seconds()
		if IsPrettyMode() {
			ce.fields["rate_h"] = humanfmt.Rate(rows, ce.elapsed)
		}
	}
	return ce
}

// Log emits the completion event at info level.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

// LogDebug emits the completion event at debug level.
func (ce *CompletionEvent) LogDebug(msg string) {
	ce.emit(ce.log.Debug(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	e = e.Str("event", ce.event).
		Str("phase", ce.phase).
		Int64("duration_ms", ce.elapsed.Milliseconds())

	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(ce.elapsed))
	}

	// Stable field order keeps console output readable.
	keys := make([]string, 0, len(ce.fields))
	for k := range ce.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e = e.Interface(k, ce.fields[k])
	}

	e.Msg(msg)
}

// PhaseComplete starts a phase completion event.
func PhaseComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "phase_completed", phase, elapsed)
}

// ChunkComplete starts a chunk completion event.
func ChunkComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "chunk_completed", phase, elapsed)
}
