package observability

import "sync"

// Entry is one message captured by a Recorder.
type Entry struct {
	Level  string
	Msg    string
	Fields map[string]interface{}
}

// Recorder is a Logger that keeps every entry in memory.
type Recorder struct {
	entries *[]Entry
	base    map[string]interface{}
}

func NewRecorder() *Recorder {
	return &Recorder{entries: new([]Entry)}
}

func (r *Recorder) Debug(msg string, fields ...Field) { r.add("debug", msg, fields) }
func (r *Recorder) Info(msg string, fields ...Field)  { r.add("info", msg, fields) }
func (r *Recorder) Warn(msg string, fields ...Field)  { r.add("warn", msg, fields) }
func (r *Recorder) Error(msg string, fields ...Field) { r.add("error", msg, fields) }

func (r *Recorder) With(fields ...Field) Logger {
	base := make(map[string]interface{}, len(r.base)+len(fields))
	for k, v := range r.base {
		base[k] = v
	}
	for _, f := range fields {
		base[f.Key()] = f.Value()
	}
	return &Recorder{entries: r.entries, base: base}
}

func (r *Recorder) add(level, msg string, fields []Field) {
	kv := make(map[string]interface{}, len(r.base)+len(fields))
	for k, v := range r.base {
		kv[k] = v
	}
	for _, f := range fields {
		kv[f.Key()] = f.Value()
	}
	recorderMu.Lock()
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Fields: kv})
	recorderMu.Unlock()
}

// Entries returns a copy of the captured entries.
func (r *Recorder) Entries() []Entry {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Count returns how many entries were logged at level.
func (r *Recorder) Count(level string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// recorderMu guards the entry slices shared between a Recorder and its With children.
var recorderMu sync.Mutex
