// Package inspector collects per-invocation instrumentation attributes:
// container identity, CPU model, wall time, CPU time and memory deltas,
// plus whatever the handler adds while it runs.
package inspector

import (
	"maps"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// Version is reported as the "version" attribute.
const Version = "0.5"

// Host holds process-level facts that outlive a single invocation. A warm
// container reuses the same Host, so only its first Inspect reports
// newcontainer=1.
type Host struct {
	id      string
	cpuType string
	proc    *process.Process

	mu    sync.Mutex
	fresh bool
}

// NewHost captures the container identity and CPU model.
func NewHost() *Host {
	h := &Host{
		id:      uuid.NewString(),
		cpuType: "unknown",
		fresh:   true,
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 && infos[0].ModelName != "" {
		h.cpuType = infos[0].ModelName
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		h.proc = p
	}

	return h
}

// ID returns the container identifier.
func (h *Host) ID() string { return h.id }

// Inspector accumulates the attributes of one invocation.
type Inspector struct {
	host  *Host
	start time.Time
	now   func() time.Time

	usr0, krn0 float64

	mu       sync.Mutex
	attrs    map[string]any
	finished map[string]any
}

// Inspect starts instrumenting an invocation and records the baseline
// attributes.
func (h *Host) Inspect(requestID string) *Inspector {
	h.mu.Lock()
	fresh := h.fresh
	h.fresh = false
	h.mu.Unlock()

	if requestID == "" {
		requestID = uuid.NewString()
	}

	in := &Inspector{
		host:  h,
		now:   time.Now,
		attrs: make(map[string]any),
	}
	in.start = in.now()

	newContainer := 0
	if fresh {
		newContainer = 1
	}

	in.attrs["version"] = Version
	in.attrs["lang"] = "go"
	in.attrs["runtime_version"] = runtime.Version()
	in.attrs["uuid"] = h.id
	in.attrs["newcontainer"] = newContainer
	in.attrs["request_id"] = requestID
	in.attrs["cpuType"] = h.cpuType
	in.attrs["startTime"] = in.start.UnixMilli()

	in.usr0, in.krn0 = h.cpuTimes()

	return in
}

// Add records an attribute. Calls after Finish are ignored.
func (in *Inspector) Add(name string, value any) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.finished != nil {
		return
	}
	in.attrs[name] = value
}

// Finish computes the deltas and returns the attribute map. Only the first
// call measures; later calls return a copy of the same result.
func (in *Inspector) Finish() map[string]any {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.finished == nil {
		end := in.now()
		usr, krn := in.host.cpuTimes()

		in.attrs["endTime"] = end.UnixMilli()
		in.attrs["runtime"] = end.Sub(in.start).Milliseconds()
		in.attrs["cpuUsrDelta"] = int64((usr - in.usr0) * 1000)
		in.attrs["cpuKrnDelta"] = int64((krn - in.krn0) * 1000)
		in.attrs["memRSS"] = in.host.rss()

		in.finished = maps.Clone(in.attrs)
	}

	return maps.Clone(in.finished)
}

// cpuTimes returns the process user and kernel CPU time in seconds.
func (h *Host) cpuTimes() (usr, krn float64) {
	if h.proc == nil {
		return 0, 0
	}
	t, err := h.proc.Times()
	if err != nil {
		return 0, 0
	}
	return t.User, t.System
}

// rss returns the resident set size in bytes.
func (h *Host) rss() uint64 {
	if h.proc == nil {
		return 0
	}
	m, err := h.proc.MemoryInfo()
	if err != nil {
		return 0
	}
	return m.RSS
}
