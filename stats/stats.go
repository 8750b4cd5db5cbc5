// Package stats profiles a CAN frame stream: traffic per interface, per label
// and per arbitration ID, and frame rates over time.
package stats

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Zerofisher/canids/capture"
	"github.com/Zerofisher/canids/pkg/model"
)

// Manager collects and reports frame statistics
type Manager struct {
	interfaces  map[string]*Interface
	labels      map[string]*Label
	ids         map[uint32]*ID
	ioBuckets   []*IOBucket
	bucketSize  float64 // seconds
	threshold   uint32
	startTime   float64
	started     bool
	totalFrames int
	totalBytes  int64
}

// Interface holds statistics for one bus segment
type Interface struct {
	Name      string
	Frames    int
	Bytes     int64
	FirstSeen float64
	LastSeen  float64
	ids       map[uint32]struct{}
}

// DistinctIDs returns the number of arbitration IDs seen on the interface.
func (s *Interface) DistinctIDs() int { return len(s.ids) }

// Label holds statistics for one ground-truth label
type Label struct {
	Name       string
	Frames     int
	AboveRange int // frames with ID at or above the diagnostic threshold
}

// ID holds statistics for one arbitration ID
type ID struct {
	ID        uint32
	Frames    int
	Payloads  int // distinct payloads
	Labels    map[string]int
	FirstSeen float64
	LastSeen  float64
	payloads  map[model.Payload]struct{}
}

// MeanInterval returns the mean time between frames of this ID.
func (s *ID) MeanInterval() float64 {
	if s.Frames < 2 {
		return 0
	}
	return (s.LastSeen - s.FirstSeen) / float64(s.Frames-1)
}

// IOBucket represents frame/byte counts for a time interval
type IOBucket struct {
	Start  float64
	Frames int
	Bytes  int64
}

// NewManager creates a new statistics manager
func NewManager() *Manager {
	return &Manager{
		interfaces: make(map[string]*Interface),
		labels:     make(map[string]*Label),
		ids:        make(map[uint32]*ID),
		ioBuckets:  make([]*IOBucket, 0),
		bucketSize: 1,
		threshold:  model.UDSThreshold,
	}
}

// SetBucketSize sets the I/O stats interval in seconds
func (m *Manager) SetBucketSize(seconds float64) {
	m.bucketSize = seconds
}

// SetThreshold sets the diagnostic range start used by label statistics
func (m *Manager) SetThreshold(th uint32) {
	m.threshold = th
}

// TotalFrames returns the number of frames processed.
func (m *Manager) TotalFrames() int { return m.totalFrames }

// ProcessFrame updates statistics with a new frame
func (m *Manager) ProcessFrame(f *model.Frame) {
	if !m.started || f.Timestamp < m.startTime {
		m.startTime = f.Timestamp
		m.started = true
	}

	m.totalFrames++
	m.totalBytes += int64(f.PayloadLen)

	m.updateInterfaces(f)
	m.updateLabels(f)
	m.updateIDs(f)
	m.updateIOBuckets(f)
}

func (m *Manager) updateInterfaces(f *model.Frame) {
	s, ok := m.interfaces[f.Interface]
	if !ok {
		s = &Interface{Name: f.Interface, FirstSeen: f.Timestamp, LastSeen: f.Timestamp, ids: make(map[uint32]struct{})}
		m.interfaces[f.Interface] = s
	}
	s.Frames++
	s.Bytes += int64(f.PayloadLen)
	s.FirstSeen = min(s.FirstSeen, f.Timestamp)
	s.LastSeen = max(s.LastSeen, f.Timestamp)
	s.ids[f.ArbitrationID] = struct{}{}
}

func (m *Manager) updateLabels(f *model.Frame) {
	s, ok := m.labels[f.Label]
	if !ok {
		s = &Label{Name: f.Label}
		m.labels[f.Label] = s
	}
	s.Frames++
	if f.ArbitrationID >= m.threshold {
		s.AboveRange++
	}
}

func (m *Manager) updateIDs(f *model.Frame) {
	s, ok := m.ids[f.ArbitrationID]
	if !ok {
		s = &ID{
			ID:        f.ArbitrationID,
			Labels:    make(map[string]int),
			FirstSeen: f.Timestamp,
			LastSeen:  f.Timestamp,
			payloads:  make(map[model.Payload]struct{}),
		}
		m.ids[f.ArbitrationID] = s
	}
	s.Frames++
	s.Labels[f.Label]++
	s.FirstSeen = min(s.FirstSeen, f.Timestamp)
	s.LastSeen = max(s.LastSeen, f.Timestamp)
	s.payloads[f.Payload] = struct{}{}
	s.Payloads = len(s.payloads)
}

// updateIOBuckets assumes frames arrive roughly in time order; earlier
// frames land in the first bucket.
func (m *Manager) updateIOBuckets(f *model.Frame) {
	if m.bucketSize <= 0 {
		return
	}

	bucketIdx := max(int((f.Timestamp-m.startTime)/m.bucketSize), 0)
	for len(m.ioBuckets) <= bucketIdx {
		start := m.startTime + float64(len(m.ioBuckets))*m.bucketSize
		m.ioBuckets = append(m.ioBuckets, &IOBucket{Start: start})
	}

	m.ioBuckets[bucketIdx].Frames++
	m.ioBuckets[bucketIdx].Bytes += int64(f.PayloadLen)
}

// Interfaces returns interface statistics sorted by name.
func (m *Manager) Interfaces() []*Interface {
	out := make([]*Interface, 0, len(m.interfaces))
	for _, s := range m.interfaces {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Labels returns label statistics sorted by frame count, descending.
func (m *Manager) Labels() []*Label {
	out := make([]*Label, 0, len(m.labels))
	for _, s := range m.labels {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frames != out[j].Frames {
			return out[i].Frames > out[j].Frames
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// IDs returns per-ID statistics sorted by frame count, descending.
func (m *Manager) IDs() []*ID {
	out := make([]*ID, 0, len(m.ids))
	for _, s := range m.ids {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frames != out[j].Frames {
			return out[i].Frames > out[j].Frames
		}
		return out[i].ID < out[j].ID
	})
	return out
}

const rule = "================================================================================"

// PrintInterfaces writes interface statistics to the writer
func (m *Manager) PrintInterfaces(w io.Writer) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Interfaces")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-12s %10s %12s %8s %12s %12s\n", "Interface", "Frames", "Bytes", "IDs", "Duration", "Frames/s")
	for _, s := range m.Interfaces() {
		d := s.LastSeen - s.FirstSeen
		rate := 0.0
		if d > 0 {
			rate = float64(s.Frames) / d
		}
		fmt.Fprintf(w, "%-12s %10d %12s %8d %12s %12.1f\n",
			truncate(s.Name, 12), s.Frames, formatBytes(s.Bytes), s.DistinctIDs(), formatSeconds(d), rate)
	}
	fmt.Fprintln(w, rule)
}

// PrintLabels writes label statistics to the writer
func (m *Manager) PrintLabels(w io.Writer) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Labels (diagnostic range from %s)\n", capture.FormatID(m.threshold))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-20s %10s %8s %14s\n", "Label", "Frames", "Share", "In diag range")
	for _, s := range m.Labels() {
		share := 0.0
		if m.totalFrames > 0 {
			share = 100 * float64(s.Frames) / float64(m.totalFrames)
		}
		fmt.Fprintf(w, "%-20s %10d %7.2f%% %14d\n", truncate(s.Name, 20), s.Frames, share, s.AboveRange)
	}
	fmt.Fprintln(w, rule)
}

// PrintIDs writes the top arbitration IDs to the writer. limit <= 0 prints all.
func (m *Manager) PrintIDs(w io.Writer, limit int) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Arbitration IDs")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-10s %10s %10s %14s  %s\n", "ID", "Frames", "Payloads", "Mean interval", "Labels")
	ids := m.IDs()
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	for _, s := range ids {
		names := make([]string, 0, len(s.Labels))
		for name := range s.Labels {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s=%d", name, s.Labels[name])
		}
		fmt.Fprintf(w, "%-10s %10d %10d %14s  %s\n",
			capture.FormatID(s.ID), s.Frames, s.Payloads, formatSeconds(s.MeanInterval()), strings.Join(parts, " "))
	}
	fmt.Fprintln(w, rule)
}

// PrintIOStats writes I/O statistics to the writer
func (m *Manager) PrintIOStats(w io.Writer) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "IO Statistics (interval: %.1fs)\n", m.bucketSize)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-24s %12s %15s %12s\n", "Interval", "Frames", "Bytes", "Frames/s")

	for i, bucket := range m.ioBuckets {
		start := float64(i) * m.bucketSize
		fmt.Fprintf(w, "%-24s %12d %15s %12.1f\n",
			fmt.Sprintf("%.1f - %.1f", start, start+m.bucketSize),
			bucket.Frames,
			formatBytes(bucket.Bytes),
			float64(bucket.Frames)/m.bucketSize,
		)
	}

	fmt.Fprintln(w, strings.Repeat("-", 80))
	duration := float64(len(m.ioBuckets)) * m.bucketSize
	avg := 0.0
	if duration > 0 {
		avg = float64(m.totalFrames) / duration
	}
	fmt.Fprintf(w, "%-24s %12d %15s %12.1f\n", "Total", m.totalFrames, formatBytes(m.totalBytes), avg)
	fmt.Fprintln(w, rule)
}

// Helper functions

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func formatSeconds(s float64) string {
	switch {
	case s < 1:
		return fmt.Sprintf("%.1fms", s*1000)
	case s < 60:
		return fmt.Sprintf("%.2fs", s)
	case s < 3600:
		return fmt.Sprintf("%.1fm", s/60)
	}
	return fmt.Sprintf("%.1fh", s/3600)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
