package capture

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"github.com/Zerofisher/canids/pkg/model"
)

// PcapWriter writes frames to a SocketCAN pcapng file with one pcapng
// interface per bus interface.
type PcapWriter struct {
	file       *os.File
	writer     *pcapgo.NgWriter
	mu         sync.Mutex
	count      int
	interfaces map[string]int
	closed     bool
}

// NewPcapWriter creates a writer. The first name becomes interface 0; frames
// from unknown interfaces add interfaces on demand.
func NewPcapWriter(filename string, first string) (*PcapWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filename, err)
	}

	ngOptions := pcapgo.NgWriterOptions{
		SectionInfo: pcapgo.NgSectionInfo{
			Application: "canids",
		},
	}

	writer, err := pcapgo.NewNgWriterInterface(file, pcapgo.NgInterface{
		Name:       first,
		LinkType:   LinkTypeSocketCAN,
		SnapLength: canFrameLen,
	}, ngOptions)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create pcapng writer: %w", err)
	}

	return &PcapWriter{
		file:       file,
		writer:     writer,
		interfaces: map[string]int{first: 0},
	}, nil
}

// WriteFrame writes a single frame.
func (w *PcapWriter) WriteFrame(f *model.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	idx, ok := w.interfaces[f.Interface]
	if !ok {
		var err error
		idx, err = w.writer.AddInterface(pcapgo.NgInterface{
			Name:       f.Interface,
			LinkType:   LinkTypeSocketCAN,
			SnapLength: canFrameLen,
		})
		if err != nil {
			return fmt.Errorf("add interface %s: %w", f.Interface, err)
		}
		w.interfaces[f.Interface] = idx
	}

	data := EncodeFrame(f)
	ci := gopacket.CaptureInfo{
		Timestamp:      fromSeconds(f.Timestamp),
		CaptureLength:  len(data),
		Length:         len(data),
		InterfaceIndex: idx,
	}
	if err := w.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	w.count++
	return nil
}

// WriteFrames writes multiple frames.
func (w *PcapWriter) WriteFrames(frames []model.Frame) (int, error) {
	written := 0
	for i := range frames {
		if err := w.WriteFrame(&frames[i]); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// Close flushes and closes the file.
func (w *PcapWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush: %w", err)
	}
	return w.file.Close()
}

// Count returns the number of frames written.
func (w *PcapWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
