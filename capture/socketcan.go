package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Zerofisher/canids/decode"
	"github.com/Zerofisher/canids/pkg/model"
)

// LinkTypeSocketCAN is DLT_CAN_SOCKETCAN: a 16-byte struct can_frame with the
// CAN ID in network byte order.
const LinkTypeSocketCAN layers.LinkType = 227

// SocketCAN ID flags and masks.
const (
	canEFFFlag = 0x80000000
	canRTRFlag = 0x40000000
	canERRFlag = 0x20000000
	canSFFMask = 0x000007FF
	canEFFMask = 0x1FFFFFFF

	canFrameLen = 16
)

// ErrErrorFrame marks a SocketCAN error frame, which carries no traffic.
var ErrErrorFrame = errors.New("socketcan error frame")

// EncodeFrame renders f as a SocketCAN can_frame.
func EncodeFrame(f *model.Frame) []byte {
	buf := make([]byte, canFrameLen)
	id := f.ArbitrationID
	if id > canSFFMask {
		id = (id & canEFFMask) | canEFFFlag
	}
	binary.BigEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(f.DLC)
	copy(buf[8:], f.Payload[:])
	return buf
}

// DecodeFrame parses a SocketCAN can_frame into ID, DLC and data bytes.
func DecodeFrame(data []byte) (id uint32, dlc int, payload []byte, err error) {
	if len(data) < 8 {
		return 0, 0, nil, fmt.Errorf("%w: socketcan frame of %d bytes", decode.ErrMalformed, len(data))
	}
	raw := binary.BigEndian.Uint32(data[0:4])
	if raw&canERRFlag != 0 {
		return 0, 0, nil, ErrErrorFrame
	}
	if raw&canEFFFlag != 0 {
		id = raw & canEFFMask
	} else {
		id = raw & canSFFMask
	}

	// Out-of-range lengths, e.g. CAN FD frames, are left to the normalizer.
	dlc = int(data[4])
	if raw&canRTRFlag != 0 {
		return id, dlc, nil, nil
	}
	n := min(dlc, len(data)-8, model.PayloadSize)
	return id, dlc, data[8 : 8+n], nil
}

// packetSource is the common part of pcapgo.Reader and pcapgo.NgReader.
type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// PcapReader reads SocketCAN frames from a pcap or pcapng file.
type PcapReader struct {
	file      *os.File
	src       packetSource
	ng        *pcapgo.NgReader
	opts      Options
	packet    int
	errFrames int
}

// OpenPcap opens a SocketCAN capture.
func OpenPcap(path string, opts Options) (*PcapReader, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := &PcapReader{file: f, opts: opts}
	if format == FormatPcapNG {
		ng, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open pcapng %s: %w", path, err)
		}
		r.src, r.ng = ng, ng
	} else {
		pr, err := pcapgo.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open pcap %s: %w", path, err)
		}
		r.src = pr
	}

	if lt := r.src.LinkType(); lt != LinkTypeSocketCAN {
		f.Close()
		return nil, fmt.Errorf("%s: link type %v is not SocketCAN", path, lt)
	}
	return r, nil
}

// Next returns the next data frame, skipping error frames.
func (r *PcapReader) Next() (decode.Record, error) {
	for {
		data, ci, err := r.src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return decode.Record{}, io.EOF
		}
		if err != nil {
			return decode.Record{}, fmt.Errorf("packet %d: %w", r.packet+1, err)
		}
		r.packet++

		id, dlc, payload, err := DecodeFrame(data)
		if errors.Is(err, ErrErrorFrame) {
			r.errFrames++
			continue
		}

		rec := decode.Record{
			Line:          r.packet,
			Interface:     r.interfaceName(ci.InterfaceIndex),
			Timestamp:     toSeconds(ci.Timestamp),
			ArbitrationID: id,
			DLC:           dlc,
		}
		if err != nil {
			// No usable ID; the normalizer's malformed policy applies.
			rec.ArbitrationID = nil
			return rec, nil
		}
		var p model.Payload
		copy(p[:], payload)
		rec.Data = p.Hex(len(payload))
		return rec, nil
	}
}

func (r *PcapReader) interfaceName(index int) string {
	if r.ng != nil {
		if intf, err := r.ng.Interface(index); err == nil && intf.Name != "" {
			return intf.Name
		}
	}
	return r.opts.Interface
}

// ErrorFrames returns the number of skipped error frames.
func (r *PcapReader) ErrorFrames() int { return r.errFrames }

// Close closes the file.
func (r *PcapReader) Close() error {
	return r.file.Close()
}

func toSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func fromSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}
