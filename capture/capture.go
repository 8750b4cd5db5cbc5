// Package capture reads CAN frames from labeled CSV logs and SocketCAN
// pcap/pcapng captures, and writes SocketCAN pcapng captures.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Zerofisher/canids/decode"
)

// Format is an input file format.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatPcap   Format = "pcap"
	FormatPcapNG Format = "pcapng"
)

// Reader yields raw records one at a time. Next returns io.EOF after the last
// record.
type Reader interface {
	Next() (decode.Record, error)
	Close() error
}

// Options configures how a source is read.
type Options struct {
	// LabelColumn names the CSV label column. Defaults to "Label".
	LabelColumn string
	// Interface tags records that carry no interface of their own.
	Interface string
}

// DefaultLabelColumn is the label column of the AutoHack dataset.
const DefaultLabelColumn = "Label"

var (
	pcapMagics = [][]byte{
		{0xD4, 0xC3, 0xB2, 0xA1}, {0xA1, 0xB2, 0xC3, 0xD4}, // microsecond
		{0x4D, 0x3C, 0xB2, 0xA1}, {0xA1, 0xB2, 0x3C, 0x4D}, // nanosecond
	}
	pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}
)

// DetectFormat picks a format from the file extension, falling back to the
// leading magic bytes.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".pcap", ".cap":
		return FormatPcap, nil
	case ".pcapng":
		return FormatPcapNG, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 4)
	if _, err := io.ReadFull(f, head); err != nil {
		return "", fmt.Errorf("detect format of %s: %w", path, err)
	}
	if bytes.Equal(head, pcapngMagic) {
		return FormatPcapNG, nil
	}
	for _, m := range pcapMagics {
		if bytes.Equal(head, m) {
			return FormatPcap, nil
		}
	}
	return FormatCSV, nil
}

// Open opens path with the reader matching its format.
func Open(path string, opts Options) (Reader, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if opts.Interface == "" && format != FormatCSV {
		opts.Interface = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	switch format {
	case FormatCSV:
		return OpenCSV(path, opts)
	default:
		return OpenPcap(path, opts)
	}
}

// ReadAll drains r.
func ReadAll(r Reader) ([]decode.Record, error) {
	var out []decode.Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
