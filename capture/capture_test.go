package capture

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/canids/decode"
	"github.com/Zerofisher/canids/pkg/model"
)

const sampleCSV = "\ufeffInterface,Timestamp,Arbitration_ID,DLC,Data,Label\n" +
	"B-CAN,0.000100,1A0,3,40 B2 81,Normal\n" +
	"C-CAN,0.000200,7DF,8,02 10 03 00 00 00 00 00,UDS_Spoofing_DID\n" +
	"B-CAN,0.000300,1A0,0,,Normal\n"

func TestCSVReader(t *testing.T) {
	r, err := NewCSVReader(strings.NewReader(sampleCSV), Options{})
	require.NoError(t, err)
	defer r.Close()

	recs, err := ReadAll(r)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, decode.Record{
		Line: 2, Interface: "B-CAN", Timestamp: "0.000100", ArbitrationID: "1A0",
		DLC: "3", Data: "40 B2 81", Label: "Normal",
	}, recs[0])
	assert.Equal(t, "UDS_Spoofing_DID", recs[1].Label)
	assert.Equal(t, "", recs[2].Data)
	assert.Equal(t, 4, recs[2].Line)
}

func TestCSVReaderOptionalColumns(t *testing.T) {
	in := "timestamp,arbitration_id,dlc,attack\n1.0,100,0,DoS\n"
	r, err := NewCSVReader(strings.NewReader(in), Options{LabelColumn: "Attack", Interface: "P-CAN"})
	require.NoError(t, err)

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "P-CAN", rec.Interface)
	assert.Equal(t, "DoS", rec.Label)
	assert.Equal(t, "", rec.Data)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCSVReaderMissingColumn(t *testing.T) {
	_, err := NewCSVReader(strings.NewReader("Timestamp,DLC\n"), Options{})
	assert.ErrorContains(t, err, "Arbitration_ID")
}

func TestCSVWriterRoundTrip(t *testing.T) {
	var sb strings.Builder
	w, err := NewCSVWriter(&sb, "")
	require.NoError(t, err)

	f := model.Frame{Interface: "B-CAN", Timestamp: 1.25, ArbitrationID: 0x1A0, DLC: 2,
		Payload: model.Payload{0xDE, 0xAD}, PayloadLen: 2, Label: "Replay"}
	require.NoError(t, w.WriteFrame(&f))
	require.NoError(t, w.Flush())

	r, err := NewCSVReader(strings.NewReader(sb.String()), Options{})
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "1A0", rec.ArbitrationID)
	assert.Equal(t, "DE AD", rec.Data)
	assert.Equal(t, "1.25", rec.Timestamp)
	assert.Equal(t, "Replay", rec.Label)
}

func TestFormatID(t *testing.T) {
	assert.Equal(t, "07F", FormatID(0x7F))
	assert.Equal(t, "18DA10F1", FormatID(0x18DA10F1))
}

func TestEncodeDecodeFrame(t *testing.T) {
	tests := []model.Frame{
		{ArbitrationID: 0x1A0, DLC: 3, Payload: model.Payload{1, 2, 3}, PayloadLen: 3},
		{ArbitrationID: 0x18DA10F1, DLC: 8, Payload: model.Payload{1, 2, 3, 4, 5, 6, 7, 8}, PayloadLen: 8},
		{ArbitrationID: 0x7FF, DLC: 0},
	}
	for _, f := range tests {
		data := EncodeFrame(&f)
		require.Len(t, data, 16)
		id, dlc, payload, err := DecodeFrame(data)
		require.NoError(t, err)
		assert.Equal(t, f.ArbitrationID, id)
		assert.Equal(t, f.DLC, dlc)
		assert.Equal(t, f.PresentBytes(), payload)
	}

	_, _, _, err := DecodeFrame([]byte{0x20, 0, 0, 0, 8, 0, 0, 0})
	assert.ErrorIs(t, err, ErrErrorFrame)

	_, _, _, err = DecodeFrame([]byte{1, 2})
	assert.ErrorIs(t, err, decode.ErrMalformed)
}

func TestPcapNGRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.pcapng")
	frames := []model.Frame{
		{Interface: "B-CAN", Timestamp: 1.5, ArbitrationID: 0x1A0, DLC: 2, Payload: model.Payload{0xAA, 0xBB}, PayloadLen: 2},
		{Interface: "C-CAN", Timestamp: 2.25, ArbitrationID: 0x18DA10F1, DLC: 1, Payload: model.Payload{0x01}, PayloadLen: 1},
		{Interface: "B-CAN", Timestamp: 3, ArbitrationID: 0x100, DLC: 0},
	}

	w, err := NewPcapWriter(path, "B-CAN")
	require.NoError(t, err)
	n, err := w.WriteFrames(frames)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, w.Close())

	format, err := DetectFormat(path)
	require.NoError(t, err)
	assert.Equal(t, FormatPcapNG, format)

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()
	recs, err := ReadAll(r)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	for i, f := range frames {
		assert.Equal(t, f.Interface, recs[i].Interface)
		assert.Equal(t, f.ArbitrationID, recs[i].ArbitrationID)
		assert.Equal(t, f.DLC, recs[i].DLC)
		assert.Equal(t, f.Payload.Hex(f.PayloadLen), recs[i].Data)
		assert.Equal(t, f.Timestamp, recs[i].Timestamp)
	}
}

func TestPcapReaderClassic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.dump")
	f, err := os.Create(path)
	require.NoError(t, err)

	pw := pcapgo.NewWriter(f)
	require.NoError(t, pw.WriteFileHeader(65536, LinkTypeSocketCAN))
	write := func(ts time.Time, data []byte) {
		ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
		require.NoError(t, pw.WritePacket(ci, data))
	}
	frame := model.Frame{ArbitrationID: 0x123, DLC: 1, Payload: model.Payload{0x42}, PayloadLen: 1}
	write(time.Unix(10, 500000000), EncodeFrame(&frame))
	write(time.Unix(11, 0), []byte{0x20, 0, 0, 0, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, f.Close())

	format, err := DetectFormat(path)
	require.NoError(t, err)
	assert.Equal(t, FormatPcap, format)

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	recs, err := ReadAll(r)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "capture", recs[0].Interface)
	assert.Equal(t, 10.5, recs[0].Timestamp)
	assert.Equal(t, "42", recs[0].Data)
	assert.Equal(t, 1, r.(*PcapReader).ErrorFrames())
}

func TestOpenPcapRejectsOtherLinkTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eth.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, pcapgo.NewWriter(f).WriteFileHeader(65536, 1))
	require.NoError(t, f.Close())

	_, err = OpenPcap(path, Options{})
	assert.ErrorContains(t, err, "not SocketCAN")
}
