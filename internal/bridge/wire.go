package bridge

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mzyy94/scanbridge/internal/scan"
)

// Magic starts every frame after the length.
var Magic = [4]byte{'S', 'C', 'B', 'R'}

// headerSize is length + magic + type + reserved.
const headerSize = 16

// maxFrameSize bounds a frame body; inline network images are the largest.
const maxFrameSize = 512 << 20

// MsgType identifies a frame.
type MsgType uint32

const (
	MsgGetDevices MsgType = 0x01 // request: enumerate devices
	MsgScan       MsgType = 0x02 // request: run a scan
	MsgCancel     MsgType = 0x03 // request: cancel the running scan

	MsgDevice    MsgType = 0x10 // one enumerated device
	MsgPageStart MsgType = 0x11
	MsgProgress  MsgType = 0x12
	MsgImage     MsgType = 0x13 // handoff path or inline TIFF
	MsgError     MsgType = 0x14 // classified failure, precedes Done
	MsgDone      MsgType = 0x1F // last frame of a response
)

var msgNames = map[MsgType]string{
	MsgGetDevices: "get-devices",
	MsgScan:       "scan",
	MsgCancel:     "cancel",
	MsgDevice:     "device",
	MsgPageStart:  "page-start",
	MsgProgress:   "progress",
	MsgImage:      "image",
	MsgError:      "error",
	MsgDone:       "done",
}

func (t MsgType) String() string {
	if s, ok := msgNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%02X", uint32(t))
}

// Request bodies.
type request struct {
	Session string        `json:"session,omitempty"`
	Options *scan.Options `json:"options"`
}

type progressBody struct {
	Progress float64 `json:"progress"`
}

// imageBody carries an image by reference (Path) or by value (Data, TIFF).
// TIFF does not keep the resolution, so it travels alongside.
type imageBody struct {
	Path string  `json:"path,omitempty"`
	Data []byte  `json:"data,omitempty"`
	XRes float64 `json:"xres"`
	YRes float64 `json:"yres"`
}

type errorBody struct {
	Kind    scan.Kind `json:"kind"`
	Message string    `json:"message"`
}

func errorBodyOf(err error) errorBody {
	var se *scan.Error
	if errors.As(err, &se) {
		return errorBody{Kind: se.Kind, Message: se.Error()}
	}
	return errorBody{Kind: scan.KindUnknown, Message: err.Error()}
}

// Err rebuilds the error on the receiving side with its original kind.
func (b errorBody) Err() error {
	return &scan.Error{Kind: scan.ParseKind(string(b.Kind)), Msg: b.Message}
}

// MarshalFrame builds a frame: [len][magic][type][reserved][JSON body].
// len counts the whole frame.
func MarshalFrame(t MsgType, body any) ([]byte, error) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", t, err)
		}
	}
	buf := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	copy(buf[4:8], Magic[:])
	binary.BigEndian.PutUint32(buf[8:12], uint32(t))
	copy(buf[headerSize:], data)
	return buf, nil
}

// ReadFrame reads one frame and returns its type and JSON body.
func ReadFrame(r io.Reader) (MsgType, []byte, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, nil, err
	}
	if [4]byte(hdr[4:8]) != Magic {
		return 0, nil, fmt.Errorf("bad frame magic %q", hdr[4:8])
	}
	n := binary.BigEndian.Uint32(hdr[0:4])
	if n < headerSize || n > maxFrameSize {
		return 0, nil, fmt.Errorf("bad frame length %d", n)
	}
	body := make([]byte, n-headerSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("read frame body: %w", err)
	}
	return MsgType(binary.BigEndian.Uint32(hdr[8:12])), body, nil
}

// conn serializes frame writes from the scan goroutine and the cancel path.
type conn struct {
	r  io.Reader
	mu sync.Mutex
	w  io.Writer
}

func newConn(rw io.ReadWriter) *conn {
	return &conn{r: rw, w: rw}
}

func (c *conn) send(t MsgType, body any) error {
	frame, err := MarshalFrame(t, body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("send %s: %w", t, err)
	}
	return nil
}

func (c *conn) recv() (MsgType, []byte, error) {
	return ReadFrame(c.r)
}

func decode(t MsgType, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", t, err)
	}
	return nil
}
