// Package frame serialises scene updates into the binary frames streamed to
// rendering viewers.
//
// Every frame starts with a fixed header:
//
//	magic   [4]byte  "HEAT"
//	version uint8
//	kind    uint8    1 = topology, 2 = surface
//	flags   uint16   bit 0 running, bit 1 normals present
//	tick    uint64
//
// followed by the kind-specific body. Counts are uint32, all values are
// little-endian, and floating point buffers are float32 the way GPU attribute
// buffers expect them.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"heatsurface/broker/internal/scene"
)

// Version is the wire format revision.
const Version = 1

const headerSize = 16

var magic = [4]byte{'H', 'E', 'A', 'T'}

// ErrMalformedFrame is returned when decoding truncated or inconsistent data.
var ErrMalformedFrame = errors.New("malformed frame")

// Kind distinguishes frame bodies.
type Kind uint8

const (
	KindTopology Kind = 1
	KindSurface  Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTopology:
		return "topology"
	case KindSurface:
		return "surface"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	flagRunning uint16 = 1 << iota
	flagNormals
)

// Frame is the decoded form of a wire frame. Topology frames carry Divisions,
// Triangles and Lines; surface frames carry the remaining fields.
type Frame struct {
	Kind         Kind
	Tick         uint64
	Running      bool
	Time         float64
	Coefficients uint32
	Divisions    uint32
	World        [16]float32
	Positions    []float32
	Heights      []float32
	Normals      []float32
	Triangles    []uint32
	Lines        []uint32
}

// Topology builds the index frame for the update's surface. Index buffers
// depend only on the resolution, so viewers receive them once per connection.
func Topology(u scene.Update) *Frame {
	f := &Frame{Kind: KindTopology, Tick: u.Tick}
	if u.Surface != nil {
		f.Divisions = uint32(u.Surface.Divisions)
		f.Triangles = u.Surface.Triangles
		f.Lines = u.Surface.Lines
	}
	return f
}

// Surface builds the per-update vertex frame.
func Surface(u scene.Update) *Frame {
	f := &Frame{
		Kind:         KindSurface,
		Tick:         u.Tick,
		Running:      u.Phase == scene.Running,
		Time:         u.Time,
		Coefficients: uint32(u.Coefficients),
		World:        u.World,
	}
	if u.Surface != nil {
		f.Divisions = uint32(u.Surface.Divisions)
		f.Positions = toFloat32(u.Surface.Positions)
		f.Heights = toFloat32(u.Surface.Heights)
		f.Normals = toFloat32(u.Surface.Normals)
	}
	return f
}

func toFloat32(values []float64) []float32 {
	if values == nil {
		return nil
	}
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

// MarshalBinary encodes the frame.
func (f *Frame) MarshalBinary() ([]byte, error) {
	var flags uint16
	if f.Running {
		flags |= flagRunning
	}
	if len(f.Normals) > 0 {
		flags |= flagNormals
	}
	buf := make([]byte, 0, f.encodedSize())
	buf = append(buf, magic[:]...)
	buf = append(buf, Version, byte(f.Kind))
	buf = binary.LittleEndian.AppendUint16(buf, flags)
	buf = binary.LittleEndian.AppendUint64(buf, f.Tick)

	switch f.Kind {
	case KindTopology:
		buf = binary.LittleEndian.AppendUint32(buf, f.Divisions)
		buf = appendUint32s(buf, f.Triangles)
		buf = appendUint32s(buf, f.Lines)
	case KindSurface:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f.Time))
		buf = binary.LittleEndian.AppendUint32(buf, f.Coefficients)
		buf = binary.LittleEndian.AppendUint32(buf, f.Divisions)
		for _, v := range f.World {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
		buf = appendFloat32s(buf, f.Positions)
		buf = appendFloat32s(buf, f.Heights)
		buf = appendFloat32s(buf, f.Normals)
	default:
		return nil, fmt.Errorf("%w: cannot encode %s", ErrMalformedFrame, f.Kind)
	}
	return buf, nil
}

func (f *Frame) encodedSize() int {
	size := headerSize
	switch f.Kind {
	case KindTopology:
		size += 4 + 8 + 4*(len(f.Triangles)+len(f.Lines))
	case KindSurface:
		size += 8 + 4 + 4 + 64 + 12 + 4*(len(f.Positions)+len(f.Heights)+len(f.Normals))
	}
	return size
}

func appendUint32s(buf []byte, values []uint32) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(values)))
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	return buf
}

func appendFloat32s(buf []byte, values []float32) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(values)))
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

// UnmarshalBinary decodes data into f.
func (f *Frame) UnmarshalBinary(data []byte) error {
	r := reader{data: data}
	var head [4]byte
	copy(head[:], r.bytes(4))
	if r.err != nil || head != magic {
		return fmt.Errorf("%w: bad magic", ErrMalformedFrame)
	}
	if version := r.uint8(); version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedFrame, version)
	}
	*f = Frame{Kind: Kind(r.uint8())}
	flags := r.uint16()
	f.Tick = r.uint64()
	f.Running = flags&flagRunning != 0

	switch f.Kind {
	case KindTopology:
		f.Divisions = r.uint32()
		f.Triangles = r.uint32s()
		f.Lines = r.uint32s()
	case KindSurface:
		f.Time = math.Float64frombits(r.uint64())
		f.Coefficients = r.uint32()
		f.Divisions = r.uint32()
		for i := range f.World {
			f.World[i] = math.Float32frombits(r.uint32())
		}
		f.Positions = r.float32s()
		f.Heights = r.float32s()
		f.Normals = r.float32s()
	default:
		return fmt.Errorf("%w: unknown %s", ErrMalformedFrame, f.Kind)
	}
	if r.err != nil {
		return r.err
	}
	if len(r.data) != r.off {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(r.data)-r.off)
	}
	if flags&flagNormals != 0 && len(f.Normals) == 0 {
		return fmt.Errorf("%w: normals flag without normals", ErrMalformedFrame)
	}
	return nil
}

// reader walks a byte slice, remembering the first short read.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = fmt.Errorf("%w: truncated at offset %d", ErrMalformedFrame, r.off)
		return nil
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) uint8() uint8 {
	if b := r.bytes(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) uint16() uint16 {
	if b := r.bytes(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) uint32() uint32 {
	if b := r.bytes(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) uint64() uint64 {
	if b := r.bytes(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) count() int {
	n := int(r.uint32())
	if r.err == nil && n > (len(r.data)-r.off)/4 {
		r.err = fmt.Errorf("%w: section of %d values exceeds payload", ErrMalformedFrame, n)
		return 0
	}
	return n
}

func (r *reader) uint32s() []uint32 {
	n := r.count()
	if r.err != nil || n == 0 {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = r.uint32()
	}
	return out
}

func (r *reader) float32s() []float32 {
	n := r.count()
	if r.err != nil || n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(r.uint32())
	}
	return out
}
