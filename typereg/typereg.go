// Package typereg is the type codec registry: the set of converters between
// a setting's raw byte buffer and its wire text representation.
package typereg

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/jangala-dev/settings-go/x/strconvx"
)

// Codec converts a fixed-width byte buffer to and from its wire text form.
type Codec interface {
	// ToText renders buf's current contents as wire text.
	ToText(buf []byte) string
	// FromText parses text into buf, sized to len(buf). Reports whether the
	// text was accepted.
	FromText(text string, buf []byte) bool
	// DescribeType returns the wire type tag for registration/read
	// exchanges ("enum:Name1,Name2" for enums, empty for built-ins).
	DescribeType() string
}

// Fixed ids for the built-in codecs, per the registration order every
// Registry establishes at creation.
const (
	Int    = 0
	Float  = 1
	String = 2
	Bool   = 3
)

// Registry is an append-only, indexed list of codecs. Lookup is by the
// type_id returned from the insertion that created the codec.
type Registry struct {
	mu     sync.Mutex
	codecs []Codec
}

// New creates a Registry with the four built-in codecs pre-registered in
// their fixed order: int=0, float=1, string=2, bool=3.
func New() *Registry {
	r := &Registry{}
	r.codecs = append(r.codecs, intCodec{}, floatCodec{}, stringCodec{}, boolCodec{})
	return r
}

// RegisterEnum appends a user-defined enum codec and returns its type_id
// (the registry's pre-insertion length).
func (r *Registry) RegisterEnum(names []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := len(r.codecs)
	namesCopy := append([]string(nil), names...)
	r.codecs = append(r.codecs, &enumCodec{names: namesCopy})
	return id
}

// Lookup returns the codec registered under id, if any.
func (r *Registry) Lookup(id int) (Codec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.codecs) {
		return nil, false
	}
	return r.codecs[id], true
}

// --- built-ins ---

type intCodec struct{}

func (intCodec) ToText(buf []byte) string {
	v := decodeInt(buf)
	if len(buf) == 1 {
		// Widen 1-byte integers to avoid narrow-print portability issues.
		return strconvx.FormatInt(int64(int16(v)), 10)
	}
	return strconvx.FormatInt(v, 10)
}

func (intCodec) FromText(text string, buf []byte) bool {
	v, err := strconvx.ParseInt(text, 10, len(buf)*8)
	if err != nil {
		return false
	}
	encodeInt(buf, v)
	return true
}

func (intCodec) DescribeType() string { return "" }

func decodeInt(buf []byte) int64 {
	switch len(buf) {
	case 1:
		return int64(int8(buf[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(buf)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(buf)))
	default:
		return 0
	}
}

func encodeInt(buf []byte, v int64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(int8(v))
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(int16(v)))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	}
}

type floatCodec struct{}

// Precision is the fixed significant-digit count for float formatting; part
// of the wire contract, not a display preference.
const Precision = 12

func (floatCodec) ToText(buf []byte) string {
	switch len(buf) {
	case 4:
		f := math.Float32frombits(binary.LittleEndian.Uint32(buf))
		return strconvx.FormatFloat(float64(f), 'g', Precision, 32)
	case 8:
		f := math.Float64frombits(binary.LittleEndian.Uint64(buf))
		return strconvx.FormatFloat(f, 'g', Precision, 64)
	default:
		return ""
	}
}

func (floatCodec) FromText(text string, buf []byte) bool {
	switch len(buf) {
	case 4:
		f, err := strconvx.ParseFloat(text, 32)
		if err != nil {
			return false
		}
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
		return true
	case 8:
		f, err := strconvx.ParseFloat(text, 64)
		if err != nil {
			return false
		}
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		return true
	default:
		return false
	}
}

func (floatCodec) DescribeType() string { return "" }

type stringCodec struct{}

func (stringCodec) ToText(buf []byte) string {
	if i := indexZero(buf); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}

func (stringCodec) FromText(text string, buf []byte) bool {
	if len(text) > len(buf) {
		return false
	}
	n := copy(buf, text)
	for ; n < len(buf); n++ {
		buf[n] = 0
	}
	return true
}

func (stringCodec) DescribeType() string { return "" }

func indexZero(buf []byte) int {
	for i, b := range buf {
		if b == 0 {
			return i
		}
	}
	return -1
}

type boolCodec struct{}

var boolNames = []string{"False", "True"}

func (boolCodec) ToText(buf []byte) string {
	if len(buf) != 1 || buf[0] >= byte(len(boolNames)) {
		return ""
	}
	return boolNames[buf[0]]
}

func (boolCodec) FromText(text string, buf []byte) bool {
	if len(buf) != 1 {
		return false
	}
	for i, n := range boolNames {
		if n == text {
			buf[0] = byte(i)
			return true
		}
	}
	return false
}

func (boolCodec) DescribeType() string { return "" }

type enumCodec struct {
	names []string
}

func (e *enumCodec) ToText(buf []byte) string {
	if len(buf) != 1 || int(buf[0]) >= len(e.names) {
		return ""
	}
	return e.names[buf[0]]
}

func (e *enumCodec) FromText(text string, buf []byte) bool {
	if len(buf) != 1 {
		return false
	}
	for i, n := range e.names {
		if n == text {
			buf[0] = byte(i)
			return true
		}
	}
	return false
}

func (e *enumCodec) DescribeType() string {
	return "enum:" + strings.Join(e.names, ",")
}
