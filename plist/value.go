/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Property list value model
 *
 * No third-party plist codec appears anywhere in the example pack, so
 * this type and its XML/binary encoders (xml.go, binary.go) are
 * hand-rolled, in the style of the teacher's own hand-rolled IPP
 * attribute model (ipp.go) rather than reached for from goipp, since
 * goipp speaks IPP's attribute syntax, not Apple's plist formats.
 */

package plist

import (
	"fmt"
	"time"
)

// Kind tags which variant a Value holds
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInteger
	KindReal
	KindString
	KindData
	KindDate
	KindArray
	KindDict
	KindUID
)

// Value is a single property-list node. Exactly one of the typed
// fields is meaningful, selected by Kind; Array and Dict hold nested
// Values.
type Value struct {
	Kind Kind

	Bool    bool
	Integer int64
	Real    float64
	String  string
	Data    []byte
	Date    time.Time
	UID     uint64

	Array []Value
	Dict  map[string]Value
}

func Bool(b bool) Value                { return Value{Kind: KindBool, Bool: b} }
func Integer(v int64) Value            { return Value{Kind: KindInteger, Integer: v} }
func Real(v float64) Value             { return Value{Kind: KindReal, Real: v} }
func String(s string) Value            { return Value{Kind: KindString, String: s} }
func Data(b []byte) Value              { return Value{Kind: KindData, Data: b} }
func Date(t time.Time) Value           { return Value{Kind: KindDate, Date: t} }
func UID(v uint64) Value               { return Value{Kind: KindUID, UID: v} }
func Array(items ...Value) Value       { return Value{Kind: KindArray, Array: items} }
func Dict(m map[string]Value) Value    { return Value{Kind: KindDict, Dict: m} }

// NewDict returns an empty, ready-to-populate dict Value
func NewDict() Value {
	return Value{Kind: KindDict, Dict: make(map[string]Value)}
}

// Set assigns key in a dict Value; it panics if v is not a dict, since
// that always indicates a programming error at the call site
func (v *Value) Set(key string, val Value) {
	if v.Kind != KindDict {
		panic("plist: Set on non-dict Value")
	}
	if v.Dict == nil {
		v.Dict = make(map[string]Value)
	}
	v.Dict[key] = val
}

// Get looks up key in a dict Value, returning ok=false if v is not a
// dict or the key is absent
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	val, ok := v.Dict[key]
	return val, ok
}

// GetString is a convenience accessor returning "" if key is absent
// or not a string
func (v Value) GetString(key string) string {
	val, ok := v.Get(key)
	if !ok || val.Kind != KindString {
		return ""
	}
	return val.String
}

// GetBool is a convenience accessor returning false if key is absent
// or not a bool
func (v Value) GetBool(key string) bool {
	val, ok := v.Get(key)
	if !ok || val.Kind != KindBool {
		return false
	}
	return val.Bool
}

// Equal reports deep equality between two Values, used by the codec
// round-trip tests
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}

	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInteger:
		return a.Integer == b.Integer
	case KindReal:
		return a.Real == b.Real
	case KindString:
		return a.String == b.String
	case KindData:
		if len(a.Data) != len(b.Data) {
			return false
		}
		for i := range a.Data {
			if a.Data[i] != b.Data[i] {
				return false
			}
		}
		return true
	case KindDate:
		return a.Date.Equal(b.Date)
	case KindUID:
		return a.UID == b.UID
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if len(a.Dict) != len(b.Dict) {
			return false
		}
		for k, av := range a.Dict {
			bv, ok := b.Dict[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	case KindData:
		return "data"
	case KindDate:
		return "date"
	case KindArray:
		return "array"
	case KindDict:
		return "dict"
	case KindUID:
		return "uid"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}
