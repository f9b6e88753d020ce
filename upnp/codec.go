package upnp

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ArgKind identifies which field of an ArgValue is populated.
type ArgKind int

const (
	KindString ArgKind = iota
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindTime
)

// ArgValue is the tagged union used to pass action arguments in both
// directions: callers build one with StringArg/IntArg/.../TimeArg, and
// decoded action output arrives as one. String is the catch-all used for
// uri/char/uuid/string datatypes and anything the caller hasn't typed.
type ArgValue struct {
	kind ArgKind
	str  string
	i64  int64
	f64  float64
	bl   bool
	by   []byte
	tm   time.Time
}

func StringArg(s string) ArgValue               { return ArgValue{kind: KindString, str: s} }
func IntArg(i int64) ArgValue                    { return ArgValue{kind: KindInt, i64: i} }
func FloatArg(f float64) ArgValue                { return ArgValue{kind: KindFloat, f64: f} }
func BoolArg(b bool) ArgValue                     { return ArgValue{kind: KindBool, bl: b} }
func BytesArg(b []byte) ArgValue                  { return ArgValue{kind: KindBytes, by: b} }
func TimeArg(t time.Time) ArgValue                { return ArgValue{kind: KindTime, tm: t} }

func (v ArgValue) Kind() ArgKind { return v.kind }

// AsString returns the value formatted as a string regardless of kind.
func (v ArgValue) AsString() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i64, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f64, 'g', -1, 64)
	case KindBool:
		if v.bl {
			return "1"
		}
		return "0"
	case KindBytes:
		return string(v.by)
	case KindTime:
		return v.tm.Format(time.RFC3339)
	default:
		return v.str
	}
}

func (v ArgValue) AsInt() (int64, bool) {
	if v.kind == KindInt {
		return v.i64, true
	}
	if v.kind == KindString {
		i, err := strconv.ParseInt(strings.TrimSpace(v.str), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func (v ArgValue) AsFloat() (float64, bool) {
	if v.kind == KindFloat {
		return v.f64, true
	}
	if v.kind == KindInt {
		return float64(v.i64), true
	}
	if v.kind == KindString {
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		return f, err == nil
	}
	return 0, false
}

func (v ArgValue) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.bl, true
	}
	if v.kind == KindString {
		b, err := parseUPnPBool(v.str)
		return b, err == nil
	}
	return false, false
}

func (v ArgValue) AsBytes() ([]byte, bool) {
	if v.kind == KindBytes {
		return v.by, true
	}
	if v.kind == KindString {
		return []byte(v.str), true
	}
	return nil, false
}

func (v ArgValue) AsTime() (time.Time, bool) {
	if v.kind == KindTime {
		return v.tm, true
	}
	return time.Time{}, false
}

// ValueRange is the UPnP allowedValueRange: Min <= v <= Max, and, when Step
// is present, (v-Min) mod Step == 0.
type ValueRange struct {
	Min     float64
	Max     float64
	Step    float64
	HasStep bool
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

type intRange struct {
	min, max int64
}

var signedIntRanges = map[string]intRange{
	"i1":  {-128, 127},
	"i2":  {-32768, 32767},
	"i4":  {-2147483648, 2147483647},
	"i8":  {math.MinInt64, math.MaxInt64},
	"int": {-2147483648, 2147483647},
}

var unsignedIntRanges = map[string]struct{ min, max uint64 }{
	"ui1": {0, 255},
	"ui2": {0, 65535},
	"ui4": {0, 4294967295},
	"ui8": {0, math.MaxUint64},
}

// EncodeArg converts a host value into its UPnP wire representation for
// datatype. Validation (allowed_values / allowed_value_range) happens
// separately in ValidateEncoded so that callers can order the two checks as
// the SOAP client does: encode, then validate, then (only then) touch the
// network.
func EncodeArg(datatype string, v ArgValue) (string, error) {
	dt := strings.TrimSpace(datatype)
	tz := strings.HasSuffix(dt, ".tz")
	base := strings.TrimSuffix(dt, ".tz")

	switch {
	case isUnsignedInt(base):
		i, ok := v.AsInt()
		if !ok {
			return "", fmt.Errorf("value is not an integer")
		}
		r := unsignedIntRanges[base]
		if i < 0 || uint64(i) < r.min || uint64(i) > r.max {
			return "", fmt.Errorf("%s out of range [%d, %d]", base, r.min, r.max)
		}
		return strconv.FormatInt(i, 10), nil

	case isSignedInt(base):
		i, ok := v.AsInt()
		if !ok {
			return "", fmt.Errorf("value is not an integer")
		}
		r := signedIntRanges[base]
		if i < r.min || i > r.max {
			return "", fmt.Errorf("%s out of range [%d, %d]", base, r.min, r.max)
		}
		return strconv.FormatInt(i, 10), nil

	case base == "r4":
		f, ok := v.AsFloat()
		if !ok {
			return "", fmt.Errorf("value is not a float")
		}
		if math.Abs(f) > math.MaxFloat32 {
			return "", fmt.Errorf("r4 out of float32 range")
		}
		return strconv.FormatFloat(f, 'g', -1, 32), nil

	case base == "r8" || base == "float" || base == "number":
		f, ok := v.AsFloat()
		if !ok {
			return "", fmt.Errorf("value is not a float")
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", fmt.Errorf("%s must be finite", base)
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil

	case base == "fixed.14.4":
		f, ok := v.AsFloat()
		if !ok {
			return "", fmt.Errorf("value is not a float")
		}
		return strconv.FormatFloat(f, 'f', 4, 64), nil

	case base == "boolean":
		if b, ok := v.AsBool(); ok {
			if b {
				return "1", nil
			}
			return "0", nil
		}
		return "", fmt.Errorf("value is not a recognised boolean")

	case base == "bin.base64":
		b, ok := v.AsBytes()
		if !ok {
			return "", fmt.Errorf("value is not bytes")
		}
		return base64.StdEncoding.EncodeToString(b), nil

	case base == "bin.hex":
		b, ok := v.AsBytes()
		if !ok {
			return "", fmt.Errorf("value is not bytes")
		}
		return hex.EncodeToString(b), nil

	case base == "uri":
		s := v.AsString()
		if _, err := url.Parse(s); err != nil {
			return "", fmt.Errorf("invalid uri: %w", err)
		}
		return s, nil

	case base == "date":
		t, ok := v.AsTime()
		if !ok {
			return "", fmt.Errorf("value is not a time")
		}
		return t.Format("2006-01-02"), nil

	case base == "dateTime":
		t, ok := v.AsTime()
		if !ok {
			return "", fmt.Errorf("value is not a time")
		}
		if tz {
			return t.Format("2006-01-02T15:04:05Z07:00"), nil
		}
		return t.Format("2006-01-02T15:04:05"), nil

	case base == "time":
		t, ok := v.AsTime()
		if !ok {
			return "", fmt.Errorf("value is not a time")
		}
		if tz {
			return t.Format("15:04:05Z07:00"), nil
		}
		return t.Format("15:04:05"), nil

	case base == "char":
		s := v.AsString()
		if len([]rune(s)) != 1 {
			return "", fmt.Errorf("char datatype must be exactly one rune")
		}
		return s, nil

	case base == "uuid":
		s := v.AsString()
		if !uuidPattern.MatchString(s) {
			return "", fmt.Errorf("value is not a valid uuid")
		}
		return s, nil

	case base == "string":
		return v.AsString(), nil

	default:
		return "", fmt.Errorf("unrecognised datatype %q", datatype)
	}
}

// DecodeArg is the inverse of EncodeArg: it parses a wire string into a
// typed ArgValue. Whitespace around the wire value is tolerated.
func DecodeArg(datatype string, wire string) (ArgValue, error) {
	dt := strings.TrimSpace(datatype)
	tz := strings.HasSuffix(dt, ".tz")
	base := strings.TrimSuffix(dt, ".tz")
	s := strings.TrimSpace(wire)

	switch {
	case isUnsignedInt(base) || isSignedInt(base):
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return ArgValue{}, fmt.Errorf("invalid %s value %q: %w", base, wire, err)
		}
		return IntArg(i), nil

	case base == "r4" || base == "r8" || base == "float" || base == "number" || base == "fixed.14.4":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return ArgValue{}, fmt.Errorf("invalid %s value %q: %w", base, wire, err)
		}
		return FloatArg(f), nil

	case base == "boolean":
		b, err := parseUPnPBool(s)
		if err != nil {
			return ArgValue{}, err
		}
		return BoolArg(b), nil

	case base == "bin.base64":
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return ArgValue{}, fmt.Errorf("invalid base64 value: %w", err)
		}
		return BytesArg(b), nil

	case base == "bin.hex":
		b, err := hex.DecodeString(s)
		if err != nil {
			return ArgValue{}, fmt.Errorf("invalid hex value: %w", err)
		}
		return BytesArg(b), nil

	case base == "date":
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return ArgValue{}, fmt.Errorf("invalid date value %q: %w", wire, err)
		}
		return TimeArg(t), nil

	case base == "dateTime":
		layout := "2006-01-02T15:04:05"
		if tz {
			layout = "2006-01-02T15:04:05Z07:00"
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			return ArgValue{}, fmt.Errorf("invalid dateTime value %q: %w", wire, err)
		}
		return TimeArg(t), nil

	case base == "time":
		layout := "15:04:05"
		if tz {
			layout = "15:04:05Z07:00"
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			return ArgValue{}, fmt.Errorf("invalid time value %q: %w", wire, err)
		}
		return TimeArg(t), nil

	case base == "uri", base == "string", base == "char", base == "uuid":
		return StringArg(s), nil

	default:
		return ArgValue{}, fmt.Errorf("unrecognised datatype %q", datatype)
	}
}

// ValidateEncoded checks an already-encoded wire value against the
// allowed_values set and allowed_value_range of argdef, per §4.A. It must be
// called before the value is placed on the wire.
func ValidateEncoded(datatype string, wire string, allowedValues map[string]struct{}, valueRange *ValueRange) error {
	if len(allowedValues) > 0 {
		if _, ok := allowedValues[wire]; !ok {
			return fmt.Errorf("value %q not in allowed values list", wire)
		}
	}
	if valueRange != nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(wire), 64)
		if err != nil {
			return fmt.Errorf("value %q is not numeric, cannot check allowed_value_range: %w", wire, err)
		}
		if v < valueRange.Min || v > valueRange.Max {
			return fmt.Errorf("value %v outside allowed range [%v, %v]", v, valueRange.Min, valueRange.Max)
		}
		if valueRange.HasStep && valueRange.Step != 0 {
			steps := (v - valueRange.Min) / valueRange.Step
			if math.Abs(steps-math.Round(steps)) > 1e-9 {
				return fmt.Errorf("value %v is not a multiple of step %v from min %v", v, valueRange.Step, valueRange.Min)
			}
		}
	}
	_ = datatype
	return nil
}

func isUnsignedInt(base string) bool {
	_, ok := unsignedIntRanges[base]
	return ok
}

func isSignedInt(base string) bool {
	_, ok := signedIntRanges[base]
	return ok
}

func parseUPnPBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", s)
	}
}
