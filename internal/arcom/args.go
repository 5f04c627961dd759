package arcom

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// ErrArgsFormat 交替参数格式错误
var ErrArgsFormat = errors.New("arcom: malformed arguments")

// ParseArgs 解析 values, "tag", values, "tag"... 形式的写入参数
//
// values 可以是任意整数切片、单个整数或 []byte；tag 可以是 string 或 TypeTag。
func ParseArgs(args ...any) ([]Segment, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("%w: expected value/type pairs, got %d arguments", ErrArgsFormat, len(args))
	}
	segs := make([]Segment, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		tag, err := tagArg(args[i+1])
		if err != nil {
			return nil, err
		}
		values, err := valuesArg(args[i])
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrArgsFormat, i, err)
		}
		segs = append(segs, Segment{Tag: tag, Values: values})
	}
	return segs, nil
}

// ParseWants 解析 count, "tag", count, "tag"... 形式的读取参数
func ParseWants(args ...any) ([]Want, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("%w: expected count/type pairs, got %d arguments", ErrArgsFormat, len(args))
	}
	wants := make([]Want, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		tag, err := tagArg(args[i+1])
		if err != nil {
			return nil, err
		}
		n, err := intArg(reflect.ValueOf(args[i]))
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrArgsFormat, i, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: read %d: %d", ErrNegativeCount, i/2, n)
		}
		if n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: read %d: %d", ErrTooLarge, i/2, n)
		}
		wants = append(wants, Want{Count: int(n), Tag: tag})
	}
	return wants, nil
}

func tagArg(v any) (TypeTag, error) {
	switch t := v.(type) {
	case TypeTag:
		return ParseTypeTag(string(t))
	case string:
		return ParseTypeTag(t)
	default:
		return "", fmt.Errorf("%w: type tag must be a string, got %T", ErrArgsFormat, v)
	}
}

func valuesArg(v any) ([]int64, error) {
	switch vs := v.(type) {
	case []int64:
		return vs, nil
	case []byte:
		return Ints(vs...), nil
	case string:
		return Ints([]byte(vs)...), nil
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, errors.New("nil values")
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		n, err := intArg(rv)
		if err != nil {
			return nil, err
		}
		return []int64{n}, nil
	}
	out := make([]int64, rv.Len())
	for i := range out {
		n, err := intArg(rv.Index(i))
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = n
	}
	return out, nil
}

func intArg(rv reflect.Value) (int64, error) {
	if rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f > math.MaxInt64 {
			return 0, fmt.Errorf("value %v is not an integer", f)
		}
		return int64(f), nil
	case reflect.Invalid:
		return 0, errors.New("nil value")
	default:
		return 0, fmt.Errorf("unsupported value type %s", rv.Type())
	}
}

// Summary 段摘要，如 uint16x100,uint32x100
func Summary(segs ...Segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = fmt.Sprintf("%sx%d", s.Tag, len(s.Values))
	}
	return strings.Join(parts, ",")
}

// WantSummary 读取声明摘要
func WantSummary(wants ...Want) string {
	parts := make([]string, len(wants))
	for i, w := range wants {
		parts[i] = fmt.Sprintf("%sx%d", w.Tag, w.Count)
	}
	return strings.Join(parts, ",")
}
