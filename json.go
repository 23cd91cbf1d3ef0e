package jsbridge

import (
	"runtime"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/Gaurav-Gosain/jsbridge/internal/bridge"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseJSON parses text with the script's JSON.parse. Text that is not
// valid JSON returns ErrInvalidJSON.
func (c *Context) ParseJSON(text string) (Value, error) {
	if err := c.enter(); err != nil {
		return Value{}, err
	}
	defer c.leave()

	raw := c.state.bridge().MakeFromJSONString(c.state.raw, text)
	if raw == 0 {
		return Value{}, errors.WithStack(ErrInvalidJSON)
	}
	return c.value(raw), nil
}

// ToJSON serializes v with the script's JSON.stringify, indenting nested
// levels by indent spaces. Values that have no JSON form, such as undefined
// or functions, return ErrNotSerializable.
func (v Value) ToJSON(indent int) (string, error) {
	done, err := v.acquire()
	if err != nil {
		return "", err
	}
	defer done()

	st := v.st
	var exc bridge.Value
	s, ok := st.bridge().CreateJSONString(st.raw, v.raw(), indent, &exc)
	if exc != 0 {
		return "", v.raise(exc)
	}
	if !ok {
		return "", errors.Wrapf(ErrNotSerializable, "value of type %s", st.bridge().GetType(st.raw, v.raw()))
	}
	return s, nil
}

// ValueOf converts a Go value into a script value through its JSON encoding.
// A Value is returned unchanged and nil becomes null.
func (c *Context) ValueOf(x any) (Value, error) {
	switch x := x.(type) {
	case Value:
		if err := c.admit(x); err != nil {
			return Value{}, err
		}
		return x, nil
	case Object:
		return c.ValueOf(x.Value)
	case nil:
		return c.Null()
	case string:
		return c.String(x)
	case bool:
		return c.Bool(x)
	case float64:
		return c.Number(x)
	case int:
		return c.Number(float64(x))
	}
	text, err := json.MarshalToString(x)
	if err != nil {
		return Value{}, errors.Wrap(err, "failed to encode host value")
	}
	return c.ParseJSON(text)
}

// Decode stores the JSON form of v in the Go value pointed to by out.
func (v Value) Decode(out any) error {
	defer runtime.KeepAlive(v.ref)
	text, err := v.ToJSON(0)
	if err != nil {
		return err
	}
	if err := json.UnmarshalFromString(text, out); err != nil {
		return errors.Wrap(err, "failed to decode script value")
	}
	return nil
}
