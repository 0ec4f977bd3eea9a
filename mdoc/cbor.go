package mdoc

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// TagEncodedCBOR is the CBOR tag for a byte string holding encoded CBOR.
	TagEncodedCBOR = 24

	// tagCOSESign1 is the optional CBOR tag of a COSE_Sign1 message.
	tagCOSESign1 = 18

	maxEmbeddedDepth = 16
)

var (
	decMode cbor.DecMode
	encMode cbor.EncMode
)

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		IntDec:          cbor.IntDecConvertSigned,
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create cbor decode mode: %v", err))
	}

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create cbor encode mode: %v", err))
	}
}

// Decode decodes data into a generic tree of map[interface{}]interface{},
// []interface{}, string, []byte, int64, float64, bool, nil and cbor.Tag.
// Tag 24 is unwrapped wherever it appears: the tag is replaced by the tree
// decoded from its byte string content.
func Decode(data []byte) (interface{}, error) {
	return decode(data, 0)
}

func decode(data []byte, depth int) (interface{}, error) {
	if depth > maxEmbeddedDepth {
		return nil, NewError(ReasonDecode, "embedded cbor nested deeper than %d", maxEmbeddedDepth)
	}
	var v interface{}
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, WrapError(ReasonDecode, err, "failed to decode cbor")
	}
	return unwrap(v, depth)
}

func unwrap(v interface{}, depth int) (interface{}, error) {
	switch t := v.(type) {
	case cbor.Tag:
		if t.Number == TagEncodedCBOR {
			content, ok := t.Content.([]byte)
			if !ok {
				return nil, NewError(ReasonDecode, "tag 24 content is %T, want byte string", t.Content)
			}
			return decode(content, depth+1)
		}
		content, err := unwrap(t.Content, depth)
		if err != nil {
			return nil, err
		}
		return cbor.Tag{Number: t.Number, Content: content}, nil
	case map[interface{}]interface{}:
		for k, e := range t {
			u, err := unwrap(e, depth)
			if err != nil {
				return nil, err
			}
			t[k] = u
		}
		return t, nil
	case []interface{}:
		for i, e := range t {
			u, err := unwrap(e, depth)
			if err != nil {
				return nil, err
			}
			t[i] = u
		}
		return t, nil
	default:
		return v, nil
	}
}

// DecodeFragment decodes a value that some encoders emit as a text string
// and others as a byte string. Text is base64 decoded first; bytes are
// decoded as CBOR directly.
func DecodeFragment(v interface{}) (interface{}, error) {
	b, err := fragmentBytes(v)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

func fragmentBytes(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return DecodeBase64(t)
	default:
		return nil, NewError(ReasonMalformedStructure, "fragment is %T, want text or byte string", v)
	}
}

// DecodeBase64 decodes s trying the URL-safe alphabet first and the
// standard alphabet second, each with and without padding.
func DecodeBase64(s string) ([]byte, error) {
	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, WrapError(ReasonDecode, lastErr, "failed to decode base64")
}

// peelEncodedCBOR strips any number of tag 24 wrappers from raw and returns
// the innermost encoded item.
func peelEncodedCBOR(raw []byte) ([]byte, error) {
	for depth := 0; ; depth++ {
		if depth > maxEmbeddedDepth {
			return nil, NewError(ReasonDecode, "embedded cbor nested deeper than %d", maxEmbeddedDepth)
		}
		var tag cbor.RawTag
		if err := decMode.Unmarshal(raw, &tag); err != nil || tag.Number != TagEncodedCBOR {
			return raw, nil
		}
		var inner []byte
		if err := decMode.Unmarshal(tag.Content, &inner); err != nil {
			return nil, WrapError(ReasonDecode, err, "tag 24 content is not a byte string")
		}
		raw = inner
	}
}

func asInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case uint64:
		if t > 1<<63-1 {
			return 0, false
		}
		return int64(t), true
	case int:
		return int64(t), true
	}
	return 0, false
}
