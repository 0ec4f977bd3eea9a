package mdoc

import (
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/kokukuma/mdoc-age-verifier/claims"
)

// nameSpaceShape is the encoding an issuer used for one namespace entry.
type nameSpaceShape int

const (
	shapeUnknown nameSpaceShape = iota
	// shapeClaimMapArray is an array of claim maps, each possibly behind
	// tag 24. This is the ISO 18013-5 encoding.
	shapeClaimMapArray
	// shapeEncodedFragmentArray is an array of base64 text or byte string
	// fragments, each holding a claim map or an array of claim maps.
	shapeEncodedFragmentArray
	// shapeSingleClaimMap is a claim map directly at the namespace.
	shapeSingleClaimMap
)

func (s nameSpaceShape) String() string {
	switch s {
	case shapeClaimMapArray:
		return "ClaimMapArray"
	case shapeEncodedFragmentArray:
		return "EncodedFragmentArray"
	case shapeSingleClaimMap:
		return "SingleClaimMap"
	}
	return "Unknown"
}

const (
	keyElementIdentifier = "elementIdentifier"
	keyElementValue      = "elementValue"
	keyDigestID          = "digestID"
	keyRandom            = "random"
)

func classifyNameSpace(v interface{}) nameSpaceShape {
	switch t := v.(type) {
	case []interface{}:
		if len(t) > 0 {
			if m, ok := t[0].(map[interface{}]interface{}); ok && hasIdentifierKey(m) {
				return shapeClaimMapArray
			}
		}
		return shapeEncodedFragmentArray
	case map[interface{}]interface{}:
		return shapeSingleClaimMap
	}
	return shapeUnknown
}

// parseNameSpace resolves one namespace entry to claim items. Items that
// cannot be resolved are returned as errors and otherwise ignored.
func parseNameSpace(raw cbor.RawMessage) ([]IssuerSignedItem, []error) {
	data, err := peelEncodedCBOR(raw)
	if err != nil {
		return nil, []error{err}
	}
	tree, err := shallowNameSpace(data)
	if err != nil {
		return nil, []error{err}
	}

	shape := classifyNameSpace(tree)
	switch shape {
	case shapeClaimMapArray:
		return parseClaimMapArray(data)
	case shapeEncodedFragmentArray:
		return parseFragmentArray(data)
	case shapeSingleClaimMap:
		items, err := claimMapItems(data)
		if err != nil {
			return nil, []error{err}
		}
		return items, nil
	}
	return nil, []error{NewError(ReasonMalformedStructure, "namespace is %T", tree)}
}

// shallowNameSpace decodes just enough of a namespace entry to classify it.
// An array is represented by its first decodable element, so corrupt
// elements are left to the per-element parsers.
func shallowNameSpace(data []byte) (interface{}, error) {
	var elems []cbor.RawMessage
	if err := decMode.Unmarshal(data, &elems); err == nil {
		for _, elem := range elems {
			peeled, err := peelEncodedCBOR(elem)
			if err != nil {
				continue
			}
			var first interface{}
			if err := decMode.Unmarshal(peeled, &first); err == nil {
				return []interface{}{first}, nil
			}
		}
		return []interface{}{}, nil
	}

	var v interface{}
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, WrapError(ReasonDecode, err, "failed to decode namespace")
	}
	return v, nil
}

func parseClaimMapArray(data []byte) ([]IssuerSignedItem, []error) {
	var elems []cbor.RawMessage
	if err := decMode.Unmarshal(data, &elems); err != nil {
		return nil, []error{WrapError(ReasonMalformedStructure, err, "failed to unmarshal claim array")}
	}

	var items []IssuerSignedItem
	var skipped []error
	for _, elem := range elems {
		is, err := claimMapItems(elem)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		items = append(items, is...)
	}
	return items, skipped
}

func parseFragmentArray(data []byte) ([]IssuerSignedItem, []error) {
	var elems []cbor.RawMessage
	if err := decMode.Unmarshal(data, &elems); err != nil {
		return nil, []error{WrapError(ReasonMalformedStructure, err, "failed to unmarshal fragment array")}
	}

	var items []IssuerSignedItem
	var skipped []error
	for _, elem := range elems {
		is, errs := parseFragmentElement(elem)
		items = append(items, is...)
		skipped = append(skipped, errs...)
	}
	return items, skipped
}

func parseFragmentElement(elem []byte) ([]IssuerSignedItem, []error) {
	peeled, err := peelEncodedCBOR(elem)
	if err != nil {
		return nil, []error{err}
	}

	var v interface{}
	if err := decMode.Unmarshal(peeled, &v); err != nil {
		return nil, []error{WrapError(ReasonDecode, err, "failed to decode fragment")}
	}

	switch v.(type) {
	case map[interface{}]interface{}:
		items, err := claimMapItems(peeled)
		if err != nil {
			return nil, []error{err}
		}
		return items, nil
	case []byte, string:
	default:
		return nil, []error{NewError(ReasonMalformedStructure, "fragment is %T", v)}
	}

	fragment, err := fragmentBytes(v)
	if err != nil {
		return nil, []error{err}
	}
	fragment, err = peelEncodedCBOR(fragment)
	if err != nil {
		return nil, []error{err}
	}

	tree, err := Decode(fragment)
	if err != nil {
		return nil, []error{err}
	}
	switch tree.(type) {
	case map[interface{}]interface{}:
		items, err := claimMapItems(fragment)
		if err != nil {
			return nil, []error{err}
		}
		return items, nil
	case []interface{}:
		return parseClaimMapArray(fragment)
	}
	return nil, []error{NewError(ReasonMalformedStructure, "fragment decodes to %T", tree)}
}

// claimMapItems resolves one encoded claim map. A map in the
// elementIdentifier/elementValue form yields one item bound to data; a map
// keyed directly by claim names yields one unbound item per known claim.
func claimMapItems(data []byte) ([]IssuerSignedItem, error) {
	data, err := peelEncodedCBOR(data)
	if err != nil {
		return nil, err
	}
	tree, err := Decode(data)
	if err != nil {
		return nil, err
	}
	m, ok := tree.(map[interface{}]interface{})
	if !ok {
		return nil, NewError(ReasonMalformedStructure, "claim is %T, want map", tree)
	}

	if item, ok := resolveItem(m); ok {
		item.raw = data
		return []IssuerSignedItem{item}, nil
	}

	var items []IssuerSignedItem
	for _, k := range sortedStringKeys(m) {
		if _, ok := claims.Match(k); ok {
			items = append(items, IssuerSignedItem{
				ElementIdentifier: ElementIdentifier(k),
				ElementValue:      m[k],
			})
		}
	}
	if len(items) == 0 {
		return nil, NewError(ReasonMalformedStructure, "no claim found in map with keys %v", sortedStringKeys(m))
	}
	return items, nil
}

func resolveItem(m map[interface{}]interface{}) (IssuerSignedItem, bool) {
	var item IssuerSignedItem

	id, idOK := m[keyElementIdentifier].(string)
	value, valueOK := m[keyElementValue]

	if !idOK || !valueOK {
		idOK, valueOK = false, false
		for _, k := range sortedStringKeys(m) {
			lower := strings.ToLower(k)
			if !idOK && strings.Contains(lower, "identifier") {
				if s, ok := m[k].(string); ok {
					id, idOK = s, true
					continue
				}
			}
			if !valueOK && strings.Contains(lower, "lementvalue") {
				value, valueOK = m[k], true
			}
		}
	}
	if !idOK || !valueOK {
		return item, false
	}

	item.ElementIdentifier = ElementIdentifier(id)
	item.ElementValue = value
	if d, ok := asInt(m[keyDigestID]); ok && d >= 0 && d <= 1<<32-1 {
		item.DigestID = DigestID(d)
		item.HasDigestID = true
	}
	if r, ok := m[keyRandom].([]byte); ok {
		item.Random = r
	}
	return item, true
}

func hasIdentifierKey(m map[interface{}]interface{}) bool {
	for k := range m {
		if s, ok := k.(string); ok && strings.Contains(strings.ToLower(s), "identifier") {
			return true
		}
	}
	return false
}

func sortedStringKeys(m map[interface{}]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	sort.Strings(keys)
	return keys
}
