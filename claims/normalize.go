// Package claims maps heterogeneous claim keys onto a small canonical set
// and derives an age decision from it.
package claims

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

type Name string

const (
	BirthDate  Name = "birth_date"
	GivenName  Name = "given_name"
	FamilyName Name = "family_name"
	AgeOver18  Name = "age_over_18"
	AgeOver21  Name = "age_over_21"
)

// tagFullDate is the RFC 8943 full-date tag used by ISO 18013-5 for
// birth_date.
const tagFullDate = 1004

const dateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type matcher struct {
	name  Name
	match func(lowerKey string) bool
}

func oneOf(keys ...string) func(string) bool {
	return func(k string) bool {
		for _, key := range keys {
			if k == key {
				return true
			}
		}
		return false
	}
}

// matchers is evaluated in order; the first hit decides the canonical name.
var matchers = []matcher{
	{BirthDate, oneOf("birth_date", "birthdate", "date_of_birth", "dob")},
	{GivenName, oneOf("given_name", "givenname", "first_name", "firstname")},
	{FamilyName, oneOf("family_name", "familyname", "last_name", "lastname")},
	{AgeOver18, oneOf("age_over_18", "ageover18", "over_18", "is_over_18")},
	{AgeOver21, oneOf("age_over_21", "ageover21", "over_21", "is_over_21")},
}

// Match resolves key, case-insensitively, to its canonical claim name.
func Match(key string) (Name, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, m := range matchers {
		if m.match(k) {
			return m.name, true
		}
	}
	return "", false
}

// Item is one (identifier, value) pair as extracted from a credential.
type Item struct {
	Identifier string
	Value      interface{}
}

// Set is the canonical claim set. Nil fields are absent.
type Set struct {
	BirthDate  *string
	GivenName  *string
	FamilyName *string
	AgeOver18  *bool
	AgeOver21  *bool

	// Ignored lists recognized claims whose value could not be used.
	Ignored []string
}

// Empty reports whether no canonical claim was found.
func (s Set) Empty() bool {
	return s.BirthDate == nil && s.GivenName == nil && s.FamilyName == nil &&
		s.AgeOver18 == nil && s.AgeOver21 == nil
}

// Normalize folds items into a Set. The first usable value for each
// canonical claim wins; unknown identifiers are dropped.
func Normalize(items []Item) Set {
	var s Set
	for _, item := range items {
		name, ok := Match(item.Identifier)
		if !ok {
			continue
		}
		s.add(name, item.Identifier, item.Value)
	}
	return s
}

// NormalizeMap folds a flat claim map, such as the one returned by the ZK
// verifier, into a Set. Keys are visited in sorted order.
func NormalizeMap(m map[string]interface{}) Set {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]Item, 0, len(keys))
	for _, k := range keys {
		items = append(items, Item{Identifier: k, Value: m[k]})
	}
	return Normalize(items)
}

func (s *Set) add(name Name, key string, value interface{}) {
	if tag, ok := value.(cbor.Tag); ok && tag.Number == tagFullDate {
		value = tag.Content
	}

	switch name {
	case BirthDate:
		if s.BirthDate != nil {
			return
		}
		switch v := value.(type) {
		case string:
			if !validDate(v) {
				s.ignore(key, "birth_date %q is not YYYY-MM-DD", v)
				return
			}
			s.BirthDate = &v
		case int64, uint64, int, float64:
			// numeric dates are recognized but not interpreted
			s.ignore(key, "numeric birth_date %v is not supported", v)
		default:
			s.ignore(key, "birth_date has type %T", value)
		}
	case GivenName:
		if v, ok := value.(string); ok && s.GivenName == nil {
			s.GivenName = &v
		}
	case FamilyName:
		if v, ok := value.(string); ok && s.FamilyName == nil {
			s.FamilyName = &v
		}
	case AgeOver18:
		if v, ok := value.(bool); ok && s.AgeOver18 == nil {
			s.AgeOver18 = &v
		} else if !ok {
			s.ignore(key, "age_over_18 has type %T", value)
		}
	case AgeOver21:
		if v, ok := value.(bool); ok && s.AgeOver21 == nil {
			s.AgeOver21 = &v
		} else if !ok {
			s.ignore(key, "age_over_21 has type %T", value)
		}
	}
}

func (s *Set) ignore(key, format string, args ...interface{}) {
	s.Ignored = append(s.Ignored, key+": "+fmt.Sprintf(format, args...))
}

func validDate(v string) bool {
	if !datePattern.MatchString(v) {
		return false
	}
	_, err := time.Parse(dateLayout, v)
	return err == nil
}
