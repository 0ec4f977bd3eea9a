package claims

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientClaims is returned when a claim set holds neither a
// birth date nor an applicable age threshold claim.
var ErrInsufficientClaims = errors.New("no birth_date or age_over claim available")

type Decision struct {
	Verified bool
	// Age is nil when only a negative threshold claim was available.
	Age    *int
	MinAge int
}

// Decide derives an age decision. An exact birth date always outranks a
// threshold claim; age_over_21 is only consulted when minAge is 21 or more.
func Decide(s Set, minAge int, today time.Time) (Decision, error) {
	d := Decision{MinAge: minAge}

	if s.BirthDate != nil {
		birth, err := time.Parse(dateLayout, *s.BirthDate)
		if err != nil {
			return d, fmt.Errorf("failed to parse birth_date: %w", err)
		}
		age := AgeInYears(birth, today)
		d.Age = &age
		d.Verified = age >= minAge
		return d, nil
	}

	if minAge >= 21 && s.AgeOver21 != nil {
		return threshold(d, *s.AgeOver21, 21), nil
	}

	if s.AgeOver18 != nil {
		return threshold(d, *s.AgeOver18, 18), nil
	}

	return d, ErrInsufficientClaims
}

func threshold(d Decision, over bool, age int) Decision {
	d.Verified = over
	if over {
		d.Age = &age
	}
	return d
}

// AgeInYears returns the number of whole years between birth and today,
// comparing calendar dates only.
func AgeInYears(birth, today time.Time) int {
	by, bm, bd := birth.Date()
	ty, tm, td := today.Date()

	age := ty - by
	if tm < bm || (tm == bm && td < bd) {
		age--
	}
	return age
}
