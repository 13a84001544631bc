// Package policy decides, per entry, whether reading or mutating a secret
// requires an authentication ceremony and which proof of presence applies.
//
// The policy is chosen by the caller at write time and stored alongside the
// entry's metadata. Resolution at read time is a lookup, never a
// recomputation, so an entry's requirement only changes through an explicit
// re-write.
package policy

import "fmt"

// Policy is the class of proof of presence an entry requires.
type Policy string

const (
	// None means no ceremony is required.
	None Policy = ""
	// BiometricAny accepts any currently enrolled biometric.
	BiometricAny Policy = "biometric_any"
	// BiometricCurrentSet accepts only the biometrics enrolled when the
	// entry was written. Changing enrollment invalidates the entry.
	BiometricCurrentSet Policy = "biometric_current_set"
	// PasscodeOrBiometric accepts the device passcode or any biometric.
	PasscodeOrBiometric Policy = "passcode_or_biometric"
)

// Parse validates s. The empty string and "none" yield None.
func Parse(s string) (Policy, error) {
	switch p := Policy(s); p {
	case None, "none":
		return None, nil
	case BiometricAny, BiometricCurrentSet, PasscodeOrBiometric:
		return p, nil
	}
	return None, fmt.Errorf("unknown authentication policy %q", s)
}

// Valid reports whether p is a known policy other than None.
func (p Policy) Valid() bool {
	switch p {
	case BiometricAny, BiometricCurrentSet, PasscodeOrBiometric:
		return true
	}
	return false
}

// Strength orders policies; None is weakest.
func (p Policy) Strength() int {
	switch p {
	case PasscodeOrBiometric:
		return 1
	case BiometricAny:
		return 2
	case BiometricCurrentSet:
		return 3
	}
	return 0
}

// AllowsPasscode reports whether the device passcode satisfies p.
func (p Policy) AllowsPasscode() bool {
	return p == PasscodeOrBiometric
}

// BindsEnrollment reports whether entries under p are tied to the biometric
// enrollment set at write time.
func (p Policy) BindsEnrollment() bool {
	return p == BiometricCurrentSet
}

func (p Policy) String() string {
	if p == None {
		return "none"
	}
	return string(p)
}

// Strongest returns the strongest of ps, or None if ps is empty.
func Strongest(ps ...Policy) Policy {
	best := None
	for _, p := range ps {
		if p.Strength() > best.Strength() {
			best = p
		}
	}
	return best
}
