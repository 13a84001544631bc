package prompt

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasscodeLength is the shortest passcode HashPasscode accepts.
const MinPasscodeLength = 4

// HashPasscode returns the bcrypt hash stored as passcode_hash.
func HashPasscode(passcode string) (string, error) {
	if len(passcode) < MinPasscodeLength {
		return "", fmt.Errorf("passcode must be at least %d characters", MinPasscodeLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing passcode: %w", err)
	}
	return string(hash), nil
}

// VerifyPasscode reports whether passcode matches hash. A malformed hash
// never matches.
func VerifyPasscode(hash, passcode string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passcode)) == nil
}
