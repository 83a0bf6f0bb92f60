package crypto

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes plaintext using bcrypt with the default cost.
func HashPassword(plain string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
}

// ComparePassword compares plaintext to a stored bcrypt digest. A mismatch
// is reported as an error, never as a panic, regardless of digest contents.
func ComparePassword(hash []byte, plain string) error {
	return bcrypt.CompareHashAndPassword(hash, []byte(plain))
}
