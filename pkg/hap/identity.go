package hap

import (
	"crypto/sha1"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// uuidNamespace scopes every UUID generated by GenerateUUID.
var uuidNamespace = uuid.MustParse("a3f6c2d8-6b8e-4b0f-9d25-3e1c0d4b7e21")

var (
	usernamePattern = regexp.MustCompile(`^([0-9A-F]{2}:){5}[0-9A-F]{2}$`)
	pinPattern      = regexp.MustCompile(`^\d{3}-\d{2}-\d{3}$`)
	setupIDPattern  = regexp.MustCompile(`^[0-9A-Z]{4}$`)
)

// Pin codes controllers refuse to pair with.
var trivialPinCodes = map[string]bool{
	"000-00-000": true,
	"111-11-111": true,
	"222-22-222": true,
	"333-33-333": true,
	"444-44-444": true,
	"555-55-555": true,
	"666-66-666": true,
	"777-77-777": true,
	"888-88-888": true,
	"999-99-999": true,
	"123-45-678": true,
	"876-54-321": true,
}

// GenerateUUID returns a stable UUID for data. The same input always yields
// the same UUID.
func GenerateUUID(data string) string {
	return strings.ToUpper(uuid.NewSHA1(uuidNamespace, []byte(data)).String())
}

// GenerateMAC derives the MAC-like address of an accessory from its stable ID:
// the first six bytes of SHA-1(id), upper-case and colon-separated.
func GenerateMAC(id string) string {
	sum := sha1.Sum([]byte(id))
	parts := make([]string, 6)
	for i := 0; i < 6; i++ {
		parts[i] = fmt.Sprintf("%02X", sum[i])
	}
	return strings.Join(parts, ":")
}

// ValidUsername reports whether s is a MAC-like username. Input is
// case-insensitive.
func ValidUsername(s string) bool {
	return usernamePattern.MatchString(strings.ToUpper(s))
}

// ValidPinCode reports whether pin has the XXX-XX-XXX shape and is not one of
// the trivial codes.
func ValidPinCode(pin string) bool {
	return pinPattern.MatchString(pin) && !trivialPinCodes[pin]
}

// ValidSetupID reports whether id is four characters of [0-9A-Z].
func ValidSetupID(id string) bool {
	return setupIDPattern.MatchString(id)
}

// GenerateSetupID derives a setup ID from a username.
func GenerateSetupID(username string) string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	sum := sha1.Sum([]byte(strings.ToUpper(username)))
	id := make([]byte, 4)
	for i := range id {
		id[i] = alphabet[int(sum[i])%len(alphabet)]
	}
	return string(id)
}

// SetupURI builds the X-HM:// setup payload encoded in pairing QR codes.
func SetupURI(pin string, category Category, setupID string) (string, error) {
	if !pinPattern.MatchString(pin) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPinCode, pin)
	}
	code, err := strconv.ParseUint(strings.ReplaceAll(pin, "-", ""), 10, 32)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPinCode, pin)
	}

	const ipFlag = 1 << 28
	payload := uint64(category)<<31 | ipFlag | code
	encoded := strings.ToUpper(strconv.FormatUint(payload, 36))
	if len(encoded) < 9 {
		encoded = strings.Repeat("0", 9-len(encoded)) + encoded
	}
	return "X-HM://" + encoded + setupID, nil
}

// SetupHash is the sh TXT record value: base64 of the first four bytes of
// SHA-512(setupID + username).
func SetupHash(setupID, username string) string {
	sum := sha512.Sum512([]byte(setupID + strings.ToUpper(username)))
	return base64.StdEncoding.EncodeToString(sum[:4])
}
