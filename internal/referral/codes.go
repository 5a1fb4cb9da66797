package referral

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	codePrefixMain  = "PRO"
	codePrefixLeft  = "LPRO"
	codePrefixRight = "RPRO"
)

// CodeSet is the trio of join tokens generated for a member at creation.
type CodeSet struct {
	Main  string
	Left  string
	Right string
}

// CodeProvider issues referral code sets. Injected so tests can fix codes.
type CodeProvider interface {
	NewCodeSet() (CodeSet, error)
}

type uuidCodeProvider struct{}

// NewUUIDCodeProvider constructs a CodeProvider backed by random UUIDs,
// rendered as PRO-XXXXX-XXXXXXXX style tokens.
func NewUUIDCodeProvider() CodeProvider {
	return &uuidCodeProvider{}
}

func (p *uuidCodeProvider) NewCodeSet() (CodeSet, error) {
	main, err := newCode(codePrefixMain)
	if err != nil {
		return CodeSet{}, err
	}
	left, err := newCode(codePrefixLeft)
	if err != nil {
		return CodeSet{}, err
	}
	right, err := newCode(codePrefixRight)
	if err != nil {
		return CodeSet{}, err
	}
	return CodeSet{Main: main, Left: left, Right: right}, nil
}

func newCode(prefix string) (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	hexDigits := strings.ToUpper(strings.ReplaceAll(value.String(), "-", ""))
	return fmt.Sprintf("%s-%s-%s", prefix, hexDigits[:5], hexDigits[5:13]), nil
}

// NormalizeCode canonicalizes user-entered codes before lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
