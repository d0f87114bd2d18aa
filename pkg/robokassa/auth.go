package robokassa

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/ripemd160"
)

// Hash algorithms accepted by the gateway.
const (
	HashMD5       = "md5"
	HashRIPEMD160 = "ripemd160"
	HashSHA1      = "sha1"
	HashSHA256    = "sha256"
	HashSHA384    = "sha384"
	HashSHA512    = "sha512"
)

var hashConstructors = map[string]func() hash.Hash{
	HashMD5:       md5.New,
	HashRIPEMD160: ripemd160.New,
	HashSHA1:      sha1.New,
	HashSHA256:    sha256.New,
	HashSHA384:    sha512.New384,
	HashSHA512:    sha512.New,
}

// SupportedHashAlgorithms returns the algorithm names accepted by
// Auth.SetHashAlgo.
func SupportedHashAlgorithms() []string {
	names := make([]string, 0, len(hashConstructors))
	for name := range hashConstructors {
		names = append(names, name)
	}
	return names
}

// Field is one named value of an ordered signature field list. Substitution
// follows the order of the list, not the order of placeholders in the
// template.
type Field struct {
	Name  string
	Value string
}

// Auth holds the merchant credentials and computes signature strings and
// their hashes. The gateway issues two passwords per shop: password #1
// signs outgoing payment requests, password #2 signs notification
// validation and web service calls.
type Auth struct {
	merchantLogin      string
	paymentPassword    string
	validationPassword string
	test               bool
	hashAlgo           string
}

// NewAuth creates merchant credentials with the default MD5 hash algorithm.
func NewAuth(merchantLogin, paymentPassword, validationPassword string, test bool) *Auth {
	return &Auth{
		merchantLogin:      merchantLogin,
		paymentPassword:    paymentPassword,
		validationPassword: validationPassword,
		test:               test,
		hashAlgo:           HashMD5,
	}
}

// MerchantLogin returns the shop identifier.
func (a *Auth) MerchantLogin() string { return a.merchantLogin }

// SetMerchantLogin sets the shop identifier.
func (a *Auth) SetMerchantLogin(login string) { a.merchantLogin = login }

// PaymentPassword returns password #1.
func (a *Auth) PaymentPassword() string { return a.paymentPassword }

// SetPaymentPassword sets password #1.
func (a *Auth) SetPaymentPassword(password string) { a.paymentPassword = password }

// ValidationPassword returns password #2.
func (a *Auth) ValidationPassword() string { return a.validationPassword }

// SetValidationPassword sets password #2.
func (a *Auth) SetValidationPassword(password string) { a.validationPassword = password }

// Test reports whether requests are flagged for the gateway's test mode.
func (a *Auth) Test() bool { return a.test }

// SetTest toggles test mode.
func (a *Auth) SetTest(test bool) { a.test = test }

// HashAlgo returns the configured hash algorithm name.
func (a *Auth) HashAlgo() string { return a.hashAlgo }

// SetHashAlgo configures the digest algorithm used for all signature
// hashes. The name is checked against the supported set immediately; an
// unknown name returns ErrUnsupportedHashAlgorithm and leaves the previous
// algorithm in place.
func (a *Auth) SetHashAlgo(name string) error {
	lc := strings.ToLower(name)
	if _, ok := hashConstructors[lc]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedHashAlgorithm, name)
	}
	a.hashAlgo = lc
	return nil
}

// SignatureValue renders a signature template. {name} is replaced by the
// field value, {:name} by ":"+value when the value is non-empty and by
// nothing otherwise.
func (a *Auth) SignatureValue(template string, fields []Field) string {
	s := template
	for _, f := range fields {
		optional := ""
		if f.Value != "" {
			optional = ":" + f.Value
		}
		s = strings.ReplaceAll(s, "{:"+f.Name+"}", optional)
		s = strings.ReplaceAll(s, "{"+f.Name+"}", f.Value)
	}
	return s
}

// SignatureHash returns the lowercase hex digest of the rendered signature
// string. With an empty field list the template is treated as an already
// rendered signature string and hashed as-is.
func (a *Auth) SignatureHash(template string, fields []Field) string {
	s := template
	if len(fields) > 0 {
		s = a.SignatureValue(template, fields)
	}
	h := hashConstructors[a.hashAlgo]()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// EqualSignatures compares two hex signatures in constant time, ignoring
// case. The gateway sends uppercase digests while this package produces
// lowercase ones.
func EqualSignatures(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(a)), []byte(strings.ToLower(b))) == 1
}
