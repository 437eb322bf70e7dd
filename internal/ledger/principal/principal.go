// Package principal implements the opaque account-holder identifiers used by
// the ledger service, including their checksummed textual form.
//
// The textual form is the lowercase, unpadded base32 encoding of a big-endian
// CRC-32 checksum followed by the raw bytes, split into dash-separated groups
// of five characters.
package principal

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"

	apperrors "github.com/louisbranch/ledgerwallet/internal/platform/errors"
)

// MaxLength is the maximum number of raw bytes in a principal.
const MaxLength = 29

const (
	selfAuthenticatingSuffix = 0x02
	anonymousSuffix          = 0x04
	groupSize                = 5
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Principal names an account holder on the ledger.
type Principal struct {
	raw []byte
}

// FromBytes builds a principal from its raw bytes.
func FromBytes(raw []byte) (Principal, error) {
	if len(raw) > MaxLength {
		return Principal{}, apperrors.New(apperrors.CodeParse, fmt.Sprintf("principal is %d bytes, max %d", len(raw), MaxLength))
	}
	return Principal{raw: bytes.Clone(raw)}, nil
}

// Management returns the empty principal, "aaaaa-aa".
func Management() Principal {
	return Principal{}
}

// Anonymous returns the principal of an unauthenticated caller, "2vxsx-fae".
func Anonymous() Principal {
	return Principal{raw: []byte{anonymousSuffix}}
}

// SelfAuthenticating derives the principal owned by a public key: the
// SHA-224 of the key's DER encoding followed by the 0x02 suffix.
func SelfAuthenticating(publicKey any) (Principal, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return Principal{}, fmt.Errorf("encode public key: %w", err)
	}
	sum := sha256.Sum224(der)
	raw := make([]byte, 0, len(sum)+1)
	raw = append(raw, sum[:]...)
	raw = append(raw, selfAuthenticatingSuffix)
	return Principal{raw: raw}, nil
}

// Parse decodes the textual form. Input is lower-cased before decoding and
// must match the canonical encoding exactly, so misplaced dashes, a wrong
// checksum or trailing garbage are all rejected.
func Parse(text string) (Principal, error) {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return Principal{}, parseError(text, "empty")
	}
	compact := strings.ReplaceAll(lowered, "-", "")
	decoded, err := encoding.DecodeString(strings.ToUpper(compact))
	if err != nil {
		return Principal{}, parseError(text, "not base32")
	}
	if len(decoded) < crc32.Size {
		return Principal{}, parseError(text, "too short")
	}
	raw := decoded[crc32.Size:]
	if len(raw) > MaxLength {
		return Principal{}, parseError(text, "too long")
	}
	if binary.BigEndian.Uint32(decoded[:crc32.Size]) != crc32.ChecksumIEEE(raw) {
		return Principal{}, parseError(text, "checksum mismatch")
	}
	p := Principal{raw: bytes.Clone(raw)}
	if p.String() != lowered {
		return Principal{}, parseError(text, "not in canonical form")
	}
	return p, nil
}

// MustParse is Parse for compile-time constants; it panics on bad input.
func MustParse(text string) Principal {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

// Bytes returns a copy of the raw bytes.
func (p Principal) Bytes() []byte {
	return bytes.Clone(p.raw)
}

// IsAnonymous reports whether p is the anonymous principal.
func (p Principal) IsAnonymous() bool {
	return len(p.raw) == 1 && p.raw[0] == anonymousSuffix
}

// Equal reports whether two principals name the same holder.
func (p Principal) Equal(other Principal) bool {
	return bytes.Equal(p.raw, other.raw)
}

// String returns the canonical textual form.
func (p Principal) String() string {
	buf := make([]byte, crc32.Size, crc32.Size+len(p.raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(p.raw))
	buf = append(buf, p.raw...)
	encoded := strings.ToLower(encoding.EncodeToString(buf))

	var out strings.Builder
	for i := 0; i < len(encoded); i += groupSize {
		if i > 0 {
			out.WriteByte('-')
		}
		out.WriteString(encoded[i:min(i+groupSize, len(encoded))])
	}
	return out.String()
}

func parseError(text, reason string) error {
	return apperrors.WithMetadata(apperrors.CodeParse,
		fmt.Sprintf("invalid principal %q: %s", text, reason),
		map[string]string{"input": text, "reason": reason})
}
