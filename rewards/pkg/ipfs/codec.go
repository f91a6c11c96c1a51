package ipfs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	mh "github.com/multiformats/go-multihash"
)

var (
	ErrInvalidDigestLength = errors.New("invalid digest length: expected 32 bytes")
	ErrInvalidDigest       = errors.New("invalid digest: not hex")
	ErrUnsupportedHash     = errors.New("cid is not a sha2-256 multihash")
	ErrContentMismatch     = errors.New("content does not match cid")
)

// DigestToCID converts a 32-byte sha2-256 digest, as stored by the
// distributor contract, into a CIDv1 with the raw codec rendered in base32.
// The digest is used as-is and never re-hashed.
func DigestToCID(digestHex string) (string, error) {
	digest, err := decodeDigest(digestHex)
	if err != nil {
		return "", err
	}
	m, err := mh.Encode(digest, mh.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("failed to encode multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, m).StringOfBase(multibase.Base32)
}

// CIDToDigest returns the 0x-prefixed sha2-256 digest embedded in c. It is the
// inverse of DigestToCID for raw CIDs and also accepts v0 and dag-pb CIDs.
func CIDToDigest(c string) (string, error) {
	parsed, err := cid.Decode(c)
	if err != nil {
		return "", fmt.Errorf("failed to decode cid %q: %w", c, err)
	}
	decoded, err := mh.Decode(parsed.Hash())
	if err != nil {
		return "", fmt.Errorf("failed to decode multihash: %w", err)
	}
	if decoded.Code != mh.SHA2_256 || len(decoded.Digest) != sha256.Size {
		return "", ErrUnsupportedHash
	}
	return "0x" + hex.EncodeToString(decoded.Digest), nil
}

// ContentCID returns the raw-codec CIDv1 of data.
func ContentCID(data []byte) string {
	sum := sha256.Sum256(data)
	c, err := DigestToCID(hex.EncodeToString(sum[:]))
	if err != nil {
		// A sha256 sum always has a valid length.
		panic(err)
	}
	return c
}

// VerifyContent checks data against a raw sha2-256 CID. CIDs with other codecs
// address an encoded DAG node rather than the bytes themselves, so they are
// accepted without a check.
func VerifyContent(c string, data []byte) error {
	parsed, err := cid.Decode(c)
	if err != nil {
		return fmt.Errorf("failed to decode cid %q: %w", c, err)
	}
	if parsed.Type() != cid.Raw {
		return nil
	}
	decoded, err := mh.Decode(parsed.Hash())
	if err != nil {
		return fmt.Errorf("failed to decode multihash: %w", err)
	}
	if decoded.Code != mh.SHA2_256 {
		return nil
	}
	sum := sha256.Sum256(data)
	if !bytes.Equal(sum[:], decoded.Digest) {
		return fmt.Errorf("%w: %s", ErrContentMismatch, c)
	}
	return nil
}

// v0ToV1 re-encodes a Qm... CID as v1 base32, keeping its codec.
func v0ToV1(s string) (string, error) {
	parsed, err := cid.Decode(s)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(parsed.Type(), parsed.Hash()).StringOfBase(multibase.Base32)
}

func decodeDigest(s string) ([]byte, error) {
	s = strip0x(s)
	if len(s) != 2*sha256.Size {
		return nil, fmt.Errorf("%w: got %d hex characters", ErrInvalidDigestLength, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return b, nil
}

// isDigestHex reports whether s has the shape of a bytes32 value: 64 hex
// characters, or 66 with a 0x prefix.
func isDigestHex(s string) bool {
	switch {
	case len(s) == 66 && has0x(s):
		s = s[2:]
	case len(s) == 64 && !has0x(s):
	default:
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isHexChar(s[i]) {
			return false
		}
	}
	return true
}

// canonicalDigest is the cache key form: lower case, always 0x-prefixed.
func canonicalDigest(s string) string {
	return "0x" + strings.ToLower(strip0x(s))
}

func has0x(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func strip0x(s string) string {
	if has0x(s) {
		return s[2:]
	}
	return s
}

func isHexChar(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
