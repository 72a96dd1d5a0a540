// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken  = errors.New("invalid token format")
	ErrBrokenChain   = errors.New("audit chain broken")
	ErrInvalidIPAddr = errors.New("invalid IP address")
)

// sessionTokenBytes is the entropy of a session token (192 bits)
const sessionTokenBytes = 24

// ZeroHash is the predecessor of the first audit entry
var ZeroHash = strings.Repeat("0", sha256.Size*2)

// GenerateID creates a random hex ID of the specified byte length
func GenerateID(byteLen int) (string, error) {
	b := make([]byte, byteLen)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateSessionToken creates a random single-use voting credential
func GenerateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	// URL-safe base64 without padding
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "="), nil
}

// ValidateTokenFormat rejects strings that could not have come from
// GenerateSessionToken, before any storage lookup.
func ValidateTokenFormat(token string) error {
	if len(token) != base64.RawURLEncoding.EncodedLen(sessionTokenBytes) {
		return ErrInvalidToken
	}
	if _, err := base64.RawURLEncoding.DecodeString(token); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// HashIP creates a one-way hash of an IP address for privacy
// Includes salt to prevent rainbow table attacks
func HashIP(ip, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(ip))
	sum := h.Sum(nil)
	// Return first 16 hex chars (64 bits) - enough for deduplication
	return hex.EncodeToString(sum[:8])
}

// SubnetKey returns the /24 block for IPv4 and the /48 block for IPv6.
// It is the grouping unit for subnet-wide vote caps.
func SubnetKey(ip string) (string, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIPAddr, ip)
	}
	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0/24", v4[0], v4[1], v4[2]), nil
	}
	mask := net.CIDRMask(48, 128)
	return (&net.IPNet{IP: parsed.Mask(mask), Mask: mask}).String(), nil
}

// IdentityHash derives the voter identity used for duplicate detection.
// Signals are folded in sorted key order so map iteration never changes the
// result.
func IdentityHash(secret, fingerprint string, signals map[string]string, ip, token string) string {
	h := hmac.New(sha256.New, []byte(secret))
	writeField(h, "fp", fingerprint)

	keys := make([]string, 0, len(signals))
	for k := range signals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(h, "sig:"+k, signals[k])
	}

	writeField(h, "ip", ip)
	writeField(h, "token", token)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalAllocation renders an allocation as "a=2,b=1" with sorted keys
func CanonicalAllocation(alloc map[string]int) string {
	keys := make([]string, 0, len(alloc))
	for k := range alloc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(alloc[k]))
	}
	return b.String()
}

// AuditHash chains one committed vote onto the previous audit entry
func AuditHash(prevHash, identity string, alloc map[string]int, ts time.Time) string {
	h := sha256.New()
	writeField(h, "prev", prevHash)
	writeField(h, "id", identity)
	writeField(h, "alloc", CanonicalAllocation(alloc))
	writeField(h, "ts", ts.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

// Link is the part of an audit entry that participates in chaining
type Link struct {
	Hash     string
	PrevHash string
}

// VerifyChain checks that a window of links, oldest first, is contiguous.
// The hashes themselves cannot be recomputed without the voter identities,
// so only the linkage is checked.
func VerifyChain(links []Link) error {
	for i := 1; i < len(links); i++ {
		if links[i].PrevHash != links[i-1].Hash {
			return fmt.Errorf("%w at position %d", ErrBrokenChain, i)
		}
	}
	return nil
}

type hashWriter interface {
	Write(p []byte) (int, error)
}

// writeField length-prefixes every value so adjacent fields cannot be
// shifted into each other.
func writeField(h hashWriter, name, value string) {
	fmt.Fprintf(h, "%s:%d:%s;", name, len(value), value)
}
