// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides token generation, voter identity derivation, and the
hash chain that links committed votes.

# Session Tokens

Session tokens are random 24-byte (192-bit) single-use credentials:

	token, err := auth.GenerateSessionToken()
	err = auth.ValidateTokenFormat(token)

Tokens are URL-safe base64 without padding. ValidateTokenFormat rejects
malformed input before any storage lookup.

# Voter Identity

The identity hash is an HMAC-SHA256 over the client fingerprint, any extended
signals (in sorted key order), the client IP, and the session token:

	id := auth.IdentityHash(secret, fingerprint, signals, ip, token)

Each field is length-prefixed so values cannot bleed into their neighbours.

# Subnets

	key, err := auth.SubnetKey("1.2.3.4") // "1.2.3.0/24"

IPv6 addresses are grouped by /48.

# Audit Chain

Every committed vote extends a SHA-256 chain:

	hash := auth.AuditHash(prevHash, identity, allocation, committedAt)

The first entry chains onto ZeroHash. VerifyChain checks that a window of
entries is contiguous.

# IP Hashing

For privacy-preserving logging:

	hash := auth.HashIP(ipAddress, salt)

Returns first 8 bytes (16 hex chars) of HMAC-SHA256.
*/
package auth
