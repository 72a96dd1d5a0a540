// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package gate is the identity and abuse gate in front of the vote pipeline.

# Credentials

RequestCredential issues a single-use session bound to the client address
and a topic, with a CAPTCHA challenge and a 30 minute expiry. It refuses with
rate_limited when the address has made CredentialsPerWindow requests in the
trailing Window, or has already completed DailyVoteCap votes today.

# Admission

Admit inspects a vote attempt in this order:

 1. token format, then session lookup (invalid_session)
 2. topic and address binding (invalid_session)
 3. expiry (expired, session evicted)
 4. subnet and address daily caps (rate_limited)
 5. CAPTCHA answer (captcha_failed, session evicted)

On success it returns the voter identity but reserves nothing.

# Reservation

Reserve performs the atomic insert-if-absent of the identity into the
topic's voter set, claims the session token in the topic's consumed set, and
charges the address and /24 daily counters with atomic increments. A counter
that ends up over its cap is refunded and the vote refused with rate_limited,
so the caps hold even for votes admitted concurrently. Release undoes all of
it. Complete marks the session used; presenting it again is invalid_session.

Compensating writes run on their own deadline, so a reservation made under a
deadline that has since expired can still be undone.
*/
package gate
