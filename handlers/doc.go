// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP and WebSocket handlers for the Agora API.

# Handler Types

  - TopicHandler: topic list, read-only status, health
  - VoteHandler: credential issuance and vote submission
  - StreamHandler: the bidirectional push channel

# Voting Flow

	POST /topics/{topic}/credentials → RequestCredential (token + CAPTCHA)
	POST /topics/{topic}/votes       → SubmitVote (receipt or rejection)

The credential is bound to the caller's address; the vote must come from
the same address. Rejections are JSON errors carrying a reason code and a
retryable flag:

	{"error":"Conflict","message":"already_voted","reason":"already_voted","retryable":false}

# Push Channel

GET /topics/{topic}/stream upgrades to a WebSocket. The first frame is the
current state_update; every commit pushes the full state again. Clients may
send the same requests as the HTTP routes:

	{"type":"request_credential"}
	{"type":"submit_vote","vote":{"token":"...","captcha_answer":"5","allocation":{"buses":2}}}

and receive credential_issued, vote_committed or vote_rejected in reply.
A client that cannot keep up is disconnected with status 1013 and should
reconnect for a fresh snapshot.
*/
package handlers
