// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the Agora API server.

Agora is a real-time deliberation service. Voters spend a fixed credit
budget across a topic's options at quadratic cost, justify the allocation
in writing, and the written reasoning weights the vote. Every accepted vote
is appended to a hash-chained audit log and pushed to WebSocket observers.

# Starting the Server

	IDENTITY_SECRET=... go run . -topics topics.yaml

With Redis or a SQL database:

	go run . -s redis -redis redis://localhost:6379/0
	go run . -s postgres -d "postgres://..."
	go run . -s sqlite -d agora.db

# Configuration

Required settings:

  - IDENTITY_SECRET (-secret): key for voter identity and IP hashes

Optional settings:

  - PORT (-p): server port (default: 3318)
  - STORAGE_BACKEND (-s): memory, redis, postgres or sqlite (default: memory)
  - TOPICS_FILE (-topics): topic definitions (default: topics.yaml)
  - VOTE_BUDGET, DAILY_VOTE_CAP, SUBNET_DAILY_CAP, CREDENTIALS_PER_MINUTE
  - SESSION_TTL, MIN_REASONING_WORDS, MAX_REASONING_BYTES, REQUIRE_REASONING
  - TALLY_WEIGHTING: quality, linear or unit
  - SYNTHESIS_EVERY, OPENAI_API_KEY, OPENAI_MODEL, OPENAI_BASE_URL
  - REQUESTS_PER_SECOND, REQUEST_BURST, TRUST_PROXY, METRICS_ENABLED
  - ALLOWED_ORIGINS: comma-separated browser origin hosts, e.g. *.example.org

A .env file in the working directory is loaded when present.

# Architecture

  - gate: credentials, CAPTCHA, rate limits and single-vote reservation
  - quadratic: allocation validation against the credit budget
  - quality: reasoning quality scoring
  - metrics: Gini and polarization over the tally
  - admission: the per-request vote pipeline
  - tally: per-topic coordinators, audit chain and subscriptions
  - synthesis: background summaries of recent reasoning
  - storage, db: memory, Redis and SQL storage backends
  - handlers, router, middleware: the HTTP and WebSocket surface

See package documentation for each component.
*/
package main
