// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

# CLI Flags

	-p        Server port
	-s        Storage backend: memory, redis, postgres, sqlite
	-d        Database URL (postgres/sqlite)
	-redis    Redis URL
	-topics   Topics YAML file
	-secret   Identity secret
	-env      Environment file (default .env when present)

# Environment Variables

Flags fall back to environment variables:

	PORT            → -p
	STORAGE_BACKEND → -s
	DATABASE_URL    → -d
	REDIS_URL       → -redis
	TOPICS_FILE     → -topics
	IDENTITY_SECRET → -secret

Tuning is environment only: VOTE_BUDGET, DAILY_VOTE_CAP, SUBNET_DAILY_CAP,
CREDENTIALS_PER_MINUTE, SESSION_TTL, MIN_REASONING_WORDS, REQUIRE_REASONING,
TALLY_WEIGHTING, SYNTHESIS_EVERY, AUDIT_LOG_SIZE, STATUS_LIMIT,
REQUESTS_PER_SECOND, REQUEST_BURST, METRICS_ENABLED, and the OPENAI_API_KEY,
OPENAI_MODEL and OPENAI_BASE_URL synthesis settings.

CLI flags take precedence over environment variables, which take precedence
over the .env file.

# Validation

ParseFlags returns an error if:

  - IDENTITY_SECRET is missing
  - the storage backend is unknown or lacks its URL
  - TALLY_WEIGHTING is not quality, linear or unit
*/
package cliparse
