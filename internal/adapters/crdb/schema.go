package crdb

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const Schema = `
CREATE TABLE IF NOT EXISTS ticket_tiers (
	id UUID PRIMARY KEY,
	event_id UUID NOT NULL,
	name TEXT NOT NULL,
	capacity INT NOT NULL CHECK (capacity >= 0),
	committed INT NOT NULL DEFAULT 0 CHECK (committed >= 0),
	held INT NOT NULL DEFAULT 0 CHECK (held >= 0),
	active BOOL NOT NULL DEFAULT true,
	CHECK (committed + held <= capacity)
);

CREATE TABLE IF NOT EXISTS ticket_holds (
	id UUID PRIMARY KEY,
	tier_id UUID NOT NULL REFERENCES ticket_tiers (id),
	holder_token TEXT NOT NULL,
	quantity INT NOT NULL CHECK (quantity > 0),
	state TEXT NOT NULL CHECK (state IN ('PENDING', 'CONFIRMED', 'EXPIRED', 'CANCELLED')),
	payment_ref TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	confirmed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS ticket_holds_expiry ON ticket_holds (expires_at) WHERE state = 'PENDING';

CREATE TABLE IF NOT EXISTS admission_sessions (
	id UUID PRIMARY KEY,
	event_id UUID NOT NULL,
	holder_token TEXT NOT NULL,
	state TEXT NOT NULL CHECK (state IN ('WAITING', 'ACTIVE', 'COMPLETED', 'ABANDONED')),
	queue_position INT,
	entered_active_at TIMESTAMPTZ,
	deadline TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS admission_sessions_waiting ON admission_sessions (event_id, queue_position) WHERE state = 'WAITING';
CREATE INDEX IF NOT EXISTS admission_sessions_deadline ON admission_sessions (deadline) WHERE state = 'ACTIVE';

CREATE TABLE IF NOT EXISTS queue_configurations (
	event_id UUID PRIMARY KEY,
	max_concurrent INT NOT NULL,
	active_session_ttl_seconds INT NOT NULL,
	hold_ttl_seconds INT NOT NULL,
	promotion_batch_size INT NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json BYTES NOT NULL,
	status TEXT NOT NULL DEFAULT 'NEW',
	dedupe_key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
);
`

// EnsureSchema creates the tables if they do not exist yet. Binaries run
// it at startup; tests run it against their containers.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
