package sqlite

// Amounts are stored as TEXT so decimals round-trip exactly. Timestamps
// are UTC Unix nanoseconds.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id               TEXT PRIMARY KEY,
	email            TEXT NOT NULL,
	phone            TEXT,
	token_hash       TEXT NOT NULL,
	token_expires_at INTEGER NOT NULL,
	token_used_at    INTEGER,
	activated        INTEGER NOT NULL DEFAULT 0,
	activated_at     INTEGER,
	subscription     TEXT NOT NULL,
	created_at       INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_phone_idx ON users(phone) WHERE phone IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS users_token_hash_idx ON users(token_hash);

CREATE TABLE IF NOT EXISTS activation_audit (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES users(id),
	phone        TEXT NOT NULL,
	activated_at INTEGER NOT NULL,
	source_ip    TEXT NOT NULL,
	client       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL REFERENCES users(id),
	type                TEXT NOT NULL CHECK (type IN ('income', 'expense')),
	amount              TEXT NOT NULL,
	currency            TEXT NOT NULL,
	description         TEXT NOT NULL,
	category_code       TEXT NOT NULL,
	category_label      TEXT NOT NULL,
	counterparty_name   TEXT NOT NULL DEFAULT '',
	counterparty_reg_id TEXT NOT NULL DEFAULT '',
	document_date       INTEGER,
	payment_date        INTEGER,
	vat_rate            TEXT,
	vat_amount          TEXT,
	completeness_score  INTEGER NOT NULL,
	risk_level          TEXT NOT NULL,
	missing_required    TEXT NOT NULL DEFAULT '[]',
	missing_recommended TEXT NOT NULL DEFAULT '[]',
	incomplete_evidence INTEGER NOT NULL DEFAULT 0,
	source              TEXT NOT NULL DEFAULT '',
	created_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS transactions_user_date_idx
	ON transactions(user_id, COALESCE(document_date, created_at));

CREATE TABLE IF NOT EXISTS reminders (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	type       TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	due_at     INTEGER NOT NULL,
	sent       INTEGER NOT NULL DEFAULT 0,
	sent_at    INTEGER,
	created_at INTEGER NOT NULL,
	UNIQUE (user_id, type, due_at)
);
CREATE INDEX IF NOT EXISTS reminders_due_idx ON reminders(sent, due_at);
`
