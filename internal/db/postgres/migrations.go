package postgres

// SQL-миграции встроены в код.
var migrations = []struct {
	version int
	name    string
	sql     string
}{
	{1, "members", migration001Members},
	{2, "ledger", migration002Ledger},
	{3, "job_offers", migration003JobOffers},
	{4, "bids", migration004Bids},
	{5, "admin", migration005Admin},
	{6, "ledger_order", migration006LedgerOrder},
}

var migration001Members = `
CREATE TABLE IF NOT EXISTS members (
    user_id TEXT PRIMARY KEY,
    username VARCHAR(255),
    full_name VARCHAR(255) NOT NULL DEFAULT '',
    university VARCHAR(255),
    chat_id BIGINT,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_members_chat_id ON members(chat_id);
`

var migration002Ledger = `
CREATE TABLE IF NOT EXISTS point_accounts (
    user_id TEXT PRIMARY KEY,
    total_points BIGINT NOT NULL DEFAULT 0 CHECK (total_points >= 0),
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS ledger_entries (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES point_accounts(user_id),
    amount BIGINT NOT NULL CHECK (amount <> 0),
    kind VARCHAR(16) NOT NULL CHECK (kind IN ('earned', 'spent', 'refunded')),
    source VARCHAR(32) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    job_id TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_created ON ledger_entries(user_id, created_at DESC, id DESC);
`

var migration003JobOffers = `
CREATE TABLE IF NOT EXISTS job_offers (
    id TEXT PRIMARY KEY,
    title VARCHAR(255) NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
    created_at TIMESTAMPTZ DEFAULT NOW(),
    closed_at TIMESTAMPTZ
);
`

var migration004Bids = `
CREATE TABLE IF NOT EXISTS bids (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    job_id TEXT NOT NULL REFERENCES job_offers(id),
    points BIGINT NOT NULL CHECK (points >= 1),
    status VARCHAR(16) NOT NULL CHECK (status IN ('active', 'cancelled', 'won', 'lost')),
    position INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_bids_active_user_job ON bids(user_id, job_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_bids_job_active ON bids(job_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_bids_user_job_created ON bids(user_id, job_id, created_at DESC);
`

var migration005Admin = `
CREATE TABLE IF NOT EXISTS admin_sessions (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    session_token VARCHAR(255) UNIQUE,
    authenticated_at TIMESTAMPTZ DEFAULT NOW(),
    expires_at TIMESTAMPTZ NOT NULL,
    last_activity TIMESTAMPTZ DEFAULT NOW(),
    is_active BOOLEAN DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_admin_sessions_user_id ON admin_sessions(user_id);
CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    attempt_time TIMESTAMPTZ DEFAULT NOW(),
    success BOOLEAN DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_admin_login_attempts_user_time ON admin_login_attempts(user_id, attempt_time DESC);
`

// NOW() фиксируется на начало транзакции, порядок записей задаёт id.
var migration006LedgerOrder = `
ALTER TABLE ledger_entries ALTER COLUMN created_at SET DEFAULT clock_timestamp();
DROP INDEX IF EXISTS idx_ledger_entries_user_created;
CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_id ON ledger_entries(user_id, id DESC);
`
