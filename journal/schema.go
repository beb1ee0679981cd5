package journal

// Decimals are stored as TEXT so amounts round-trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS signals (
	signal_id TEXT NOT NULL,
	source TEXT NOT NULL,
	indicator TEXT NOT NULL,
	fact TEXT NOT NULL,
	confidence TEXT NOT NULL,
	terminal TEXT NOT NULL,
	reason TEXT NOT NULL,
	matches INTEGER NOT NULL,
	candidates INTEGER NOT NULL,
	observed_at DATETIME NOT NULL,
	decided_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	signal_id TEXT NOT NULL,
	market_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	outcome TEXT NOT NULL,
	side TEXT NOT NULL,
	terminal TEXT NOT NULL,
	admitted INTEGER NOT NULL,
	veto TEXT NOT NULL,
	detail TEXT NOT NULL,
	signal_confidence TEXT NOT NULL,
	match_confidence TEXT NOT NULL,
	joint_confidence TEXT NOT NULL,
	edge TEXT NOT NULL,
	price TEXT NOT NULL,
	requested TEXT NOT NULL,
	size TEXT NOT NULL,
	profit TEXT NOT NULL,
	fill_price TEXT NOT NULL,
	synthetic INTEGER NOT NULL,
	decided_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS transitions (
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	cause TEXT NOT NULL,
	detail TEXT NOT NULL,
	at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT NOT NULL,
	market_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	outcome TEXT NOT NULL,
	shares TEXT NOT NULL,
	cost TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price TEXT NOT NULL,
	fee TEXT NOT NULL,
	realized TEXT NOT NULL,
	status TEXT NOT NULL,
	close_reason TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME,
	PRIMARY KEY (position_id, status)
);

CREATE INDEX IF NOT EXISTS idx_signals_decided ON signals(decided_at);
CREATE INDEX IF NOT EXISTS idx_decisions_decided ON decisions(decided_at);
CREATE INDEX IF NOT EXISTS idx_decisions_signal ON decisions(signal_id);
`
