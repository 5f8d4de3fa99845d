package ledger

import "github.com/HerbHall/personagen/internal/store"

// component keys this package's rows in the _migrations table.
const component = "ledger"

func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create provider attempt ledger",
			Up: store.Exec(
				`CREATE TABLE IF NOT EXISTS provider_attempts (
					seq           INTEGER PRIMARY KEY AUTOINCREMENT,
					id            TEXT    NOT NULL UNIQUE,
					request_id    TEXT    NOT NULL,
					provider      TEXT    NOT NULL,
					model         TEXT    NOT NULL DEFAULT '',
					success       INTEGER NOT NULL,
					error_kind    TEXT    NOT NULL DEFAULT '',
					error_message TEXT    NOT NULL DEFAULT '',
					latency_ms    REAL    NOT NULL DEFAULT 0,
					input_tokens  INTEGER NOT NULL DEFAULT 0,
					output_tokens INTEGER NOT NULL DEFAULT 0,
					cost          REAL    NOT NULL DEFAULT 0,
					created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_provider_time ON provider_attempts(provider, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_request ON provider_attempts(request_id)`,
			),
		},
	}
}
