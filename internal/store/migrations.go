package store

type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create price history",
		SQL: `
			CREATE TABLE price_history (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				item_key    TEXT NOT NULL,
				store       TEXT NOT NULL,
				price       REAL NOT NULL CHECK (price > 0),
				recorded_at TEXT NOT NULL
			);

			CREATE INDEX idx_price_history_lookup ON price_history (item_key, store, recorded_at);
			CREATE INDEX idx_price_history_recorded ON price_history (recorded_at);
		`,
	},
}
