package database

// Dialect captures the few SQL differences between the production store
// (MySQL 8) and the embedded store used in development and tests.
type Dialect int

const (
	MySQL Dialect = iota
	SQLite
)

// ParseDialect maps a DB_DRIVER value to a Dialect.
func ParseDialect(driver string) Dialect {
	if driver == "sqlite" {
		return SQLite
	}
	return MySQL
}

// ForUpdate returns the row-lock suffix for point reads inside a transaction.
func (d Dialect) ForUpdate() string {
	if d == MySQL {
		return " FOR UPDATE"
	}
	return ""
}

// ForUpdateSkipLocked returns the lock suffix for scan-and-pick queries, so
// concurrent lanes skip rows another transaction is already considering
// instead of queueing behind it.
func (d Dialect) ForUpdateSkipLocked() string {
	if d == MySQL {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

// InsertIgnore returns the INSERT variant that silently skips duplicate keys.
func (d Dialect) InsertIgnore() string {
	if d == MySQL {
		return "INSERT IGNORE"
	}
	return "INSERT OR IGNORE"
}

func (d Dialect) String() string {
	if d == MySQL {
		return "mysql"
	}
	return "sqlite"
}
