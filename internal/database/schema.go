package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"
)

// SchemaSQL is the complete schema.  Every statement is idempotent so
// Migrate can run on every start.
//
// Supplier codes are case-sensitive ("IB" and "ib" are different cabins),
// so the columns in natural keys use a binary collation.
//
// The ingestion lock is not a table: it lives in Redis where key expiry
// gives it a native TTL.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS cruise_lines (
	id         BIGINT       NOT NULL PRIMARY KEY,
	name       VARCHAR(255) NOT NULL DEFAULT '',
	code       VARCHAR(32)  NOT NULL DEFAULT '',
	created_at DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS ships (
	id         BIGINT       NOT NULL PRIMARY KEY,
	line_id    BIGINT       NOT NULL,
	name       VARCHAR(255) NOT NULL DEFAULT '',
	code       VARCHAR(32)  NOT NULL DEFAULT '',
	updated_at DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	CONSTRAINT fk_ships_line FOREIGN KEY (line_id) REFERENCES cruise_lines(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS ports (
	id         BIGINT       NOT NULL PRIMARY KEY,
	name       VARCHAR(255) NOT NULL DEFAULT '',
	updated_at DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS cruise_definitions (
	id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	cruise_id      BIGINT          NOT NULL,
	line_id        BIGINT          NOT NULL,
	ship_id        BIGINT          NOT NULL,
	name           VARCHAR(255)    NOT NULL DEFAULT '',
	nights         INT             NULL,
	sail_nights    INT             NULL,
	sea_days       INT             NULL,
	voyage_code    VARCHAR(64)     NOT NULL DEFAULT '',
	itinerary_code VARCHAR(64)     NOT NULL DEFAULT '',
	created_at     DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	UNIQUE KEY uq_definitions_cruise (cruise_id),
	KEY idx_definitions_line (line_id),
	CONSTRAINT fk_definitions_line FOREIGN KEY (line_id) REFERENCES cruise_lines(id),
	CONSTRAINT fk_definitions_ship FOREIGN KEY (ship_id) REFERENCES ships(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS cruise_sailings (
	id                BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	definition_id     BIGINT UNSIGNED NOT NULL,
	sailing_id        BIGINT          NOT NULL,
	sail_date         DATE            NULL,
	embark_port_id    BIGINT          NULL,
	disembark_port_id BIGINT          NULL,
	region_ids        VARCHAR(1024)   NOT NULL DEFAULT '',
	port_ids          VARCHAR(2048)   NOT NULL DEFAULT '',
	no_fly            TINYINT(1)      NULL,
	depart_uk         TINYINT(1)      NULL,
	is_active         TINYINT(1)      NOT NULL DEFAULT 1,
	last_synced_at    DATETIME(3)     NOT NULL,
	created_at        DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE KEY uq_sailings_sailing (sailing_id),
	KEY idx_sailings_date (sail_date),
	CONSTRAINT fk_sailings_definition FOREIGN KEY (definition_id)
		REFERENCES cruise_definitions(id) ON DELETE RESTRICT
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS itinerary_stops (
	id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	sailing_id  BIGINT UNSIGNED NOT NULL,
	day_number  INT             NOT NULL DEFAULT 0,
	order_id    INT             NOT NULL,
	port_id     BIGINT          NULL,
	name        VARCHAR(255)    NOT NULL DEFAULT '',
	arrive_date DATE            NULL,
	depart_date DATE            NULL,
	arrive_time VARCHAR(8)      NOT NULL DEFAULT '',
	depart_time VARCHAR(8)      NOT NULL DEFAULT '',
	UNIQUE KEY uq_itinerary_order (sailing_id, order_id),
	CONSTRAINT fk_itinerary_sailing FOREIGN KEY (sailing_id)
		REFERENCES cruise_sailings(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS cabin_categories (
	id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	ship_id     BIGINT          NOT NULL,
	cabin_code  VARCHAR(32)     COLLATE utf8mb4_bin NOT NULL,
	name        VARCHAR(255)    NOT NULL DEFAULT '',
	cabin_class VARCHAR(16)     NOT NULL DEFAULT '',
	colour_code VARCHAR(16)     NOT NULL DEFAULT '',
	UNIQUE KEY uq_cabins_ship_code (ship_id, cabin_code),
	CONSTRAINT fk_cabins_ship FOREIGN KEY (ship_id) REFERENCES ships(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS pricing_records (
	id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	sailing_id     BIGINT UNSIGNED NOT NULL,
	cabin_code     VARCHAR(32)     COLLATE utf8mb4_bin NOT NULL,
	cabin_class    VARCHAR(16)     NOT NULL DEFAULT '',
	rate_code      VARCHAR(64)     COLLATE utf8mb4_bin NOT NULL,
	occupancy_code VARCHAR(32)     COLLATE utf8mb4_bin NOT NULL DEFAULT '',
	price          DECIMAL(12,2)   NOT NULL,
	taxes          DECIMAL(12,2)   NULL,
	currency       CHAR(3)         NOT NULL DEFAULT '',
	price_code     VARCHAR(160)    NOT NULL DEFAULT '',
	UNIQUE KEY uq_pricing_natural (sailing_id, rate_code, cabin_code, occupancy_code),
	KEY idx_pricing_class (sailing_id, cabin_class, price),
	CONSTRAINT fk_pricing_sailing FOREIGN KEY (sailing_id)
		REFERENCES cruise_sailings(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS cheapest_pricing (
	sailing_id      BIGINT UNSIGNED NOT NULL PRIMARY KEY,
	interior_price  DECIMAL(12,2)   NULL,
	oceanview_price DECIMAL(12,2)   NULL,
	balcony_price   DECIMAL(12,2)   NULL,
	suite_price     DECIMAL(12,2)   NULL,
	cheapest_price  DECIMAL(12,2)   NULL,
	cheapest_class  VARCHAR(16)     NULL,
	currency        CHAR(3)         NULL,
	computed_at     DATETIME(3)     NOT NULL,
	CONSTRAINT fk_cheapest_sailing FOREIGN KEY (sailing_id)
		REFERENCES cruise_sailings(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS sync_runs (
	id                   BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	run_id               CHAR(36)        NOT NULL,
	line_id              BIGINT          NOT NULL,
	trigger_source       VARCHAR(16)     NOT NULL,
	status               VARCHAR(16)     NOT NULL,
	started_at           DATETIME(3)     NOT NULL,
	finished_at          DATETIME(3)     NOT NULL,
	sailings_seen        INT             NOT NULL DEFAULT 0,
	sailings_updated     INT             NOT NULL DEFAULT 0,
	pricing_rows_written INT             NOT NULL DEFAULT 0,
	error_count          INT             NOT NULL DEFAULT 0,
	failure_reason       VARCHAR(1024)   NOT NULL DEFAULT '',
	UNIQUE KEY uq_sync_runs_run (run_id),
	KEY idx_sync_runs_line (line_id, finished_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS sync_run_errors (
	id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	run_id     CHAR(36)        NOT NULL,
	file_path  VARCHAR(512)    NOT NULL DEFAULT '',
	sailing_id BIGINT          NULL,
	stage      VARCHAR(16)     NOT NULL,
	message    VARCHAR(1024)   NOT NULL,
	KEY idx_sync_run_errors_run (run_id),
	CONSTRAINT fk_sync_run_errors_run FOREIGN KEY (run_id)
		REFERENCES sync_runs(run_id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`

// Statements splits SchemaSQL into single statements.  The driver is opened
// without multiStatements, so each one is executed on its own.
func Statements() []string {
	var out []string
	for _, stmt := range strings.Split(SchemaSQL, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Migrate creates every table that does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range Statements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "apply schema statement %.60q", stmt)
		}
	}
	return nil
}
