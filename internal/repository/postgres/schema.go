package postgres

// Statements are separated by semicolons and must be idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          BIGSERIAL PRIMARY KEY,
	telegram_id BIGINT NOT NULL UNIQUE,
	first_name  TEXT NOT NULL DEFAULT '',
	last_name   TEXT NOT NULL DEFAULT '',
	username    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS categories (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT idx_user_category_name UNIQUE (user_id, name)
);

CREATE TABLE IF NOT EXISTS templates (
	id                    BIGSERIAL PRIMARY KEY,
	user_id               BIGINT NOT NULL DEFAULT 0,
	category_id           BIGINT,
	title                 TEXT NOT NULL,
	description           TEXT NOT NULL DEFAULT '',
	frequency             TEXT NOT NULL,
	repeat_interval       INTEGER NOT NULL CHECK (repeat_interval >= 1),
	days_of_week          TEXT NOT NULL DEFAULT '',
	day_of_month          INTEGER NOT NULL DEFAULT 0 CHECK (day_of_month BETWEEN 0 AND 31),
	end_date              DATE,
	max_occurrences       INTEGER NOT NULL DEFAULT 0,
	anchor_date           DATE NOT NULL,
	generated_until       DATE,
	occurrences_generated INTEGER NOT NULL DEFAULT 0,
	active                BOOLEAN NOT NULL DEFAULT TRUE,
	version               INTEGER NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_templates_active ON templates (active);

CREATE TABLE IF NOT EXISTS tasks (
	id            BIGSERIAL PRIMARY KEY,
	user_id       BIGINT NOT NULL DEFAULT 0,
	category_id   BIGINT,
	template_id   BIGINT REFERENCES templates (id),
	instance_date DATE,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	deadline      TIMESTAMPTZ,
	is_completed  BOOLEAN NOT NULL DEFAULT FALSE,
	completed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_task_template_date ON tasks (template_id, instance_date);
`
