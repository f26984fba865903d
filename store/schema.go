package store

// schema is rendered per dialect by renderSchema.
const schema = `
CREATE TABLE IF NOT EXISTS zones (
    id          {{pk}},
    name        TEXT NOT NULL,
    type        TEXT NOT NULL DEFAULT 'restricted',
    geometry    {{json}} NOT NULL,
    color       TEXT NOT NULL DEFAULT '',
    enabled     {{bool}} NOT NULL DEFAULT {{true}},
    created_at  {{ts}} NOT NULL,
    updated_at  {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS robots (
    id               {{pk}},
    name             TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'idle',
    battery          INTEGER NOT NULL DEFAULT 100,
    lat              DOUBLE PRECISION NOT NULL,
    lon              DOUBLE PRECISION NOT NULL,
    speed            DOUBLE PRECISION NOT NULL DEFAULT 0,
    heading          DOUBLE PRECISION NOT NULL DEFAULT 0,
    assigned_zone_id BIGINT REFERENCES zones(id) ON DELETE SET NULL,
    patrol_index     INTEGER NOT NULL DEFAULT 0,
    patrol_path      {{json}},
    last_seen        {{ts}} NOT NULL,
    created_at       {{ts}} NOT NULL,
    updated_at       {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_robots_status ON robots(status);

CREATE TABLE IF NOT EXISTS patrol_routes (
    id          {{pk}},
    robot_id    BIGINT NOT NULL REFERENCES robots(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    waypoints   {{json}} NOT NULL,
    direction   TEXT NOT NULL DEFAULT 'cw',
    is_active   {{bool}} NOT NULL DEFAULT {{true}},
    created_at  {{ts}} NOT NULL,
    updated_at  {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patrol_routes_robot ON patrol_routes(robot_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_patrol_routes_one_active ON patrol_routes(robot_id) WHERE is_active = {{true}};

CREATE TABLE IF NOT EXISTS events (
    id          {{pk}},
    robot_id    BIGINT REFERENCES robots(id) ON DELETE SET NULL,
    type        TEXT NOT NULL,
    severity    TEXT NOT NULL DEFAULT 'info',
    message     TEXT NOT NULL DEFAULT '',
    data        {{json}},
    created_at  {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
CREATE INDEX IF NOT EXISTS idx_events_robot ON events(robot_id);

CREATE TABLE IF NOT EXISTS robot_positions (
    id          {{pk}},
    robot_id    BIGINT NOT NULL REFERENCES robots(id) ON DELETE CASCADE,
    lat         DOUBLE PRECISION NOT NULL,
    lon         DOUBLE PRECISION NOT NULL,
    battery     INTEGER NOT NULL DEFAULT 0,
    speed       DOUBLE PRECISION NOT NULL DEFAULT 0,
    heading     DOUBLE PRECISION NOT NULL DEFAULT 0,
    recorded_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_robot_positions_robot_time ON robot_positions(robot_id, recorded_at);

CREATE TABLE IF NOT EXISTS operators (
    id            {{pk}},
    email         TEXT NOT NULL UNIQUE,
    name          TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    created_at    {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id          {{pk}},
    entity_type TEXT NOT NULL,
    entity_id   BIGINT NOT NULL DEFAULT 0,
    action      TEXT NOT NULL,
    detail      TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT '',
    created_at  {{ts}} NOT NULL
);
`
