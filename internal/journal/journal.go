package journal

import (
	"database/sql"
	"time"

	"github.com/Hara602/treeSentry/internal/model"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT    NOT NULL,
	kind         TEXT    NOT NULL,
	path         TEXT    NOT NULL,
	content_type TEXT    NOT NULL DEFAULT '',
	masquerade   INTEGER NOT NULL DEFAULT 0,
	observed_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_path ON events(path);
`

// Entry 日志中的一条记录
type Entry struct {
	RunID       string
	Kind        string
	Path        string
	ContentType string
	Masquerade  bool
	ObservedAt  time.Time
}

// Journal 把分类后的事件追加到 sqlite
// 每次启动生成新的 run id，便于区分不同运行
type Journal struct {
	db    *sql.DB
	runID string
	log   *zap.Logger
}

func Open(dbPath string, log *zap.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open journal database")
	}
	// 只有运行循环一个写入者
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create journal table")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{db: db, runID: uuid.NewString(), log: log}, nil
}

func (j *Journal) RunID() string { return j.runID }

func (j *Journal) Record(ev model.FileEvent) error {
	masquerade := 0
	if ev.Masquerade {
		masquerade = 1
	}
	_, err := j.db.Exec(
		"INSERT INTO events(run_id, kind, path, content_type, masquerade, observed_at) VALUES (?, ?, ?, ?, ?, ?)",
		j.runID, ev.Kind.String(), ev.Path, ev.ContentType, masquerade, ev.TimeStamp.UnixNano(),
	)
	return errors.Wrapf(err, "journal %s", ev.Path)
}

// Handle 实现 monitor.Sink，写入失败只记录日志
func (j *Journal) Handle(ev model.FileEvent) {
	if err := j.Record(ev); err != nil {
		j.log.Error("failed to write journal", zap.Error(err))
	}
}

// Recent 最近 limit 条记录，新的在前
func (j *Journal) Recent(limit int) ([]Entry, error) {
	rows, err := j.db.Query(
		"SELECT run_id, kind, path, content_type, masquerade, observed_at FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query journal")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			masquerade int
			observedAt int64
		)
		if err := rows.Scan(&e.RunID, &e.Kind, &e.Path, &e.ContentType, &masquerade, &observedAt); err != nil {
			return nil, errors.Wrap(err, "scan journal row")
		}
		e.Masquerade = masquerade != 0
		e.ObservedAt = time.Unix(0, observedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
