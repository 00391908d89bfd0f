package memory

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"Aura-Agent/deploy/migrations"
	xerrors "Aura-Agent/internal/errors"
)

// MySQLConfig 描述事实库的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLFactStore 把事实持久化到 MySQL，多设备共享长期记忆时使用。
type MySQLFactStore struct {
	db *sql.DB
}

// NewMySQLFactStore 建立连接并执行待应用的迁移。
// 连接失败或迁移失败都会让启动失败（fail closed）。
func NewMySQLFactStore(ctx context.Context, cfg MySQLConfig) (*MySQLFactStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLFactStore{db: db}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Assert 插入一条事实记录。
func (s *MySQLFactStore) Assert(ctx context.Context, fact *Fact) error {
	if err := validateFact(fact); err != nil {
		return err
	}
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.CreatedAt == 0 {
		fact.CreatedAt = time.Now().Unix()
	}

	const stmt = `INSERT INTO memory_facts
        (id, subject, predicate, object, confidence, session_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		fact.ID, fact.Subject, fact.Predicate, fact.Object,
		fact.Confidence, fact.SessionID, fact.CreatedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "写入事实失败")
	}
	return nil
}

// Query 返回匹配的事实，created_at 倒序保证最新优先。
func (s *MySQLFactStore) Query(ctx context.Context, filter Filter) ([]Fact, error) {
	filter.applyDefaults()

	query := `SELECT id, subject, predicate, object, confidence, session_id, created_at
        FROM memory_facts`
	var conditions []string
	var params []any
	if filter.Subject != "" {
		conditions = append(conditions, "subject = ?")
		params = append(params, filter.Subject)
	}
	if filter.Predicate != "" {
		conditions = append(conditions, "predicate = ?")
		params = append(params, filter.Predicate)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	params = append(params, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "查询事实失败")
	}
	defer rows.Close()

	var results []Fact
	for rows.Next() {
		var fact Fact
		if err := rows.Scan(&fact.ID, &fact.Subject, &fact.Predicate, &fact.Object,
			&fact.Confidence, &fact.SessionID, &fact.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "解析事实记录失败")
		}
		results = append(results, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "遍历事实记录失败")
	}
	return results, nil
}

// Close 关闭数据库连接。
func (s *MySQLFactStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type migrationFile struct {
	version    string
	name       string
	statements []string
}

func (s *MySQLFactStore) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "创建 schema_migrations 表失败")
	}

	applied, err := s.loadAppliedVersions(ctx)
	if err != nil {
		return err
	}

	files, err := loadMigrationFiles()
	if err != nil {
		return err
	}

	for _, migration := range files {
		if _, ok := applied[migration.version]; ok {
			continue
		}
		if err := s.applyMigration(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLFactStore) loadAppliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "查询 schema_migrations 失败")
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "解析 schema_migrations 失败")
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "遍历 schema_migrations 失败")
	}
	return applied, nil
}

func (s *MySQLFactStore) applyMigration(ctx context.Context, migration migrationFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "开启迁移事务失败")
	}
	for _, stmt := range migration.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodePersistenceFailure, err,
				fmt.Sprintf("执行迁移 %s 失败", migration.name))
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		migration.version, time.Now().Unix(),
	); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "记录迁移版本失败")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "提交迁移事务失败")
	}
	return nil
}

func loadMigrationFiles() ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrations.Files, ".")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "读取迁移目录失败")
	}

	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		content, err := migrations.Files.ReadFile(name)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err,
				fmt.Sprintf("读取迁移文件 %s 失败", name))
		}
		statements := splitStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		files = append(files, migrationFile{
			version:    migrationVersion(name),
			name:       name,
			statements: statements,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].version == files[j].version {
			return files[i].name < files[j].name
		}
		return files[i].version < files[j].version
	})
	return files, nil
}

func splitStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		statements = append(statements, trimmed)
	}
	return statements
}

func migrationVersion(name string) string {
	if idx := strings.IndexRune(name, '_'); idx > 0 {
		return name[:idx]
	}
	if dot := strings.IndexRune(name, '.'); dot > 0 {
		return name[:dot]
	}
	return name
}

var _ FactStore = (*MySQLFactStore)(nil)
