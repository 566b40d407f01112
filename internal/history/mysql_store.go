package history

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "ChainPilot/internal/errors"
)

// MySQLStore 使用 MySQL 记录能力调用历史。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore，并应用内嵌的 SQL 迁移。
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Save 落库一批记录。同 ID 覆盖更新，整批在一个事务中提交。
func (s *MySQLStore) Save(ctx context.Context, records ...*Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer func() { _ = tx.Rollback() }()

	const stmt = `INSERT INTO call_records
        (id, session_id, graph_id, alias, capability, args_digest, status, served_by,
         attempts, alternates, error_code, last_error, payload, memoized, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        status = VALUES(status), served_by = VALUES(served_by), attempts = VALUES(attempts),
        alternates = VALUES(alternates), error_code = VALUES(error_code), last_error = VALUES(last_error),
        payload = VALUES(payload), memoized = VALUES(memoized), updated_at = VALUES(updated_at)`

	now := time.Now().Unix()
	for _, record := range records {
		if record == nil || record.ID == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 不能为空")
		}
		createdAt := record.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		alternates, err := marshalAlternates(record.Alternates)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码备选列表失败")
		}
		if _, err := tx.ExecContext(ctx, stmt,
			record.ID,
			record.SessionID,
			record.GraphID,
			record.Alias,
			record.Capability,
			record.ArgsDigest,
			record.Status,
			record.ServedBy,
			record.Attempts,
			alternates,
			record.ErrorCode,
			record.LastError,
			record.Payload,
			record.Memoized,
			createdAt,
			now,
		); err != nil {
			var mysqlErr *mysql.MySQLError
			if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
				return ErrRecordConflict
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入调用记录失败")
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Get 查询指定记录。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Record, error) {
	const stmt = `SELECT id, session_id, graph_id, alias, capability, args_digest, status, served_by,
        attempts, alternates, error_code, last_error, payload, memoized, created_at, updated_at
        FROM call_records WHERE id = ?`

	record, err := scanRecord(s.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调用记录失败")
	}
	return record, nil
}

// List 按过滤条件返回记录。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()

	query := `SELECT id, session_id, graph_id, alias, capability, args_digest, status, served_by,
        attempts, alternates, error_code, last_error, payload, memoized, created_at, updated_at FROM call_records`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调用记录列表失败")
	}
	defer rows.Close()

	records := make([]*Record, 0, opts.Limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描调用记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历调用记录失败")
	}
	return records, nil
}

// Close 释放数据库连接。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func buildFilterClause(opts ListOptions) (string, []any) {
	var conditions []string
	var args []any
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.GraphID != "" {
		conditions = append(conditions, "graph_id = ?")
		args = append(args, opts.GraphID)
	}
	if opts.Capability != "" {
		conditions = append(conditions, "capability = ?")
		args = append(args, opts.Capability)
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	return strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var alternates sql.NullString
	if err := row.Scan(
		&record.ID,
		&record.SessionID,
		&record.GraphID,
		&record.Alias,
		&record.Capability,
		&record.ArgsDigest,
		&record.Status,
		&record.ServedBy,
		&record.Attempts,
		&alternates,
		&record.ErrorCode,
		&record.LastError,
		&record.Payload,
		&record.Memoized,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if alternates.Valid && alternates.String != "" {
		if err := json.Unmarshal([]byte(alternates.String), &record.Alternates); err != nil {
			return nil, err
		}
	}
	return &record, nil
}

func marshalAlternates(alternates []string) (string, error) {
	if len(alternates) == 0 {
		return "", nil
	}
	data, err := json.Marshal(alternates)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
