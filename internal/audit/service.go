package audit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glueful/accessd/internal/rbac"
)

// Entry is one recorded assignment mutation.
type Entry struct {
	ID       int64
	Action   string
	UserID   uuid.UUID
	Subject  string
	Resource string
	Actor    string
	At       time.Time
}

// TimelineFilters narrow timeline queries.
type TimelineFilters struct {
	UserID   *uuid.UUID
	Action   string
	Page     int
	PageSize int
}

// PagingInfo reports cursor state for the timeline.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
}

// Service records and reads the assignment audit trail.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService constructs the audit service.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, logger: logger}
}

var _ rbac.AuditSink = (*Service)(nil)

// RecordAssignment appends a mutation to the trail. Failures are logged, not
// surfaced: auditing must never fail the mutation it describes.
func (s *Service) RecordAssignment(ctx context.Context, event rbac.AuditEvent) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rbac_audit_log (action, user_id, subject, resource, actor, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.Action, event.UserID, event.Subject, event.Resource, event.Actor, event.At)
	if err != nil {
		s.logger.Error("record audit entry", slog.String("action", event.Action), slog.Any("error", err))
	}
}

// Timeline returns audit entries, newest first, with look-ahead paging.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) ([]Entry, PagingInfo, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}

	query := `SELECT id, action, user_id, subject, resource, actor, occurred_at FROM rbac_audit_log WHERE true`
	args := []any{}
	if filters.UserID != nil {
		args = append(args, *filters.UserID)
		query += ` AND user_id = $1`
	}
	if filters.Action != "" {
		args = append(args, filters.Action)
		query += ` AND action = $` + strconv.Itoa(len(args))
	}
	args = append(args, pageSize+1, (page-1)*pageSize)
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, PagingInfo{}, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.UserID, &entry.Subject,
			&entry.Resource, &entry.Actor, &entry.At); err != nil {
			return nil, PagingInfo{}, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, PagingInfo{}, err
	}

	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	return entries, PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}, nil
}
