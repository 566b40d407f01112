package history

import "strings"

// SortOrder defines how results should be ordered when listing records.
type SortOrder int

const (
	// SortByUpdatedDesc orders records by UpdatedAt descending (most recent first).
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc orders records by UpdatedAt ascending (oldest first).
	SortByUpdatedAsc
)

// ListOptions controls how records are selected when querying the store.
type ListOptions struct {
	Limit      int
	Offset     int
	SessionID  string
	GraphID    string
	Capability string
	Statuses   []string
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.SessionID = strings.TrimSpace(opts.SessionID)
	opts.GraphID = strings.TrimSpace(opts.GraphID)
	opts.Capability = strings.TrimSpace(opts.Capability)
	if len(opts.Statuses) > 0 {
		seen := make(map[string]struct{}, len(opts.Statuses))
		cleaned := opts.Statuses[:0]
		for _, status := range opts.Statuses {
			status = strings.TrimSpace(strings.ToLower(status))
			if status == "" {
				continue
			}
			if _, dup := seen[status]; dup {
				continue
			}
			seen[status] = struct{}{}
			cleaned = append(cleaned, status)
		}
		opts.Statuses = cleaned
	}
}

// matches reports whether a record passes the configured filters.
func (opts *ListOptions) matches(record *Record) bool {
	if opts.SessionID != "" && record.SessionID != opts.SessionID {
		return false
	}
	if opts.GraphID != "" && record.GraphID != opts.GraphID {
		return false
	}
	if opts.Capability != "" && record.Capability != opts.Capability {
		return false
	}
	if len(opts.Statuses) > 0 {
		found := false
		for _, status := range opts.Statuses {
			if record.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && record.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && record.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	return true
}
