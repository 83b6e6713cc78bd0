package pggate

// RowMark is the row locking strength requested by the caller.
type RowMark int

const (
	RowMarkNone RowMark = iota
	RowMarkKeyShare
	RowMarkShare
	RowMarkNoKeyExclusive
	RowMarkExclusive
)

func (m RowMark) String() string {
	switch m {
	case RowMarkKeyShare:
		return "key_share"
	case RowMarkShare:
		return "share"
	case RowMarkNoKeyExclusive:
		return "no_key_exclusive"
	case RowMarkExclusive:
		return "exclusive"
	default:
		return "none"
	}
}

// ExecParameters carries per-execution control values. The Limit fields and
// RowMark are inputs; RowsFetched, RowsAffected and RemoteOps are filled in
// by the statement.
type ExecParameters struct {
	LimitCount      int64
	LimitOffset     int64
	LimitUseDefault bool
	RowMark         RowMark

	RowsFetched  int64
	RowsAffected int64
	RemoteOps    int
}

// pageSize returns the number of rows to request per remote read.
func (p *ExecParameters) pageSize(prefetchLimit int) int64 {
	limit := int64(prefetchLimit)
	if p == nil || p.LimitUseDefault || p.LimitCount <= 0 {
		return limit
	}
	if hint := p.LimitCount + p.LimitOffset; limit <= 0 || hint < limit {
		return hint
	}
	return limit
}
