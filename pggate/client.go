package pggate

import (
	"context"

	"github.com/guileen/pglitegate/docdb"
)

// Client executes operations against storage.
type Client interface {
	Read(ctx context.Context, req *docdb.ReadRequest) (*docdb.ReadResponse, error)
	Write(ctx context.Context, req *docdb.WriteRequest) (*docdb.WriteResponse, error)
}

var _ Client = (*docdb.Server)(nil)
