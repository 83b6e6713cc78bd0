package pggate

import (
	"context"
	"time"

	"github.com/guileen/pglitegate/docdb"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/logger"
)

// pageResult is the outcome of one read request.
type pageResult struct {
	resp *docdb.ReadResponse
	err  error
}

// prefetchCall is a read request running ahead of the caller.
type prefetchCall struct {
	cancel context.CancelFunc
	done   chan pageResult
}

// docOp drives the remote operation of one execution: a paged read, a
// sequence of ybctid batches each read page by page, or a single write.
type docOp struct {
	client   Client
	timeout  time.Duration
	metrics  *Metrics
	prefetch bool

	read     *docdb.ReadRequest
	pageSize int64
	// batches is non-nil when the read is driven by ybctids from a nested
	// index lookup.
	batches [][][]byte
	batch   int
	paging  *docdb.PagingState

	inflight  *prefetchCall
	exhausted bool
	err       error
	ops       int
}

func newReadOp(s *Session, req *docdb.ReadRequest, pageSize int64, batches [][][]byte) *docOp {
	o := &docOp{
		client:   s.client,
		timeout:  s.cfg.RPCTimeout,
		metrics:  s.metrics,
		prefetch: s.cfg.PrefetchEnabled,
		read:     req,
		pageSize: pageSize,
		batches:  batches,
	}
	if req.IsAggregate {
		o.pageSize = 0
	}
	if batches != nil && len(batches) == 0 {
		o.exhausted = true
	}
	return o
}

func newWriteOp(s *Session) *docOp {
	return &docOp{
		client:  s.client,
		timeout: s.cfg.RPCTimeout,
		metrics: s.metrics,
	}
}

// nextRequest returns the read request for the current position.
func (o *docOp) nextRequest() *docdb.ReadRequest {
	req := *o.read
	req.Limit = o.pageSize
	req.PagingState = nil
	if o.paging != nil {
		ps := *o.paging
		req.PagingState = &ps
	}
	if o.batches != nil {
		req.BatchArguments = o.batches[o.batch]
	}
	return &req
}

func (o *docOp) callRead(ctx context.Context, req *docdb.ReadRequest) (*docdb.ReadResponse, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := o.client.Read(ctx, req)
	o.metrics.remoteOp("read", start, err)
	return resp, err
}

// fetch returns the next page of rows and whether more remain.
func (o *docOp) fetch(ctx context.Context) ([]docdb.Row, bool, error) {
	if o.err != nil {
		return nil, false, o.err
	}
	if o.exhausted {
		return nil, false, nil
	}

	var res pageResult
	if p := o.inflight; p != nil {
		o.inflight = nil
		select {
		case res = <-p.done:
		case <-ctx.Done():
			p.cancel()
			<-p.done
			res = pageResult{err: ctx.Err()}
		}
		p.cancel()
	} else {
		o.ops++
		res.resp, res.err = o.callRead(ctx, o.nextRequest())
	}
	if res.err != nil {
		o.err = errors.RemoteOperationFailed(res.err, "docOp.fetch")
		return nil, false, o.err
	}
	if res.resp == nil {
		res.resp = &docdb.ReadResponse{}
	}

	o.advance(res.resp.PagingState)
	if !o.exhausted && o.prefetch {
		o.startPrefetch(ctx)
	}
	return res.resp.Rows, !o.exhausted, nil
}

// advance moves to the next page, then to the next ybctid batch.
func (o *docOp) advance(ps *docdb.PagingState) {
	if ps != nil {
		o.paging = ps
		return
	}
	o.paging = nil
	if o.batches != nil && o.batch+1 < len(o.batches) {
		o.batch++
		return
	}
	o.exhausted = true
}

func (o *docOp) startPrefetch(ctx context.Context) {
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &prefetchCall{cancel: cancel, done: make(chan pageResult, 1)}
	req := o.nextRequest()
	o.ops++
	o.inflight = p
	go func() {
		resp, err := o.callRead(pctx, req)
		p.done <- pageResult{resp: resp, err: err}
	}()
	logger.DebugContext(ctx, "prefetching next page", logger.Component("pggate"), logger.Int("batch", o.batch))
}

// write runs a write request. Writes are issued once and never paged.
func (o *docOp) write(ctx context.Context, req *docdb.WriteRequest) (*docdb.WriteResponse, error) {
	if o.err != nil {
		return nil, o.err
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	o.ops++
	start := time.Now()
	resp, err := o.client.Write(ctx, req)
	o.metrics.remoteOp("write", start, err)
	o.exhausted = true
	if err != nil {
		o.err = errors.RemoteOperationFailed(err, "docOp.write")
		return nil, o.err
	}
	return resp, nil
}

// close cancels a running prefetch and waits for it to finish.
func (o *docOp) close() {
	if p := o.inflight; p != nil {
		o.inflight = nil
		p.cancel()
		<-p.done
	}
	o.exhausted = true
}
