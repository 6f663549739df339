package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/pipe"
)

// InvokeErrorKind is the closed taxonomy of ways a service-style
// request/reply can fail.
type InvokeErrorKind int

const (
	InvokeAborted InvokeErrorKind = iota
	InvokeTimeout
	InvokeReply
	InvokeServiceError
)

func (k InvokeErrorKind) String() string {
	switch k {
	case InvokeAborted:
		return "aborted"
	case InvokeTimeout:
		return "timeout"
	case InvokeReply:
		return "reply"
	case InvokeServiceError:
		return "service_error"
	default:
		return "unknown"
	}
}

// InvokeError reports why Invoke did not return a successful reply.
type InvokeError struct {
	Kind InvokeErrorKind
	Err  error
}

func (e *InvokeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chain: invoke %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("chain: invoke %s", e.Kind)
}

func (e *InvokeError) Unwrap() error { return e.Err }

// DefaultInvokeTimeout is used by callers that don't need a tighter
// deadline on the request/reply round trip.
const DefaultInvokeTimeout = 30 * time.Second

// Invoke sends a request event tagged with requestType and waits for a
// reply event — one whose ReplyTo item points back at the request and
// whose TypeName matches replyType — appended within timeout. The type
// name is kept a first-class piece of metadata: the caller supplies
// the serialized request/expected-reply type names instead of this
// package inferring them via reflection, since Go generics cannot name
// a type at runtime the way reflect-free code in other languages can.
func Invoke(ctx context.Context, c *Chain, p pipe.Pipe, session *Session, requestType, replyType string, requestData []byte, timeout time.Duration) ([]byte, *InvokeError) {
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}

	reqKey := event.NewPrimaryKey()
	meta := event.Metadata{}
	meta.AddDataKey(reqKey)
	meta.AddTimestamp(c.Clock().NowMS())
	meta.AddTypeName(requestType)
	if len(session.ReadKeys) > 0 {
		for h := range session.ReadKeys {
			meta.AddAuthorization(event.Authorization{Read: event.ReadOption{Kind: event.ReadSpecific, KeyHash: h}})
			break
		}
	}

	replyCh, cancel := c.Watch(func(hdr event.Header) bool {
		replyTo, ok := hdr.Meta.ReplyTo()
		if !ok || replyTo != reqKey {
			return false
		}
		tn, ok := hdr.Meta.TypeName()
		return ok && tn == replyType
	})
	defer cancel()

	tx := pipe.Transaction{Scope: pipe.ScopeLocal, Transmit: true, Events: []event.Event{{
		Header: event.Header{Meta: meta, Format: event.DefaultFormat},
		Data:   requestData,
	}}}
	if err := p.Feed(ctx, tx); err != nil {
		return nil, &InvokeError{Kind: InvokeAborted, Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case hdr, ok := <-replyCh:
		if !ok {
			return nil, &InvokeError{Kind: InvokeAborted}
		}
		_, data, _, err := c.Log().Load(ctx, hdr.Hash)
		if err != nil {
			return nil, &InvokeError{Kind: InvokeServiceError, Err: err}
		}
		return data, nil
	case <-timer.C:
		return nil, &InvokeError{Kind: InvokeTimeout}
	case <-ctx.Done():
		return nil, &InvokeError{Kind: InvokeAborted, Err: ctx.Err()}
	}
}

// Reply appends a reply event tagged back to requestKey, the
// service-handler half of Invoke's request/reply pair.
func Reply(ctx context.Context, c *Chain, p pipe.Pipe, requestKey event.PrimaryKey, replyType string, replyData []byte) error {
	meta := event.Metadata{}
	meta.AddTimestamp(c.Clock().NowMS())
	meta.AddReplyTo(requestKey)
	meta.AddTypeName(replyType)

	tx := pipe.Transaction{Scope: pipe.ScopeLocal, Transmit: true, Events: []event.Event{{
		Header: event.Header{Meta: meta, Format: event.DefaultFormat},
		Data:   replyData,
	}}}
	return p.Feed(ctx, tx)
}
