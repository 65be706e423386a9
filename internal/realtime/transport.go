package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/workmesh/realtime/internal/proto"
)

// Transport is a bidirectional, event-typed channel to the gateway.
// Dial performs the hello handshake; Read blocks for the next pushed frame.
// Implementations must allow Read and Write from different goroutines.
type Transport interface {
	Dial(ctx context.Context, hello proto.HelloData) (*proto.HelloOKData, error)
	Read(ctx context.Context) (*proto.Inbound, error)
	Write(ctx context.Context, out proto.Outbound) error
	Close() error
}

// handshake validates the first frame after hello. An explicit error frame
// with the unauthorized code maps to ErrAuthRejected so callers can tell a
// terminal rejection from a transient failure.
func handshake(in *proto.Inbound) (*proto.HelloOKData, error) {
	switch in.Type {
	case proto.InboundTypeHelloOK:
		var ok proto.HelloOKData
		if err := unmarshalData(in.Data, &ok); err != nil {
			return nil, fmt.Errorf("decode hello_ok: %w", err)
		}
		return &ok, nil
	case proto.InboundTypeError:
		if in.Error != nil && in.Error.Code == proto.ErrCodeUnauthorized {
			return nil, fmt.Errorf("%w: %s", ErrAuthRejected, in.Error.Msg)
		}
		msg := "handshake rejected"
		if in.Error != nil {
			msg = in.Error.Msg
		}
		return nil, errors.New(msg)
	default:
		return nil, fmt.Errorf("unexpected handshake frame %q", in.Type)
	}
}
