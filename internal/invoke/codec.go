package invoke

import (
	"fmt"

	"github.com/aalobaidi/protodyn/internal/dynmsg"
)

// dynCodec is the grpc encoding.Codec bound to every call via
// grpc.ForceCodec, so the invoker never needs generated stub types:
// marshalling and unmarshalling both go through the descriptor-bound
// dynmsg wire transcoders (component C).
type dynCodec struct{}

func (dynCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(*dynmsg.Message)
	if !ok {
		return nil, fmt.Errorf("invoke: codec expects *dynmsg.Message, got %T", v)
	}
	return dynmsg.Encode(msg)
}

func (dynCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(*dynmsg.Message)
	if !ok {
		return fmt.Errorf("invoke: codec expects *dynmsg.Message, got %T", v)
	}
	decoded, err := dynmsg.Decode(msg.Descriptor(), data)
	if err != nil {
		return err
	}
	msg.ReplaceWith(decoded)
	return nil
}

func (dynCodec) Name() string { return "dynmsg" }
