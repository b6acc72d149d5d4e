package echowsserver

import (
	"context"

	"github.com/gbdevw/gowsengine/wscodec"
)

// Service which echoes what it receives:
//   - Text and binary frames are sent back as is.
//   - Ping frames are answered with a pong carrying the same payload.
//   - Close frames are answered with a close message carrying the same reason, which ends the
//     session.
//   - Pong frames and absorbed fragments produce nothing.
type EchoService struct{}

func (EchoService) Call(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error) {
	switch frame.Kind {
	case wscodec.FrameText:
		return wscodec.Message{Kind: wscodec.MessageText, Payload: frame.Payload}, nil
	case wscodec.FrameBinary:
		return wscodec.BinaryMessage(frame.Payload), nil
	case wscodec.FramePing:
		return wscodec.PongMessage(frame.Payload), nil
	case wscodec.FrameClose:
		return wscodec.CloseMessage(frame.CloseReason), nil
	default:
		return wscodec.NopMessage(), nil
	}
}
