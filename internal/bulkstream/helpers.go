package bulkstream

import (
	"context"
	"encoding/binary"
	"io"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

// PushFile uploads r's bytes to streamID over a fresh Push call, the first
// chunk carrying the big-endian stream id as its payload per the Service.Push
// wire convention. Used by clients invoking LoadState against a server that
// hasn't yet been sent the matching bytes.
func PushFile(ctx context.Context, c Client, streamID uint32, r io.Reader) error {
	stream, err := c.Push(ctx)
	if err != nil {
		return err
	}
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], streamID)
	if err := stream.Send(&wrapperspb.BytesValue{Value: idBuf[:]}); err != nil {
		return err
	}
	if err := copyInChunks(r, func(b []byte) error {
		cp := make([]byte, len(b))
		copy(cp, b)
		return stream.Send(&wrapperspb.BytesValue{Value: cp})
	}); err != nil {
		return err
	}
	_, err = stream.CloseAndRecv()
	return err
}

// PullFile downloads every chunk of streamID into w, used by clients after
// a SaveState reply names the stream id the saved bytes were written to.
func PullFile(ctx context.Context, c Client, streamID uint32, w io.Writer) error {
	stream, err := c.Pull(ctx, streamID)
	if err != nil {
		return err
	}
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk.GetValue()); err != nil {
			return err
		}
	}
}
