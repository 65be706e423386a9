package realtime

import (
	"context"
	"sync"

	"github.com/workmesh/realtime/internal/proto"
)

// fakeEmitter records emitted frames and can be forced to fail.
type fakeEmitter struct {
	mu     sync.Mutex
	frames []proto.Outbound
	err    error
}

func (f *fakeEmitter) Emit(_ context.Context, out proto.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, out)
	return nil
}

func (f *fakeEmitter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeEmitter) byType(frameType string) []proto.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []proto.Outbound
	for _, fr := range f.frames {
		if fr.Type == frameType {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeEmitter) count(frameType string) int {
	return len(f.byType(frameType))
}

// fakeAPI implements the REST collaborator surface with function fields.
type fakeAPI struct {
	history      func(ctx context.Context, roomID string, page, limit int) ([]Message, error)
	conversation func(ctx context.Context, id string) (*Conversation, error)
	upload       func(ctx context.Context, filename, mimeType string, data []byte) (*Attachment, error)
}

func (f *fakeAPI) History(ctx context.Context, roomID string, page, limit int) ([]Message, error) {
	if f.history == nil {
		return nil, nil
	}
	return f.history(ctx, roomID, page, limit)
}

func (f *fakeAPI) Conversation(ctx context.Context, id string) (*Conversation, error) {
	if f.conversation == nil {
		return &Conversation{ID: id, Title: "t", CounterpartID: "c"}, nil
	}
	return f.conversation(ctx, id)
}

func (f *fakeAPI) Upload(ctx context.Context, filename, mimeType string, data []byte) (*Attachment, error) {
	if f.upload == nil {
		return &Attachment{Filename: filename, URL: "https://files.invalid/" + filename, MimeType: mimeType, SizeBytes: int64(len(data))}, nil
	}
	return f.upload(ctx, filename, mimeType, data)
}
