package pipeline

import (
	"context"
	"testing"

	"github.com/docquer/docquer/internal/apperr"
	"github.com/docquer/docquer/internal/storage"
	"github.com/docquer/docquer/internal/vectorstore"
)

func TestAttachFile_IndexesChunks(t *testing.T) {
	env := newTestEnv(t, defaultOpts())
	conv := env.newConversation(t, NewConversation{FirstMessage: "hello"})

	res := env.upload(t, conv.ID, "sky.txt", "The sky is blue.", false)
	if res.Chunks != 1 {
		t.Errorf("Chunks = %d, want 1", res.Chunks)
	}
	if res.IndexName != vectorstore.IndexName(conv.ID) {
		t.Errorf("IndexName = %q", res.IndexName)
	}

	got, err := env.svc.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FileName != "sky.txt" || got.FileMIME != "text/plain; charset=utf-8" {
		t.Errorf("file recorded as %q (%q)", got.FileName, got.FileMIME)
	}
}

func TestAttachFile_AddsToExistingIndex(t *testing.T) {
	env := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	conv := env.newConversation(t, NewConversation{FirstMessage: "hello"})

	env.upload(t, conv.ID, "sky.txt", "The sky is blue.", false)
	env.upload(t, conv.ID, "grass.txt", "Grass is green.", false)

	h, err := env.vectors.Open(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	matches, err := env.vectors.Query(ctx, h, []float32{1, 1, 0.01}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Errorf("index holds %d records, want 2", len(matches))
	}
}

func TestAttachFile_Rejected(t *testing.T) {
	tests := []struct {
		name string
		mime string
		data string
		kind apperr.Kind
	}{
		{"unsupported type", "application/zip", "PK\x03\x04", apperr.UnsupportedFormat},
		{"empty upload", "text/plain", "", apperr.InvalidInput},
		{"whitespace only", "text/plain", "  \n\t \n", apperr.InvalidInput},
		{"corrupt docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "not a zip", apperr.InvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, defaultOpts())
			ctx := context.Background()
			conv := env.newConversation(t, NewConversation{FirstMessage: "hello"})

			_, err := env.svc.AttachFile(ctx, FileUpload{ConversationID: conv.ID, FileName: "f", MIME: tt.mime, Data: []byte(tt.data)})
			if !apperr.Is(err, tt.kind) {
				t.Fatalf("got %v, want kind %v", err, tt.kind)
			}
			if _, err := env.vectors.Open(ctx, conv.ID); !apperr.Is(err, apperr.NotFound) {
				t.Errorf("rejected upload left an index: %v", err)
			}
			got, _ := env.svc.GetConversation(ctx, conv.ID)
			if got.HasContent() {
				t.Error("rejected upload recorded as content")
			}
		})
	}
}

func TestAttachFile_UnknownConversation(t *testing.T) {
	env := newTestEnv(t, defaultOpts())
	_, err := env.svc.AttachFile(context.Background(), FileUpload{ConversationID: "missing", FileName: "a.txt", MIME: "text/plain", Data: []byte("sky")})
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("got %v, want NotFound", err)
	}
}

func TestIndex_ZeroChunksCreatesNoIndex(t *testing.T) {
	env := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	conv := env.newConversation(t, NewConversation{FirstMessage: "hello"})

	for _, replace := range []bool{false, true} {
		res, err := env.svc.Index(ctx, conv.ID, nil, replace, SourceFile)
		if err != nil {
			t.Fatalf("replace=%v: %v", replace, err)
		}
		if res.Chunks != 0 || res.IndexName != "" {
			t.Errorf("replace=%v: result = %+v", replace, res)
		}
	}
	if _, err := env.vectors.Open(ctx, conv.ID); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("zero-chunk index created an index: %v", err)
	}
}

func TestAttachLink(t *testing.T) {
	env := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	conv := env.newConversation(t, NewConversation{FirstMessage: "hello"})

	res, err := env.svc.AttachLink(ctx, conv.ID, "https://example.com/lawn")
	if err != nil {
		t.Fatalf("AttachLink: %v", err)
	}
	if res.Chunks != 1 || res.Link == nil {
		t.Fatalf("result = %+v", res)
	}
	want := storage.Link{Name: "Lawn care", URL: "https://example.com/lawn", Type: storage.LinkWebPage}
	if *res.Link != want {
		t.Errorf("link = %+v, want %+v", *res.Link, want)
	}

	tr, err := env.svc.Messages(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !tr.LinkUploaded || len(tr.Conversation.Links) != 1 {
		t.Errorf("LinkUploaded=%v links=%v", tr.LinkUploaded, tr.Conversation.Links)
	}

	chat, err := env.svc.Chat(ctx, ChatRequest{ConversationID: conv.ID, Query: "how do I care for grass?"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !chat.Grounded || chat.Chunks == 0 {
		t.Errorf("chat after link: Grounded=%v Chunks=%d", chat.Grounded, chat.Chunks)
	}
}

func TestAttachVideo(t *testing.T) {
	env := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	conv := env.newConversation(t, NewConversation{FirstMessage: "hello"})
	env.upload(t, conv.ID, "sky.txt", "The sky is blue.", false)

	res, err := env.svc.AttachVideo(ctx, conv.ID, " https://youtu.be/dQw4w9WgXcQ ")
	if err != nil {
		t.Fatalf("AttachVideo: %v", err)
	}
	want := storage.Link{Name: "YouTube Video - dQw4w9WgXcQ", URL: "https://youtu.be/dQw4w9WgXcQ", Type: storage.LinkYouTubeTranscript}
	if res.Link == nil || *res.Link != want {
		t.Errorf("link = %+v, want %+v", res.Link, want)
	}

	// The transcript is added next to the file, not in its place.
	for query, text := range map[string]string{
		"sky":    "The sky is blue.",
		"python": "python lists are sorted with sorted()",
	} {
		matches, err := env.svc.retriever.Retrieve(ctx, conv.ID, query)
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) == 0 || matches[0].Text != text {
			t.Errorf("top match for %q = %v, want %q", query, matches, text)
		}
	}
}

func TestAttach_FetchersNotConfigured(t *testing.T) {
	env := newTestEnv(t, defaultOpts())
	ctx := context.Background()
	conv := env.newConversation(t, NewConversation{FirstMessage: "hello"})
	env.svc.pages, env.svc.transcripts = nil, nil

	if _, err := env.svc.AttachLink(ctx, conv.ID, "https://example.com"); !apperr.Is(err, apperr.ServiceUnavailable) {
		t.Errorf("AttachLink: got %v, want ServiceUnavailable", err)
	}
	if _, err := env.svc.AttachVideo(ctx, conv.ID, "dQw4w9WgXcQ"); !apperr.Is(err, apperr.ServiceUnavailable) {
		t.Errorf("AttachVideo: got %v, want ServiceUnavailable", err)
	}
}
