package pipeline

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/docquer/docquer/internal/apperr"
	"github.com/docquer/docquer/internal/extract"
	"github.com/docquer/docquer/internal/metrics"
	"github.com/docquer/docquer/internal/storage"
	"github.com/docquer/docquer/internal/vectorstore"
)

// Ingestion sources, used as metric labels.
const (
	SourceFile  = "file"
	SourceLink  = "web_page"
	SourceVideo = "youtube_transcript"
)

// FileUpload is a document attached to a conversation.
type FileUpload struct {
	ConversationID string
	FileName       string
	MIME           string
	Data           []byte
	// Replace rebuilds the conversation's index instead of adding to it.
	Replace bool
}

// IngestResult reports what an ingestion wrote.
type IngestResult struct {
	Chunks    int    `json:"chunks"`
	IndexName string `json:"indexName,omitempty"`
	Replaced  bool   `json:"replaced"`
	// PurgeFailed is set when old records could not be removed before a
	// replace, so stale chunks may still be retrieved.
	PurgeFailed bool          `json:"purgeFailed"`
	Warning     string        `json:"warning,omitempty"`
	Link        *storage.Link `json:"link,omitempty"`
}

// AttachFile extracts, chunks and indexes an uploaded document, then
// records it on the conversation. Nothing is written when the document
// cannot be read or holds no text.
func (s *Service) AttachFile(ctx context.Context, f FileUpload) (IngestResult, error) {
	if _, err := s.conversation(f.ConversationID); err != nil {
		return IngestResult{}, err
	}
	if len(f.Data) == 0 {
		return IngestResult{}, apperr.New(apperr.InvalidInput, "uploaded file %q is empty", f.FileName)
	}

	res, err := s.extractor.Extract(ctx, f.Data, f.MIME)
	if err != nil {
		return IngestResult{}, err
	}
	if res.Format == extract.FormatUnknown {
		return IngestResult{}, apperr.New(apperr.UnsupportedFormat, "unsupported file type %q", f.MIME)
	}

	chunks := s.split(res.Text)
	if len(chunks) == 0 {
		return IngestResult{}, apperr.New(apperr.InvalidInput, "no text found in %s", f.FileName)
	}

	out, err := s.Index(ctx, f.ConversationID, chunks, f.Replace, SourceFile)
	if err != nil {
		return IngestResult{}, err
	}
	if err := s.store.SetConversationFile(f.ConversationID, f.FileName, f.MIME); err != nil {
		return IngestResult{}, storeErr(err, f.ConversationID)
	}

	s.logger.Info("file indexed",
		"conversation_id", f.ConversationID,
		"file", f.FileName,
		"format", res.Format,
		"chunks", out.Chunks,
		"replaced", f.Replace,
	)
	return out, nil
}

// AttachLink scrapes a web page into the conversation's index.
func (s *Service) AttachLink(ctx context.Context, conversationID, rawURL string) (IngestResult, error) {
	if _, err := s.conversation(conversationID); err != nil {
		return IngestResult{}, err
	}
	if s.pages == nil {
		return IngestResult{}, apperr.New(apperr.ServiceUnavailable, "web page ingestion is not configured")
	}
	page, err := s.pages.Fetch(ctx, rawURL)
	if err != nil {
		return IngestResult{}, err
	}
	link := storage.Link{Name: page.LinkName(), URL: page.URL, Type: storage.LinkWebPage}
	return s.attachText(ctx, conversationID, page.Text, link, SourceLink)
}

// AttachVideo adds a video's transcript to the conversation's index.
func (s *Service) AttachVideo(ctx context.Context, conversationID, videoURL string) (IngestResult, error) {
	if _, err := s.conversation(conversationID); err != nil {
		return IngestResult{}, err
	}
	if s.transcripts == nil {
		return IngestResult{}, apperr.New(apperr.ServiceUnavailable, "video ingestion is not configured")
	}
	tr, err := s.transcripts.Fetch(ctx, videoURL)
	if err != nil {
		return IngestResult{}, err
	}
	link := storage.Link{Name: tr.LinkName(), URL: strings.TrimSpace(videoURL), Type: storage.LinkYouTubeTranscript}
	return s.attachText(ctx, conversationID, tr.Text, link, SourceVideo)
}

func (s *Service) attachText(ctx context.Context, conversationID, text string, link storage.Link, source string) (IngestResult, error) {
	chunks := s.split(text)
	if len(chunks) == 0 {
		return IngestResult{}, apperr.New(apperr.InvalidInput, "no text found at %s", link.URL)
	}
	out, err := s.Index(ctx, conversationID, chunks, false, source)
	if err != nil {
		return IngestResult{}, err
	}
	if err := s.store.AddConversationLink(conversationID, link); err != nil {
		return IngestResult{}, storeErr(err, conversationID)
	}
	out.Link = &link

	s.logger.Info("link indexed", "conversation_id", conversationID, "type", link.Type, "url", link.URL, "chunks", out.Chunks)
	return out, nil
}

// Index embeds chunks and writes them to the conversation's index. With
// replace the index is rebuilt. Zero chunks is a no-op that creates no index.
func (s *Service) Index(ctx context.Context, conversationID string, chunks []string, replace bool, source string) (IngestResult, error) {
	if len(chunks) == 0 {
		return IngestResult{}, nil
	}

	vecs, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return IngestResult{}, err
	}
	records := make([]vectorstore.Record, len(chunks))
	for i, text := range chunks {
		records[i] = vectorstore.Record{ID: uuid.NewString(), Text: text, Embedding: vecs[i]}
	}

	var (
		up   vectorstore.UpsertResult
		name string
	)
	if replace {
		res, err := s.vectors.Replace(ctx, conversationID, records)
		if err != nil {
			return IngestResult{}, err
		}
		up, name = res.UpsertResult, res.Handle.Name
	} else {
		h, err := s.vectors.EnsureIndex(ctx, conversationID)
		if err != nil {
			return IngestResult{}, err
		}
		if up, err = s.vectors.Upsert(ctx, h, records, false); err != nil {
			return IngestResult{}, err
		}
		name = h.Name
	}
	metrics.IngestedChunks.WithLabelValues(source).Add(float64(up.Upserted))

	out := IngestResult{Chunks: up.Upserted, IndexName: name, Replaced: replace, PurgeFailed: up.PurgeFailed}
	if up.PurgeFailed {
		out.Warning = "previous content could not be removed and may still appear in answers"
		s.logger.Warn("stale chunks may remain after replace", "conversation_id", conversationID, "error", up.PurgeErr)
	}
	return out, nil
}

// split chunks text and drops whitespace-only chunks.
func (s *Service) split(text string) []string {
	var out []string
	for _, c := range s.chunker.Split(text) {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}
