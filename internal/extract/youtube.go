package extract

import (
	"context"
	"encoding/xml"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/docquer/docquer/internal/apperr"
)

const defaultTimedTextURL = "https://www.youtube.com/api/timedtext"

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Transcript is the caption text of a video.
type Transcript struct {
	VideoID string
	Text    string
}

// LinkName is the display name recorded for an ingested video.
func (t Transcript) LinkName() string {
	return "YouTube Video - " + t.VideoID
}

// TranscriptFetcher downloads YouTube captions from the timedtext endpoint.
type TranscriptFetcher struct {
	baseURL    string
	lang       string
	httpClient *http.Client
}

// NewTranscriptFetcher returns a fetcher for captions in lang. An empty
// baseURL uses YouTube's public timedtext endpoint.
func NewTranscriptFetcher(baseURL, lang string, timeout time.Duration) *TranscriptFetcher {
	if baseURL == "" {
		baseURL = defaultTimedTextURL
	}
	if lang == "" {
		lang = "en"
	}
	return &TranscriptFetcher{baseURL: baseURL, lang: lang, httpClient: &http.Client{Timeout: timeout}}
}

// VideoID extracts the 11-character video id from a watch, youtu.be,
// shorts or embed URL, or accepts a bare id.
func VideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if videoIDPattern.MatchString(raw) {
		return raw, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, err, "invalid video url")
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/", "/v/"} {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				id, _, _ = strings.Cut(rest, "/")
				break
			}
		}
	}
	if !videoIDPattern.MatchString(id) {
		return "", apperr.New(apperr.InvalidInput, "could not find a video id in %q", raw)
	}
	return id, nil
}

type timedText struct {
	Texts []string `xml:"text"`
}

// Fetch returns the transcript of the video at videoURL. Videos without
// captions in the configured language yield NotFound.
func (f *TranscriptFetcher) Fetch(ctx context.Context, videoURL string) (Transcript, error) {
	id, err := VideoID(videoURL)
	if err != nil {
		return Transcript{}, err
	}

	q := url.Values{"v": {id}, "lang": {f.lang}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Transcript{}, apperr.Wrap(apperr.InvalidInput, err, "building transcript request")
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Transcript{}, apperr.Wrap(apperr.ServiceUnavailable, err, "fetching transcript for %s", id)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Transcript{}, apperr.New(apperr.NotFound, "no transcript available for video %s", id)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Transcript{}, apperr.New(apperr.ServiceUnavailable, "fetching transcript for %s: status %d", id, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Transcript{}, apperr.Wrap(apperr.ServiceUnavailable, err, "reading transcript for %s", id)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return Transcript{}, apperr.New(apperr.NotFound, "no transcript available for video %s", id)
	}

	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return Transcript{}, apperr.Wrap(apperr.ServiceUnavailable, err, "decoding transcript for %s", id)
	}

	parts := make([]string, 0, len(tt.Texts))
	for _, t := range tt.Texts {
		// Caption text is HTML-escaped a second time inside the XML.
		if s := strings.TrimSpace(html.UnescapeString(t)); s != "" {
			parts = append(parts, strings.Join(strings.Fields(s), " "))
		}
	}
	if len(parts) == 0 {
		return Transcript{}, apperr.New(apperr.NotFound, "no transcript available for video %s", id)
	}
	return Transcript{VideoID: id, Text: strings.Join(parts, " ")}, nil
}
