package extract

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract is an OCR engine backed by a fixed pool of tesseract clients.
// Clients are created once and reused across calls.
type Tesseract struct {
	clients chan *gosseract.Client
}

// NewTesseract starts size tesseract clients recognising the given
// languages (default "eng").
func NewTesseract(size int, languages ...string) (*Tesseract, error) {
	if size < 1 {
		size = 1
	}
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	t := &Tesseract{clients: make(chan *gosseract.Client, size)}
	for range size {
		c := gosseract.NewClient()
		if err := c.SetLanguage(languages...); err != nil {
			c.Close()
			t.Close()
			return nil, err
		}
		t.clients <- c
	}
	return t, nil
}

// Words returns the recognised words of image in reading order.
func (t *Tesseract) Words(ctx context.Context, image []byte) ([]string, error) {
	var c *gosseract.Client
	select {
	case c = <-t.clients:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { t.clients <- c }()

	if err := c.SetImageFromBytes(image); err != nil {
		return nil, err
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, err
	}
	words := make([]string, 0, len(boxes))
	for _, box := range boxes {
		if w := strings.TrimSpace(box.Word); w != "" {
			words = append(words, w)
		}
	}
	return words, nil
}

// Close releases every idle client in the pool.
func (t *Tesseract) Close() error {
	for {
		select {
		case c := <-t.clients:
			c.Close()
		default:
			return nil
		}
	}
}
