package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

const (
	nsWord         = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsPresentation = "http://schemas.openxmlformats.org/presentationml/2006/main"
	nsDrawing      = "http://schemas.openxmlformats.org/drawingml/2006/main"
)

// readDOCX emits each body paragraph as "Paragraph-<n>\n<text>\n".
func readDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", corrupt(FormatDOCX, err)
	}
	f, err := openZipFile(zr, "word/document.xml")
	if err != nil {
		return "", corrupt(FormatDOCX, err)
	}
	defer f.Close()

	paragraphs, err := wordParagraphs(f)
	if err != nil {
		return "", corrupt(FormatDOCX, err)
	}

	var b strings.Builder
	for i, p := range paragraphs {
		fmt.Fprintf(&b, "Paragraph-%d\n%s\n", i+1, p)
	}
	return b.String(), nil
}

// wordParagraphs returns the text of every w:p that is a direct child of
// w:body. Table cells and other nested containers are skipped.
func wordParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		stack   []xml.Name
		out     []string
		cur     strings.Builder
		inPara  bool
		paraLvl int
		inText  bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == nsWord {
				switch t.Name.Local {
				case "p":
					if !inPara && len(stack) > 0 && stack[len(stack)-1] == (xml.Name{Space: nsWord, Local: "body"}) {
						inPara, paraLvl = true, len(stack)
						cur.Reset()
					}
				case "t":
					inText = inPara
				case "tab":
					if inPara {
						cur.WriteByte('\t')
					}
				case "br", "cr":
					if inPara {
						cur.WriteByte('\n')
					}
				}
			}
			stack = append(stack, t.Name)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
			if t.Name.Space == nsWord {
				switch t.Name.Local {
				case "t":
					inText = false
				case "p":
					if inPara && len(stack) == paraLvl {
						out = append(out, cur.String())
						inPara = false
					}
				}
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
}

// readPPTX emits every text-frame paragraph of every slide, in slide order,
// each followed by "\n".
func readPPTX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", corrupt(FormatPPTX, err)
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		name, ok := strings.CutPrefix(f.Name, "ppt/slides/slide")
		if !ok {
			continue
		}
		name, ok = strings.CutSuffix(name, ".xml")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		slides = append(slides, slide{num: n, file: f})
	}
	if len(slides) == 0 {
		return "", corrupt(FormatPPTX, errors.New("no slides found"))
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var b strings.Builder
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", corrupt(FormatPPTX, err)
		}
		paragraphs, err := slideParagraphs(rc)
		rc.Close()
		if err != nil {
			return "", corrupt(FormatPPTX, fmt.Errorf("slide %d: %w", s.num, err))
		}
		for _, p := range paragraphs {
			b.WriteString(p)
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// slideParagraphs returns the a:p paragraphs found inside shape text bodies
// (p:txBody). Table cells in graphic frames use a:txBody and are skipped.
func slideParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    []string
		cur    strings.Builder
		txBody int
		inPara bool
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Space == nsPresentation && t.Name.Local == "txBody":
				txBody++
			case txBody > 0 && t.Name.Space == nsDrawing && t.Name.Local == "p":
				inPara = true
				cur.Reset()
			case inPara && t.Name.Space == nsDrawing && t.Name.Local == "t":
				inText = true
			case inPara && t.Name.Space == nsDrawing && t.Name.Local == "br":
				cur.WriteByte('\v')
			}
		case xml.EndElement:
			switch {
			case t.Name.Space == nsPresentation && t.Name.Local == "txBody":
				txBody--
			case inPara && t.Name.Space == nsDrawing && t.Name.Local == "p":
				out = append(out, cur.String())
				inPara = false
			case t.Name.Space == nsDrawing && t.Name.Local == "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
}

func openZipFile(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("%s missing from archive", name)
}
