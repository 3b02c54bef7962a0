package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// extractDOCX pulls paragraph text out of the word/document.xml entry of a
// DOCX archive. A DOCX file is a ZIP container; the body lives in WordprocessingML.
func extractDOCX(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: not a valid DOCX archive: %v", ErrExtractionFailed, err)
	}

	var docFile *zip.File
	for _, f := range reader.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("%w: missing word/document.xml", ErrExtractionFailed)
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("%w: cannot open document.xml: %v", ErrExtractionFailed, err)
	}
	defer rc.Close()

	text, err := parseDocumentXML(rc)
	if err != nil {
		return "", err
	}
	return text, nil
}

// parseDocumentXML streams the WordprocessingML body, collecting <w:t> runs
// and inserting newlines at paragraph (<w:p>) and explicit break (<w:br>)
// boundaries.
func parseDocumentXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var sb strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: malformed document.xml: %v", ErrExtractionFailed, err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "br", "cr":
				sb.WriteByte('\n')
			case "tab":
				sb.WriteByte('\t')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(el)
			}
		}
	}

	return sb.String(), nil
}
