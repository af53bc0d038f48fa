package interpret

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

var errTrailingData = errors.New("unexpected data after document")

// ParseJSON decodes a JSON document. Numbers stay json.Number so large ids
// survive unchanged.
func ParseJSON(body []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var doc any

	err := decoder.Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}

	_, err = decoder.Token()
	if !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}

	return doc, nil
}

// ParseYAML decodes a YAML document.
func ParseYAML(body []byte) (any, error) {
	var doc any

	err := yaml.Unmarshal(body, &doc)
	if err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}

	return doc, nil
}

// ParseXML decodes an XML document into a generic tree rooted at
// {rootName: content}. Attributes become "@name" keys, repeated child
// elements become lists, text mixed with elements or attributes is kept under
// "#text", and an element with only text becomes a string.
func ParseXML(body []byte) (any, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("decoding xml: %w", err)
		}

		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		content, err := decodeElement(decoder, start)
		if err != nil {
			return nil, err
		}

		return map[string]any{start.Name.Local: content}, nil
	}
}

func decodeElement(decoder *xml.Decoder, start xml.StartElement) (any, error) {
	node := make(map[string]any)

	for _, attr := range start.Attr {
		if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
			continue
		}

		node["@"+attr.Name.Local] = attr.Value
	}

	var text strings.Builder

	hasChildren := false

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("decoding xml element %s: %w", start.Name.Local, err)
		}

		switch tok := token.(type) {
		case xml.StartElement:
			child, err := decodeElement(decoder, tok)
			if err != nil {
				return nil, err
			}

			hasChildren = true
			appendChild(node, tok.Name.Local, child)
		case xml.CharData:
			text.Write(tok)
		case xml.EndElement:
			trimmed := strings.TrimSpace(text.String())

			if len(node) == 0 && !hasChildren {
				return trimmed, nil
			}

			if trimmed != "" {
				node["#text"] = trimmed
			}

			return node, nil
		}
	}
}

func appendChild(node map[string]any, name string, child any) {
	existing, ok := node[name]
	if !ok {
		node[name] = child

		return
	}

	if list, isList := existing.([]any); isList {
		node[name] = append(list, child)

		return
	}

	node[name] = []any{existing, child}
}
