/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Apple XML property list codec
 */

package plist

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
`

const dateLayout = "2006-01-02T15:04:05Z"

// MarshalXML renders v as an Apple XML property list document
func MarshalXML(v Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.WriteString(`<plist version="1.0">` + "\n")

	if err := writeXMLValue(&buf, v, 0); err != nil {
		return nil, err
	}

	buf.WriteString("\n</plist>\n")
	return buf.Bytes(), nil
}

func indent(buf *bytes.Buffer, depth int) {
	for i := 0; i < depth; i++ {
		buf.WriteByte('\t')
	}
}

func writeXMLValue(buf *bytes.Buffer, v Value, depth int) error {
	indent(buf, depth)

	switch v.Kind {
	case KindNull:
		buf.WriteString("<string></string>")

	case KindBool:
		if v.Bool {
			buf.WriteString("<true/>")
		} else {
			buf.WriteString("<false/>")
		}

	case KindInteger:
		fmt.Fprintf(buf, "<integer>%d</integer>", v.Integer)

	case KindReal:
		fmt.Fprintf(buf, "<real>%s</real>", strconv.FormatFloat(v.Real, 'g', -1, 64))

	case KindString:
		buf.WriteString("<string>")
		xml.EscapeText(buf, []byte(v.String))
		buf.WriteString("</string>")

	case KindData:
		fmt.Fprintf(buf, "<data>\n")
		indent(buf, depth+1)
		buf.WriteString(base64.StdEncoding.EncodeToString(v.Data))
		buf.WriteByte('\n')
		indent(buf, depth)
		buf.WriteString("</data>")

	case KindDate:
		fmt.Fprintf(buf, "<date>%s</date>", v.Date.UTC().Format(dateLayout))

	case KindUID:
		// CF_UID has no XML plist representation; Apple only emits it
		// in binary plists. Encoded as an integer here so a round trip
		// through the XML codec never silently drops data.
		fmt.Fprintf(buf, "<integer>%d</integer>", v.UID)

	case KindArray:
		if len(v.Array) == 0 {
			buf.WriteString("<array/>")
			return nil
		}
		buf.WriteString("<array>\n")
		for _, item := range v.Array {
			if err := writeXMLValue(buf, item, depth+1); err != nil {
				return err
			}
			buf.WriteByte('\n')
		}
		indent(buf, depth)
		buf.WriteString("</array>")

	case KindDict:
		if len(v.Dict) == 0 {
			buf.WriteString("<dict/>")
			return nil
		}
		buf.WriteString("<dict>\n")
		for _, key := range sortedKeys(v.Dict) {
			indent(buf, depth+1)
			buf.WriteString("<key>")
			xml.EscapeText(buf, []byte(key))
			buf.WriteString("</key>\n")
			if err := writeXMLValue(buf, v.Dict[key], depth+1); err != nil {
				return err
			}
			buf.WriteByte('\n')
		}
		indent(buf, depth)
		buf.WriteString("</dict>")

	default:
		return fmt.Errorf("plist: cannot encode kind %v as xml", v.Kind)
	}

	return nil
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// UnmarshalXML parses an Apple XML property list document
func UnmarshalXML(data []byte) (Value, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return Value{}, fmt.Errorf("plist: no root value found")
			}
			return Value{}, err
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "plist" {
			return readXMLRoot(dec)
		}
	}
}

// readXMLRoot reads the single value nested inside <plist>...</plist>
func readXMLRoot(dec *xml.Decoder) (Value, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return readXMLValue(dec, t)
		case xml.EndElement:
			if t.Name.Local == "plist" {
				return Value{}, fmt.Errorf("plist: empty document")
			}
		}
	}
}

func readXMLValue(dec *xml.Decoder, start xml.StartElement) (Value, error) {
	switch start.Name.Local {
	case "true":
		skipToEnd(dec, start)
		return Bool(true), nil
	case "false":
		skipToEnd(dec, start)
		return Bool(false), nil
	case "string":
		s, err := readCharData(dec, start)
		return String(s), err
	case "integer":
		s, err := readCharData(dec, start)
		if err != nil {
			return Value{}, err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("plist: bad integer %q: %w", s, err)
		}
		return Integer(n), nil
	case "real":
		s, err := readCharData(dec, start)
		if err != nil {
			return Value{}, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("plist: bad real %q: %w", s, err)
		}
		return Real(f), nil
	case "data":
		s, err := readCharData(dec, start)
		if err != nil {
			return Value{}, err
		}
		raw, err := base64.StdEncoding.DecodeString(compactBase64(s))
		if err != nil {
			return Value{}, fmt.Errorf("plist: bad base64 data: %w", err)
		}
		return Data(raw), nil
	case "date":
		s, err := readCharData(dec, start)
		if err != nil {
			return Value{}, err
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return Value{}, fmt.Errorf("plist: bad date %q: %w", s, err)
		}
		return Date(t), nil
	case "array":
		return readXMLArray(dec, start)
	case "dict":
		return readXMLDict(dec, start)
	default:
		return Value{}, fmt.Errorf("plist: unknown element <%s>", start.Name.Local)
	}
}

func compactBase64(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch r {
		case ' ', '\n', '\t', '\r':
			continue
		default:
			out = append(out, byte(r))
		}
	}
	return string(out)
}

func readCharData(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var sb bytes.Buffer
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return sb.String(), nil
			}
		}
	}
}

func skipToEnd(dec *xml.Decoder, start xml.StartElement) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func readXMLArray(dec *xml.Decoder, start xml.StartElement) (Value, error) {
	var items []Value
	for {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			v, err := readXMLValue(dec, t)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return Value{Kind: KindArray, Array: items}, nil
			}
		}
	}
}

func readXMLDict(dec *xml.Decoder, start xml.StartElement) (Value, error) {
	d := make(map[string]Value)
	var pendingKey string
	haveKey := false

	for {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "key" {
				k, err := readCharData(dec, t)
				if err != nil {
					return Value{}, err
				}
				pendingKey = k
				haveKey = true
				continue
			}
			if !haveKey {
				return Value{}, fmt.Errorf("plist: dict value without preceding <key>")
			}
			v, err := readXMLValue(dec, t)
			if err != nil {
				return Value{}, err
			}
			d[pendingKey] = v
			haveKey = false
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return Value{Kind: KindDict, Dict: d}, nil
			}
		}
	}
}
