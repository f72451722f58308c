package proxy

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/elbios/vendorgw/internal/observability"
)

// base64Suffix marks payload fields carrying base64-encoded binary data.
// The decoded bytes are attached as a file part named by stripping the
// suffix.
const base64Suffix = "_base64"

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, `\"`)

// encodeMultipart converts a flat JSON payload to multipart form-data.
//
// Fields ending in _base64 are decoded and attached as audio file parts;
// a field that fails to decode is logged and dropped without aborting the
// request. Nested values are attached as JSON-typed fields; everything
// else is stringified. Nil values are skipped.
func encodeMultipart(payload map[string]any, logger observability.Logger) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for key, value := range payload {
		if value == nil {
			continue
		}

		if strings.HasSuffix(key, base64Suffix) {
			fieldName := strings.TrimSuffix(key, base64Suffix)
			encoded, ok := value.(string)
			if !ok {
				logger.Warn("base64 field is not a string, dropping",
					observability.String("field", key),
				)
				continue
			}
			fileBytes, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				logger.Warn("failed to decode base64 field, dropping",
					observability.String("field", key),
					observability.Error(err),
				)
				continue
			}
			if err := writeFilePart(writer, fieldName, fileBytes); err != nil {
				return nil, "", err
			}
			continue
		}

		switch v := value.(type) {
		case map[string]any, []any:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, "", fmt.Errorf("failed to serialize field %s: %w", key, err)
			}
			if err := writeTypedField(writer, key, encoded, "application/json"); err != nil {
				return nil, "", err
			}
		case string:
			if err := writer.WriteField(key, v); err != nil {
				return nil, "", err
			}
		case bool:
			if err := writer.WriteField(key, fmt.Sprintf("%t", v)); err != nil {
				return nil, "", err
			}
		case json.Number:
			if err := writer.WriteField(key, v.String()); err != nil {
				return nil, "", err
			}
		default:
			if err := writer.WriteField(key, fmt.Sprintf("%v", v)); err != nil {
				return nil, "", err
			}
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

// writeFilePart attaches decoded audio bytes as a file upload part.
func writeFilePart(writer *multipart.Writer, fieldName string, data []byte) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(
		`form-data; name="%s"; filename="%s.wav"`,
		quoteEscaper.Replace(fieldName), quoteEscaper.Replace(fieldName),
	))
	header.Set("Content-Type", "audio/wav")

	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

// writeTypedField attaches a field with an explicit content type.
func writeTypedField(writer *multipart.Writer, name string, data []byte, contentType string) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(
		`form-data; name="%s"`, quoteEscaper.Replace(name),
	))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}
