package postbox

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/rbaliyan/postbox/store"
)

// MessageInput is the canonical create request produced by both ingestion
// formats. All fields are opaque ciphertext bytes.
type MessageInput struct {
	// KeySafe must be present on every submission, empty is allowed.
	KeySafe []byte
	// Content carries the message body, never empty.
	Content []byte
	// Meta is the recipient-private metadata. Cleared on anonymous delivery.
	Meta []byte
	// Attachments is the encrypted attachment bundle.
	Attachments []byte
}

// messageWire is the JSON submission format. Pointer fields distinguish
// an omitted key from an empty value.
type messageWire struct {
	KeySafe     *string `json:"keySafe"`
	Content     *string `json:"content"`
	Meta        *string `json:"meta"`
	Attachments *string `json:"attachments"`
}

// DecodeMessageJSON parses a JSON message submission with base64-encoded
// fields. keySafe must be present (empty allowed) and content must decode
// to at least one byte. Attachments are capped at
// store.MaxAttachmentsJSONBytes.
func DecodeMessageJSON(r io.Reader) (*MessageInput, error) {
	var wire messageWire
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return nil, &ValidationError{Field: "body", Message: "malformed JSON: " + err.Error()}
	}
	if wire.KeySafe == nil {
		return nil, &ValidationError{Field: "keySafe", Message: "required"}
	}
	if wire.Content == nil {
		return nil, &ValidationError{Field: "content", Message: "required"}
	}

	in := &MessageInput{}
	var err error
	if in.KeySafe, err = decodeBase64Field("keySafe", *wire.KeySafe, 0, store.MaxKeySafeBytes); err != nil {
		return nil, err
	}
	if in.Content, err = decodeBase64Field("content", *wire.Content, 1, store.MaxContentBytes); err != nil {
		return nil, err
	}
	if wire.Meta != nil {
		if in.Meta, err = decodeBase64Field("meta", *wire.Meta, 0, store.MaxMetaBytes); err != nil {
			return nil, err
		}
	}
	if wire.Attachments != nil {
		if in.Attachments, err = decodeBase64Field("attachments", *wire.Attachments, 0, store.MaxAttachmentsJSONBytes); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// decodeBase64Field rejects oversized input before decoding: max decoded
// bytes occupy at most 4*ceil(max/3) base64 characters.
func decodeBase64Field(field, encoded string, min, max int) ([]byte, error) {
	if len(encoded) > (max+2)/3*4 {
		return nil, &ValidationError{Field: field, Message: fmt.Sprintf("exceeds %d bytes", max)}
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: "invalid base64"}
	}
	if len(decoded) < min {
		return nil, &ValidationError{Field: field, Message: "must not be empty"}
	}
	if len(decoded) > max {
		return nil, &ValidationError{Field: field, Message: fmt.Sprintf("exceeds %d bytes", max)}
	}
	return decoded, nil
}

// DecodeMessageMultipart parses a multipart message submission with raw
// binary parts named keySafe, content, meta, and attachments. The larger
// store.MaxAttachmentsMultipartBytes cap applies to attachments.
func DecodeMessageMultipart(mr *multipart.Reader) (*MessageInput, error) {
	in := &MessageInput{}
	var hasKeySafe, hasContent bool

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ValidationError{Field: "body", Message: "malformed multipart: " + err.Error()}
		}

		name := part.FormName()
		switch name {
		case "keySafe":
			in.KeySafe, err = readPart(part, name, store.MaxKeySafeBytes)
			hasKeySafe = true
		case "content":
			in.Content, err = readPart(part, name, store.MaxContentBytes)
			hasContent = true
		case "meta":
			in.Meta, err = readPart(part, name, store.MaxMetaBytes)
		case "attachments":
			in.Attachments, err = readPart(part, name, store.MaxAttachmentsMultipartBytes)
		default:
			err = &ValidationError{Field: name, Message: "unknown part"}
		}
		part.Close()
		if err != nil {
			return nil, err
		}
	}

	if !hasKeySafe {
		return nil, &ValidationError{Field: "keySafe", Message: "required"}
	}
	if !hasContent || len(in.Content) == 0 {
		return nil, &ValidationError{Field: "content", Message: "required"}
	}
	return in, nil
}

// readPart reads at most max bytes; one extra byte detects overflow
// without buffering the full oversized part.
func readPart(r io.Reader, field string, max int) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, int64(max)+1)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s part: %w", field, err)
	}
	if n > int64(max) {
		return nil, &ValidationError{Field: field, Message: fmt.Sprintf("exceeds %d bytes", max)}
	}
	return buf.Bytes(), nil
}

// validateMessageInput re-checks size limits for inputs built directly in
// code rather than through a decoder.
func validateMessageInput(in *MessageInput, maxAttachments int) error {
	if in == nil {
		return &ValidationError{Field: "message", Message: "required"}
	}
	if len(in.KeySafe) > store.MaxKeySafeBytes {
		return &ValidationError{Field: "keySafe", Message: fmt.Sprintf("exceeds %d bytes", store.MaxKeySafeBytes)}
	}
	if len(in.Content) == 0 {
		return &ValidationError{Field: "content", Message: "required"}
	}
	if len(in.Content) > store.MaxContentBytes {
		return &ValidationError{Field: "content", Message: fmt.Sprintf("exceeds %d bytes", store.MaxContentBytes)}
	}
	if len(in.Meta) > store.MaxMetaBytes {
		return &ValidationError{Field: "meta", Message: fmt.Sprintf("exceeds %d bytes", store.MaxMetaBytes)}
	}
	if len(in.Attachments) > maxAttachments {
		return &ValidationError{Field: "attachments", Message: fmt.Sprintf("exceeds %d bytes", maxAttachments)}
	}
	return nil
}
