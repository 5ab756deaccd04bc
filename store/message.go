package store

// Message payload size limits, enforced on decoded bytes before any
// store call.
const (
	Mebibyte = 1 << 20

	MaxKeySafeBytes = 1024
	MaxContentBytes = 128 * 1024
	MaxMetaBytes    = 1024

	// Attachment caps differ by ingestion transport: the JSON cap budgets
	// for base64 overhead, multipart carries raw bytes.
	MaxAttachmentsJSONBytes      = 16 * Mebibyte
	MaxAttachmentsMultipartBytes = 100 * Mebibyte
)

// Message is a stored message record. Payload fields hold raw decoded
// bytes; JSON marshaling base64-encodes them, matching the wire format.
//
// A tombstoned message (Deleted=true) keeps only ID and LastModified;
// Received, Meta, KeySafe, and Content are empty and attachments are gone.
type Message struct {
	// ID is unique per account, assigned in creation order.
	ID uint32 `json:"id"`

	// LastModified is microseconds since epoch, strictly increasing on
	// every mutation of this message. The CAS version stamp.
	LastModified uint64 `json:"lastModified"`

	Deleted bool `json:"deleted"`

	// Received is the creation time, RFC 3339 UTC. Cleared on delete.
	Received string `json:"dateReceived"`

	Meta    []byte `json:"meta"`
	KeySafe []byte `json:"keySafe"`
	Content []byte `json:"content"`

	HasAttachments bool `json:"hasAttachments"`
}

// MessageData is the input for CreateMessage. At most one of Attachments
// and AttachmentsURI is set; the URI form means the blob was offloaded to
// an attachment file store.
type MessageData struct {
	Received       string
	Meta           []byte
	KeySafe        []byte
	Content        []byte
	Attachments    []byte
	AttachmentsURI string
}

// MessageMeta identifies a message version: the result of a mutation and
// the payload of a conflict response.
type MessageMeta struct {
	ID           uint32 `json:"id"`
	LastModified uint64 `json:"lastModified"`
}

// ListFilter narrows and truncates a message listing.
type ListFilter struct {
	// ModifiedAfter, when nonzero, keeps only messages with
	// lastModified > ModifiedAfter. Filtering does not reorder: results
	// stay in creation order.
	ModifiedAfter uint64

	// IncludeData inlines payload fields; otherwise only id and
	// lastModified are populated.
	IncludeData bool

	// Limit caps the number of returned messages. Zero means no cap.
	Limit int
}

// MessageList is a page of messages plus the total match count.
type MessageList struct {
	Messages []*Message
	Total    int
}
