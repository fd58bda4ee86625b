package domain

import "time"

// Message is one entry in a ticket's append-only conversation log.
type Message struct {
	ID             string                `json:"id"`
	SenderID       string                `json:"sender_id"`
	SenderUsername string                `json:"sender_username"`
	SenderRole     Role                  `json:"sender_role"`
	Content        string                `json:"content"`
	IsInternal     bool                  `json:"is_internal"`
	Attachments    []AttachmentReference `json:"attachments,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

func (m Message) clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]AttachmentReference(nil), m.Attachments...)
	}
	return m
}

// AttachmentReference stores metadata for file evidence kept in attachment storage.
type AttachmentReference struct {
	Key       string `json:"key"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	URL       string `json:"url,omitempty"`
}

// ObjectRef identifies an object written to attachment storage.
type ObjectRef struct {
	Key string
	URL string
}
