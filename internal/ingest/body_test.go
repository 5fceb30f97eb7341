package ingest

import (
	"testing"
)

func TestExtractBody_PrefersSinglePart(t *testing.T) {
	msg := &Message{ID: "1", Payload: Part{
		MimeType: "text/plain",
		Data:     EncodeData([]byte("top level")),
		Parts:    []Part{{MimeType: "text/plain", Data: EncodeData([]byte("nested"))}},
	}}
	if got := ExtractBody(msg, nil); got != "top level" {
		t.Errorf("got %q, want %q", got, "top level")
	}
}

func TestExtractBody_FirstPlainTextPart(t *testing.T) {
	msg := &Message{ID: "1", Payload: Part{
		MimeType: "multipart/alternative",
		Parts: []Part{
			{MimeType: "text/html", Data: EncodeData([]byte("<p>html</p>"))},
			{MimeType: "text/plain"},
			{MimeType: "text/plain", Data: EncodeData([]byte("plain one"))},
			{MimeType: "text/plain", Data: EncodeData([]byte("plain two"))},
		},
	}}
	if got := ExtractBody(msg, nil); got != "plain one" {
		t.Errorf("got %q, want %q", got, "plain one")
	}
}

func TestExtractBody_NestedMultipart(t *testing.T) {
	msg := &Message{ID: "1", Payload: Part{
		MimeType: "multipart/mixed",
		Parts: []Part{
			{MimeType: "multipart/alternative", Parts: []Part{
				{MimeType: "text/plain; charset=utf-8", Data: EncodeData([]byte("deep"))},
			}},
			{MimeType: "application/pdf", Data: EncodeData([]byte("%PDF"))},
		},
	}}
	if got := ExtractBody(msg, nil); got != "deep" {
		t.Errorf("got %q, want %q", got, "deep")
	}
}

func TestExtractBody_MalformedPartSkipped(t *testing.T) {
	msg := &Message{ID: "1", Payload: Part{
		MimeType: "multipart/alternative",
		Parts: []Part{
			{MimeType: "text/plain", Data: "!!!not base64!!!"},
			{MimeType: "text/plain", Data: EncodeData([]byte("good"))},
		},
	}}
	if got := ExtractBody(msg, nil); got != "good" {
		t.Errorf("got %q, want %q", got, "good")
	}
}

func TestExtractBody_NoTextIsEmpty(t *testing.T) {
	msg := &Message{ID: "1", Payload: Part{
		MimeType: "multipart/mixed",
		Parts:    []Part{{MimeType: "image/png", Data: EncodeData([]byte{0x89, 'P', 'N', 'G'})}},
	}}
	if got := ExtractBody(msg, nil); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestDecodeData_PaddingAndInvalidUTF8(t *testing.T) {
	b, err := DecodeData("aGk")
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if string(b) != "hi" {
		t.Errorf("got %q, want hi", b)
	}

	msg := &Message{ID: "1", Payload: Part{Data: EncodeData([]byte{'o', 'k', 0xff})}}
	if got := ExtractBody(msg, nil); got != "ok" {
		t.Errorf("got %q, want invalid bytes dropped", got)
	}
}

func TestExtractBody_Latin1Charset(t *testing.T) {
	msg := &Message{ID: "1", Payload: Part{
		MimeType: "text/plain",
		Headers:  []Header{{Name: "Content-Type", Value: `text/plain; charset="iso-8859-1"`}},
		Data:     EncodeData([]byte{'c', 'a', 'f', 0xe9}),
	}}
	if got := ExtractBody(msg, nil); got != "café" {
		t.Errorf("got %q, want %q", got, "café")
	}
}
