package ingest

import "testing"

func TestCleanBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "signature block",
			in:   "Hello Bob\n\n-- \nAlice\nCEO, Example",
			want: "Hello Bob",
		},
		{
			name: "sent from device",
			in:   "See you then.\nSent from my iPhone\n",
			want: "See you then.",
		},
		{
			name: "confidentiality notice is case-insensitive",
			in:   "Numbers attached.\n\nTHIS EMAIL IS CONFIDENTIAL and intended\nonly for the recipient.",
			want: "Numbers attached.",
		},
		{
			name: "blank line runs collapse",
			in:   "one\n\n\n  \n\ntwo",
			want: "one\n\ntwo",
		},
		{
			name: "double dash inside a line is kept",
			in:   "a -- b\nc",
			want: "a -- b\nc",
		},
		{
			name: "crlf",
			in:   "hi\r\n\r\n\r\nthere\r\n--\r\nsig",
			want: "hi\n\nthere",
		},
		{
			name: "empty",
			in:   "   \n ",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanBody(tt.in); got != tt.want {
				t.Errorf("CleanBody(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeHeader(t *testing.T) {
	if got := DecodeHeader("plain subject"); got != "plain subject" {
		t.Errorf("got %q", got)
	}
	if got := DecodeHeader("=?ISO-8859-1?Q?caf=E9?="); got != "café" {
		t.Errorf("got %q, want café", got)
	}
	if got := DecodeHeader("=?bogus-charset?Q?x?="); got != "=?bogus-charset?Q?x?=" {
		t.Errorf("undecodable header changed: %q", got)
	}
}
