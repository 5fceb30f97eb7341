// Package mailbox reads raw messages from a directory of .eml files.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/kalambet/mailrag/internal/ingest"
)

const ext = ".eml"

// ErrInvalidID is returned for ids that do not name a file in the directory.
var ErrInvalidID = errors.New("invalid message id")

// Source serves messages from dir. The id of a message is its file name
// without the .eml extension.
type Source struct {
	dir    string
	logger *slog.Logger
}

// NewSource creates a Source over dir.
func NewSource(dir string) *Source {
	return &Source{dir: dir, logger: slog.Default()}
}

// WithLogger sets the logger.
func (s *Source) WithLogger(l *slog.Logger) *Source {
	if l != nil {
		s.logger = l
	}
	return s
}

type fileEntry struct {
	id  string
	mod time.Time
}

// ListRecentIDs returns up to limit ids ordered by file modification time,
// newest first.
func (s *Source) ListRecentIDs(ctx context.Context, limit int) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading mailbox dir: %w", err)
	}
	files := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			s.logger.Warn("skipping unreadable file", "name", e.Name(), "error", err)
			continue
		}
		files = append(files, fileEntry{
			id:  strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			mod: info.ModTime(),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].mod.Equal(files[j].mod) {
			return files[i].mod.After(files[j].mod)
		}
		return files[i].id > files[j].id
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.id
	}
	return ids, nil
}

// GetMessage parses the .eml file for id.
func (s *Source) GetMessage(ctx context.Context, id string) (*ingest.Message, error) {
	if id == "" || id != filepath.Base(id) || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, id+ext))
	if err != nil {
		return nil, fmt.Errorf("opening message: %w", err)
	}
	defer f.Close()

	msg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", id, err)
	}
	msg.ID = id
	return msg, nil
}

// Parse reads an RFC 5322 message into the provider-neutral shape. Part
// bodies are decoded from their transfer encoding and charset, then carried
// as base64url data.
func Parse(r io.Reader) (*ingest.Message, error) {
	e, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, err
	}
	root, err := convert(e)
	if err != nil {
		return nil, err
	}
	return &ingest.Message{
		ThreadID: threadID(mail.Header{Header: e.Header}),
		Payload:  root,
	}, nil
}

func convert(e *message.Entity) (ingest.Part, error) {
	mimeType, params, err := e.Header.ContentType()
	if err != nil || mimeType == "" {
		mimeType = "text/plain"
	}
	p := ingest.Part{MimeType: mimeType, Headers: headers(e.Header)}

	if mr := e.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
				return p, fmt.Errorf("reading part: %w", err)
			}
			cp, err := convert(child)
			if err != nil {
				return p, err
			}
			p.Parts = append(p.Parts, cp)
		}
		return p, nil
	}

	body, err := io.ReadAll(e.Body)
	if err != nil {
		return p, fmt.Errorf("reading body: %w", err)
	}
	p.Data = ingest.EncodeData(body)
	if _, ok := params["charset"]; ok && strings.HasPrefix(mimeType, "text/") {
		// The body is already UTF-8 at this point.
		params["charset"] = "utf-8"
		setHeader(&p, "Content-Type", mime.FormatMediaType(mimeType, params))
	}
	return p, nil
}

func headers(h message.Header) []ingest.Header {
	var out []ingest.Header
	fields := h.Fields()
	for fields.Next() {
		out = append(out, ingest.Header{Name: fields.Key(), Value: fields.Value()})
	}
	return out
}

func setHeader(p *ingest.Part, name, value string) {
	for i := range p.Headers {
		if strings.EqualFold(p.Headers[i].Name, name) {
			p.Headers[i].Value = value
			return
		}
	}
	p.Headers = append(p.Headers, ingest.Header{Name: name, Value: value})
}

// threadID is the root of the References chain, then In-Reply-To, then the
// message's own Message-Id.
func threadID(h mail.Header) string {
	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		return refs[0]
	}
	if irt, err := h.MsgIDList("In-Reply-To"); err == nil && len(irt) > 0 {
		return irt[0]
	}
	id, _ := h.MessageID()
	return id
}
