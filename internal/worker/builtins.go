package worker

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"folio/internal/modules"
)

// Built-in task kinds.
const (
	KindEcho           = "echo"
	KindDocumentDigest = "document.digest"
	KindArchiveBundle  = "archive.bundle"
)

var spreadsheetExtensions = map[string]bool{
	".csv":  true,
	".ods":  true,
	".xls":  true,
	".xlsx": true,
}

// DocumentPayload is the input of document.digest.
type DocumentPayload struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// DocumentDigest is the result of document.digest.
type DocumentDigest struct {
	Name        string `json:"name"`
	Size        int    `json:"size"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"content_type"`
	Reader      string `json:"reader,omitempty"`
}

// BundlePayload is the input of archive.bundle.
type BundlePayload struct {
	Name  string            `json:"name"`
	Files []DocumentPayload `json:"files"`
}

// Bundle is the result of archive.bundle.
type Bundle struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Size    int    `json:"size"`
	SHA256  string `json:"sha256"`
	Data    []byte `json:"data"`
}

// BuiltinKinds lists the task kinds RegisterBuiltins installs.
func BuiltinKinds() []string {
	return []string{KindEcho, KindDocumentDigest, KindArchiveBundle}
}

// RegisterBuiltins installs the built-in handlers on u. Handlers that depend
// on an optional module resolve it through loader before doing any work.
func RegisterBuiltins(u *Unit, loader *modules.Loader) {
	u.Handle(KindEcho, func(_ context.Context, payload json.RawMessage) (any, error) {
		return payload, nil
	})
	u.Handle(KindDocumentDigest, func(ctx context.Context, payload json.RawMessage) (any, error) {
		return digestDocument(ctx, loader, payload)
	})
	u.Handle(KindArchiveBundle, func(ctx context.Context, payload json.RawMessage) (any, error) {
		return bundleFiles(ctx, loader, payload)
	})
}

func digestDocument(ctx context.Context, loader *modules.Loader, raw json.RawMessage) (*DocumentDigest, error) {
	var doc DocumentPayload
	if err := decodePayload(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Data) == 0 {
		return nil, errors.New("document is empty")
	}

	contentType := http.DetectContentType(doc.Data)
	reader := readerFor(doc.Name, contentType)
	if reader != "" {
		if err := requireModule(ctx, loader, reader); err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256(doc.Data)
	return &DocumentDigest{
		Name:        doc.Name,
		Size:        len(doc.Data),
		SHA256:      hex.EncodeToString(sum[:]),
		ContentType: contentType,
		Reader:      reader,
	}, nil
}

func readerFor(name, contentType string) string {
	if strings.HasPrefix(contentType, "application/pdf") {
		return modules.UnitPDFReader
	}
	if spreadsheetExtensions[strings.ToLower(filepath.Ext(name))] {
		return modules.UnitSpreadsheetReader
	}
	return ""
}

func bundleFiles(ctx context.Context, loader *modules.Loader, raw json.RawMessage) (*Bundle, error) {
	var req BundlePayload
	if err := decodePayload(raw, &req); err != nil {
		return nil, err
	}
	if len(req.Files) == 0 {
		return nil, errors.New("bundle has no files")
	}
	if err := requireModule(ctx, loader, modules.UnitZipArchiver); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "bundle.zip"
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	seen := make(map[string]bool, len(req.Files))
	for _, file := range req.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := entryName(file.Name)
		if err != nil {
			return nil, err
		}
		if seen[entry] {
			return nil, fmt.Errorf("duplicate bundle entry %q", entry)
		}
		seen[entry] = true
		w, err := zw.Create(entry)
		if err != nil {
			return nil, fmt.Errorf("create entry %q: %w", entry, err)
		}
		if _, err := w.Write(file.Data); err != nil {
			return nil, fmt.Errorf("write entry %q: %w", entry, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}

	data := buf.Bytes()
	sum := sha256.Sum256(data)
	return &Bundle{
		Name:    name,
		Entries: len(req.Files),
		Size:    len(data),
		SHA256:  hex.EncodeToString(sum[:]),
		Data:    data,
	}, nil
}

func entryName(name string) (string, error) {
	cleaned := path.Clean(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if cleaned == "." || cleaned == "" || strings.HasPrefix(cleaned, "/") || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid bundle entry name %q", name)
	}
	return cleaned, nil
}

func requireModule(ctx context.Context, loader *modules.Loader, unit string) error {
	if loader == nil {
		return fmt.Errorf("module %s unavailable: no loader configured", unit)
	}
	if _, err := loader.Load(ctx, unit); err != nil {
		return err
	}
	return nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("payload required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
