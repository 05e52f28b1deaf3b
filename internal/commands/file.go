package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/ehrlich-b/nodehost/internal/dispatch"
)

const maxReadBytes = 4 << 20

const pathSchema = `{
	"type": "object",
	"properties": {"path": {"type": "string"}},
	"required": ["path"]
}`

const writeSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1},
		"content": {"type": "string"},
		"encoding": {"enum": ["utf8", "base64"]},
		"createDirs": {"type": "boolean"}
	},
	"required": ["path", "content"]
}`

type PathParams struct {
	Path string `json:"path"`
}

type ReadResult struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"` // utf8 or base64
}

type WriteParams struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	Encoding   string `json:"encoding,omitempty"`
	CreateDirs bool   `json:"createDirs,omitempty"`
}

type WriteResult struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size"`
}

type ListResult struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
}

type StatResult struct {
	Path    string `json:"path"`
	Exists  bool   `json:"exists"`
	IsDir   bool   `json:"isDir,omitempty"`
	Size    int64  `json:"size,omitempty"`
	ModTime string `json:"modTime,omitempty"`
}

func (h *handlers) registerFile(r *dispatch.Registry) error {
	if err := dispatch.Register(r, "file.read", h.fileRead, dispatch.WithSchema(pathSchema)); err != nil {
		return err
	}
	if err := dispatch.Register(r, "file.write", h.fileWrite, dispatch.WithSchema(writeSchema)); err != nil {
		return err
	}
	if err := dispatch.Register(r, "file.list", h.fileList, dispatch.WithSchema(pathSchema)); err != nil {
		return err
	}
	return dispatch.Register(r, "file.stat", h.fileStat, dispatch.WithSchema(pathSchema))
}

func (h *handlers) fileRead(ctx context.Context, p PathParams) (ReadResult, error) {
	abs, err := h.resolve(p.Path)
	if err != nil {
		return ReadResult{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return ReadResult{}, pathError(err)
	}
	if info.IsDir() {
		return ReadResult{}, dispatch.Errorf(dispatch.CodeCommandError, "%s is a directory", p.Path)
	}
	if info.Size() > maxReadBytes {
		return ReadResult{}, dispatch.Errorf(dispatch.CodeCommandError, "%s is %d bytes, limit is %d", p.Path, info.Size(), maxReadBytes)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ReadResult{}, pathError(err)
	}

	res := ReadResult{Path: p.Path, Size: int64(len(data)), Encoding: "utf8"}
	if utf8.Valid(data) {
		res.Content = string(data)
	} else {
		res.Content = base64.StdEncoding.EncodeToString(data)
		res.Encoding = "base64"
	}
	return res, nil
}

func (h *handlers) fileWrite(ctx context.Context, p WriteParams) (WriteResult, error) {
	abs, err := h.resolve(p.Path)
	if err != nil {
		return WriteResult{}, err
	}
	root, _ := h.workspace().Root()
	if abs == root {
		return WriteResult{}, dispatch.Errorf(dispatch.CodeInvalidParams, "cannot write to the workspace root")
	}

	data := []byte(p.Content)
	if p.Encoding == "base64" {
		data, err = base64.StdEncoding.DecodeString(p.Content)
		if err != nil {
			return WriteResult{}, dispatch.Errorf(dispatch.CodeInvalidParams, "content is not base64: %v", err)
		}
	}

	if p.CreateDirs {
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return WriteResult{}, fmt.Errorf("create directory: %w", err)
		}
	}
	if err := os.WriteFile(abs, data, 0644); err != nil {
		if os.IsNotExist(err) {
			return WriteResult{}, dispatch.Errorf(dispatch.CodeCommandError, "parent directory of %s does not exist", p.Path)
		}
		return WriteResult{}, fmt.Errorf("write file: %w", err)
	}
	return WriteResult{Path: p.Path, Bytes: len(data)}, nil
}

func (h *handlers) fileList(ctx context.Context, p PathParams) (ListResult, error) {
	abs, err := h.resolve(p.Path)
	if err != nil {
		return ListResult{}, err
	}
	dirents, err := os.ReadDir(abs)
	if err != nil {
		return ListResult{}, pathError(err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		e := Entry{Name: d.Name(), IsDir: d.IsDir()}
		if info, err := d.Info(); err == nil && !d.IsDir() {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	// directories first, then by name
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return ListResult{Path: p.Path, Entries: entries}, nil
}

func (h *handlers) fileStat(ctx context.Context, p PathParams) (StatResult, error) {
	abs, err := h.resolve(p.Path)
	if err != nil {
		return StatResult{}, err
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return StatResult{Path: p.Path}, nil
	}
	if err != nil {
		return StatResult{}, fmt.Errorf("stat: %w", err)
	}
	res := StatResult{
		Path:    p.Path,
		Exists:  true,
		IsDir:   info.IsDir(),
		ModTime: info.ModTime().UTC().Format(time.RFC3339),
	}
	if !info.IsDir() {
		res.Size = info.Size()
	}
	return res, nil
}
