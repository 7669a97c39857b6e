package source

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/nwaples/rardecode/v2"
)

// extractZip 读取 ZIP/CBZ 中的图片条目
func extractZip(data []byte) (*Extraction, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("读取 ZIP 归档失败: %w", err)
	}

	entries := make(map[string]*zip.File)
	var names []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !isPageEntry(f.Name) {
			continue
		}
		entries[f.Name] = f
		names = append(names, f.Name)
	}
	sortNames(names)

	ex := &Extraction{Kind: KindZip}
	for _, name := range names {
		raw, err := readZipEntry(entries[name])
		if err != nil {
			ex.skip(name, err.Error())
			continue
		}
		ex.addEntry(name, raw)
	}
	return ex, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readLimited(rc)
}

// extractRar 读取 RAR/CBR 中的图片条目
func extractRar(data []byte) (*Extraction, error) {
	rr, err := rardecode.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("读取 RAR 归档失败: %w", err)
	}

	contents := make(map[string][]byte)
	failures := make(map[string]string)
	var names []string
	for {
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(names) == 0 {
				return nil, fmt.Errorf("读取 RAR 归档失败: %w", err)
			}
			// 后续条目损坏：已读到的页面保留，其余无法枚举
			failures["(remaining entries)"] = err.Error()
			break
		}
		if hdr.IsDir || !isPageEntry(hdr.Name) {
			continue
		}
		names = append(names, hdr.Name)
		raw, err := readLimited(rr)
		if err != nil {
			failures[hdr.Name] = err.Error()
			continue
		}
		contents[hdr.Name] = raw
	}
	sortNames(names)

	ex := &Extraction{Kind: KindRar}
	for _, name := range names {
		if reason, ok := failures[name]; ok {
			ex.skip(name, reason)
			continue
		}
		ex.addEntry(name, contents[name])
	}
	if reason, ok := failures["(remaining entries)"]; ok {
		ex.skip("(remaining entries)", reason)
	}
	return ex, nil
}

func (e *Extraction) addEntry(name string, raw []byte) {
	img, err := decodeImage(raw)
	if err != nil {
		e.skip(name, fmt.Sprintf("decode: %v", err))
		return
	}
	e.Pages = append(e.Pages, Page{Name: path.Base(name), Image: img})
}

func readLimited(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxEntrySize+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxEntrySize {
		return nil, fmt.Errorf("entry larger than %d bytes", maxEntrySize)
	}
	return raw, nil
}
