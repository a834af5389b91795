package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ErrEmptyExport is returned when the API answered but produced no bytes.
var ErrEmptyExport = errors.New("export is empty")

// ExportStats describes one table export.
type ExportStats struct {
	Pages   int
	Records int
	Bytes   int64
}

// ExportTable downloads every page of table as CSV and writes a single
// document to w: the header row once, then the data rows of every page.
func (c *Client) ExportTable(ctx context.Context, table string, w io.Writer) (ExportStats, error) {
	var stats ExportStats
	if c == nil || c.HTTP == nil || c.BaseURL == nil {
		return stats, errors.New("source client is not initialized")
	}

	seen := map[string]bool{}
	next := c.TableURL(table)
	for next != "" {
		if seen[next] {
			return stats, fmt.Errorf("pagination loop at page %d", stats.Pages+1)
		}
		seen[next] = true

		page, link, err := c.fetchPage(ctx, next)
		if err != nil {
			return stats, fmt.Errorf("page %d: %w", stats.Pages+1, err)
		}
		stats.Pages++

		// Every page repeats the header row.
		body := page
		if stats.Pages > 1 {
			body = dropFirstLine(page)
		}
		rows, err := countRecords(body)
		if err != nil {
			return stats, fmt.Errorf("page %d: %w", stats.Pages, err)
		}
		if stats.Pages == 1 && rows > 0 {
			rows--
		}
		stats.Records += rows

		if len(body) > 0 {
			if body[len(body)-1] != '\n' {
				body = append(body, '\n')
			}
			n, err := w.Write(body)
			stats.Bytes += int64(n)
			if err != nil {
				return stats, err
			}
		}

		next, err = resolveNext(next, link)
		if err != nil {
			return stats, err
		}
	}

	if stats.Bytes == 0 {
		return stats, ErrEmptyExport
	}
	return stats, nil
}

func (c *Client) fetchPage(ctx context.Context, rawURL string) ([]byte, string, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Link"), nil
}

func dropFirstLine(b []byte) []byte {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return nil
	}
	return b[i+1:]
}

func countRecords(b []byte) (int, error) {
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	n := 0
	for {
		_, err := r.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("malformed csv: %w", err)
		}
		n++
	}
}

// NextLink extracts the rel="next" target of an RFC 8288 Link header.
func NextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		target := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, p := range segs[1:] {
			k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
			if !ok || strings.TrimSpace(k) != "rel" {
				continue
			}
			for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(v), `"`)) {
				if rel == "next" {
					return target[1 : len(target)-1]
				}
			}
		}
	}
	return ""
}

func resolveNext(current, header string) (string, error) {
	ref := NextLink(header)
	if ref == "" {
		return "", nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	u, err := base.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid next link %q: %w", ref, err)
	}
	return u.String(), nil
}
