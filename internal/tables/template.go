package tables

import "strings"

// LoadParams are the values substituted into a load template.
type LoadParams struct {
	Database  string
	Schema    string
	StageName string
	BlobName  string
}

// Render substitutes {database}, {schema}, {stage_name} and {blob_name}.
// Any other brace text is left untouched.
func Render(tmpl string, p LoadParams) string {
	r := strings.NewReplacer(
		"{database}", p.Database,
		"{schema}", p.Schema,
		"{stage_name}", p.StageName,
		"{blob_name}", p.BlobName,
	)
	return r.Replace(tmpl)
}

// SplitStatements splits a rendered script on semicolons that are not inside
// single or double quotes or comments. "--" line comments and /* */ block
// comments are removed. Blank statements are dropped.
func SplitStatements(script string) []string {
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '\'' || c == '"':
			end := strings.IndexByte(script[i+1:], c)
			if end < 0 {
				b.WriteString(script[i:])
				i = len(script)
				continue
			}
			b.WriteString(script[i : i+end+2])
			i += end + 1
		case strings.HasPrefix(script[i:], "--"):
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				i = len(script)
				continue
			}
			i += end - 1
		case strings.HasPrefix(script[i:], "/*"):
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				i = len(script)
				continue
			}
			b.WriteByte(' ')
			i += end + 3
		case c == ';':
			flush()
		default:
			b.WriteByte(c)
		}
	}
	flush()
	return out
}
