package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v81/github"
)

// Describe renders a dispatch failure for the operator. Outside verbose mode
// it drops request URLs and adds a hint for the statuses an operator can fix.
func Describe(err error, verbose bool) string {
	if err == nil {
		return "unknown error"
	}
	full := err.Error()
	if verbose {
		return full
	}

	var er *github.ErrorResponse
	if errors.As(err, &er) {
		msg := strings.TrimSpace(er.Message)
		if msg == "" {
			msg = "GitHub API request failed"
		}
		if er.Response == nil {
			return fmt.Sprintf("GitHub API request failed: %s", msg)
		}
		code := er.Response.StatusCode
		out := fmt.Sprintf("GitHub API request failed (%d %s): %s", code, http.StatusText(code), msg)
		if hint := statusHint(code); hint != "" {
			out += " (" + hint + ")"
		}
		return out
	}

	if scrubbed := scrubRequestFromErrorString(strings.TrimSpace(full)); scrubbed != "" {
		return scrubbed
	}
	return full
}

func statusHint(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return "check GITHUB_TOKEN or run `gh auth login`"
	case http.StatusForbidden:
		return "the token needs actions:write on the repository"
	case http.StatusUnprocessableEntity:
		return "the workflow must declare a workflow_dispatch trigger with tables and stepType inputs"
	}
	return ""
}

// scrubRequestFromErrorString drops a leading "METHOD https://...: " from
// go-github style error strings, keeping any prefix before it.
func scrubRequestFromErrorString(s string) string {
	for _, m := range []string{"GET ", "POST ", "PUT ", "PATCH ", "DELETE "} {
		i := strings.Index(s, m+"http")
		if i < 0 {
			continue
		}
		rest := s[i+len(m):]
		j := strings.Index(rest, ": ")
		if j < 0 {
			return ""
		}
		return s[:i] + strings.TrimSpace(rest[j+2:])
	}
	return ""
}
