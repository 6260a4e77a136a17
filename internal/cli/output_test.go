package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nxdoc/internal/errs"
)

func decodeResponse(t *testing.T, buf *bytes.Buffer) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), buf.String())
	return resp
}

func TestOutputFormatter_JSON(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: buf}

		require.NoError(t, f.Success(ImportOutput{Created: 2, Documents: []string{"/a", "/b"}}))
		resp := decodeResponse(t, buf)
		assert.Equal(t, "ok", resp.Status)
		assert.Nil(t, resp.Error)
		data, ok := resp.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 2.0, data["created"])
	})

	t.Run("error_with_details", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: buf}

		details := map[string]string{"id": "doc-7", "permission": "Read"}
		require.NoError(t, f.Error("SECURITY_DENIED", "permission denied", details))
		resp := decodeResponse(t, buf)
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "SECURITY_DENIED", resp.Error.Code)
		assert.Equal(t, "permission denied", resp.Error.Message)
		assert.Equal(t, map[string]any{"id": "doc-7", "permission": "Read"}, resp.Error.Details)
	})
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, f.Error("PARSE_ERROR", "unexpected token", map[string]string{"near": "WHERE"}))
			assert.Contains(t, buf.String(), "Error [PARSE_ERROR]: unexpected token")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details:")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

type countText int

func (c countText) Text() string { return fmt.Sprintf("count is %d\n", int(c)) }

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success(countText(4)))
	require.NoError(t, f.Success("plain value"))
	assert.Equal(t, "count is 4\nplain value\n", buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}

	f.VerboseLog("imported %s", "/ws/report")
	assert.Empty(t, errOut.String())

	f.Verbose = true
	f.VerboseLog("imported %s", "/ws/report")
	assert.Equal(t, "imported /ws/report\n", errOut.String())
	assert.Empty(t, out.String(), "diagnostics must not corrupt JSON output")

	noErr := &OutputFormatter{Writer: out}
	assert.Same(t, out, noErr.GetErrWriter())
}

func TestOutputFormatter_FailRepositoryError(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	cause := errs.NotFound("no document at %s", "/ws/missing")
	err := f.Fail("query failed", fmt.Errorf("lookup: %w", cause))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, cause)

	resp := decodeResponse(t, buf)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "no document at /ws/missing", resp.Error.Message)
}

func TestOutputFormatter_FailCommandError(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	err := f.Fail("schema validation failed", errors.New("bad cue"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [COMMAND_ERROR]")
	assert.Contains(t, buf.String(), "bad cue")
}

func TestExitError(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "open backend", errors.New("disk full")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.EqualError(t, wrapped, "outer: open backend: disk full")
	assert.EqualError(t, NewExitError(ExitFailure, "denied"), "denied")
}
