package ftpsession

import (
	"bufio"
	"strings"
	"testing"
)

func TestReadResponse_SingleLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantCode int
		wantMsg  string
	}{
		{
			name:     "simple success",
			input:    "220 Welcome\r\n",
			wantCode: 220,
			wantMsg:  "Welcome",
		},
		{
			name:     "error response",
			input:    "550 File not found\r\n",
			wantCode: 550,
			wantMsg:  "File not found",
		},
		{
			name:     "code with no message",
			input:    "200 \r\n",
			wantCode: 200,
			wantMsg:  "",
		},
		{
			name:     "bare LF",
			input:    "226 Done\n",
			wantCode: 226,
			wantMsg:  "Done",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := readResponse(bufio.NewReader(strings.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("readResponse() error = %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("readResponse() code = %v, want %v", resp.Code, tt.wantCode)
			}
			if resp.Message != tt.wantMsg {
				t.Errorf("readResponse() message = %q, want %q", resp.Message, tt.wantMsg)
			}
		})
	}
}

func TestReadResponse_MultiLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		input     string
		wantCode  int
		wantMsg   string
		wantLines int
	}{
		{
			name: "dash continuation",
			input: "220-Welcome to FTP\r\n" +
				"220-This is line 2\r\n" +
				"220 Ready\r\n",
			wantCode:  220,
			wantMsg:   "Welcome to FTP\nThis is line 2\nReady",
			wantLines: 3,
		},
		{
			name: "space continuation",
			input: "211-Features:\r\n" +
				" SIZE\r\n" +
				" MDTM\r\n" +
				"211 End\r\n",
			wantCode:  211,
			wantMsg:   "Features:\n SIZE\n MDTM\nEnd",
			wantLines: 4,
		},
		{
			name: "other code inside is text",
			input: "230-Notice:\r\n" +
				"550 is not the end\r\n" +
				"230 Logged in\r\n",
			wantCode:  230,
			wantMsg:   "Notice:\n550 is not the end\nLogged in",
			wantLines: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.input + "200 next reply\r\n"
			r := bufio.NewReader(strings.NewReader(input))

			resp, err := readResponse(r)
			if err != nil {
				t.Fatalf("readResponse() error = %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", resp.Code, tt.wantCode)
			}
			if resp.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMsg)
			}
			if len(resp.Lines) != tt.wantLines {
				t.Errorf("lines = %d, want %d", len(resp.Lines), tt.wantLines)
			}

			next, err := readResponse(r)
			if err != nil || next.Code != 200 {
				t.Errorf("following reply = %+v, %v", next, err)
			}
		})
	}
}

func TestReadResponse_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too short", "22\r\n"},
		{"not a number", "abc Hello\r\n"},
		{"bad separator", "220+Hello\r\n"},
		{"below 100", "099 Hello\r\n"},
		{"unterminated multi-line", "220-Hello\r\n more\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := readResponse(bufio.NewReader(strings.NewReader(tt.input))); err == nil {
				t.Errorf("readResponse(%q) expected error", tt.input)
			}
		})
	}
}

func TestCheckCode(t *testing.T) {
	t.Parallel()
	for code := 0; code < 1000; code++ {
		want := code > 0 && code < 400
		if got := checkCode(code); got != want {
			t.Errorf("checkCode(%d) = %v, want %v", code, got, want)
		}
	}
	if (&Response{Code: 331}).OK() != true || (&Response{Code: 421}).OK() != false {
		t.Error("Response.OK disagrees with checkCode")
	}
}

func TestParseFeatureLines(t *testing.T) {
	t.Parallel()
	lines := []string{
		"211-Extensions supported:",
		" MLST size*;create;modify*;perm;media-type",
		" SIZE",
		" rest STREAM",
		" MDTM",
		"211 END",
	}

	features := parseFeatureLines(lines)

	expected := map[string][]string{
		"MLST": {"size*;create;modify*;perm;media-type"},
		"SIZE": {},
		"REST": {"STREAM"},
		"MDTM": {},
	}
	if len(features) != len(expected) {
		t.Errorf("expected %d features, got %d: %v", len(expected), len(features), features)
	}
	for name, params := range expected {
		got, ok := features[name]
		if !ok {
			t.Errorf("missing feature %s", name)
			continue
		}
		if strings.Join(got, " ") != strings.Join(params, " ") {
			t.Errorf("feature %s: params %q, want %q", name, got, params)
		}
	}
}

func TestParseFeatureLines_Empty(t *testing.T) {
	t.Parallel()
	if got := parseFeatureLines([]string{"211 No features."}); len(got) != 0 {
		t.Errorf("expected no features, got %v", got)
	}
}

func TestRedact(t *testing.T) {
	t.Parallel()
	if got := redact("PASS", "PASS secret"); got != "PASS ***" {
		t.Errorf("redact PASS = %q", got)
	}
	if got := redact("ACCT", "ACCT billing"); got != "ACCT ***" {
		t.Errorf("redact ACCT = %q", got)
	}
	if got := redact("USER", "USER bob"); got != "USER bob" {
		t.Errorf("redact USER = %q", got)
	}
}
