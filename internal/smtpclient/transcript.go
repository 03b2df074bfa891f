package smtpclient

import "strings"

// Transcript is the ordered diagnostic log of one session: "C: ..." lines for
// commands and "S: ..." lines for replies. Credentials never appear in it.
type Transcript []string

// String joins the transcript one entry per line.
func (t Transcript) String() string {
	return strings.Join(t, "\n")
}

// authMaskPrefix is how much of an AUTH command survives masking.
const authMaskPrefix = 20

const maskedCredential = "***"

// recorder accumulates a Transcript when enabled and is a no-op otherwise.
type recorder struct {
	enabled bool
	lines   Transcript
}

func (r *recorder) client(cmd string, sensitive bool) {
	if !r.enabled {
		return
	}
	if sensitive {
		cmd = maskedCredential
	}
	r.lines = append(r.lines, "C: "+maskCommand(cmd))
}

func (r *recorder) server(text string) {
	if !r.enabled || text == "" {
		return
	}
	r.lines = append(r.lines, "S: "+text)
}

func (r *recorder) transcript() Transcript {
	return r.lines
}

// maskCommand hides everything past a short prefix of an AUTH command, so
// mechanisms carrying an initial response do not leak it.
func maskCommand(cmd string) string {
	if len(cmd) > authMaskPrefix && strings.HasPrefix(strings.ToUpper(cmd), "AUTH") {
		return cmd[:authMaskPrefix] + maskedCredential
	}
	return cmd
}
