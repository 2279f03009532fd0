package runtime

import (
	"os"
	"strings"

	"github.com/cdist-ng/cdist/internal/target"
)

// messagesScope implements §4.6: two temp files exchange target.messages
// into a child invocation and collect whatever it appended, prefixed by
// source (the invoking object's name), back onto the target.
type messagesScope struct {
	inPath, outPath string
}

func openMessagesScope(t *target.Target) (*messagesScope, error) {
	in, err := os.CreateTemp("", "cdist-messages-in-")
	if err != nil {
		return nil, err
	}
	defer in.Close()
	if _, err := in.WriteString(strings.Join(t.Messages, "\n")); err != nil {
		return nil, err
	}

	out, err := os.CreateTemp("", "cdist-messages-out-")
	if err != nil {
		os.Remove(in.Name())
		return nil, err
	}
	out.Close()

	return &messagesScope{inPath: in.Name(), outPath: out.Name()}, nil
}

func (s *messagesScope) env() map[string]string {
	return map[string]string{
		"__messages_in":  s.inPath,
		"__messages_out": s.outPath,
	}
}

// close reads messages_out back onto t.Messages (prefixed by source) and
// removes both temp files.
func (s *messagesScope) close(t *target.Target, source string) error {
	defer os.Remove(s.inPath)
	defer os.Remove(s.outPath)

	data, err := os.ReadFile(s.outPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		t.AddMessage(source, line)
	}
	return nil
}
