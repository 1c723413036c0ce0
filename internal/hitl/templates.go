package hitl

import (
	"os"

	"gopkg.in/yaml.v3"
)

// MessageTemplates holds the canned SMS reply bodies, loadable from a YAML
// file so an operator can reword replies without a rebuild.
type MessageTemplates struct {
	Help           string `yaml:"help"`
	Unrecognized   string `yaml:"unrecognized"`
	NoOpenQuestion string `yaml:"no_open_question"`
	Paused         string `yaml:"paused"`
	Resumed        string `yaml:"resumed"`
}

func defaultTemplates() MessageTemplates {
	return MessageTemplates{
		Help:           "Commands: HELP, STATUS, REPORT, STOP, START. Send a job posting URL to track it, or reply to an approval question directly.",
		Unrecognized:   "Unrecognized command. Send HELP for the list.",
		NoOpenQuestion: "I don't have an open question for you right now. Send HELP for commands.",
		Paused:         "⏸️ Automation paused. Send START to resume.",
		Resumed:        "▶️ Automation resumed.",
	}
}

// LoadMessageTemplates reads path as YAML and overlays any set fields onto
// the built-in defaults. A missing file is not an error — callers that never
// configure a templates file get the defaults as-is.
func LoadMessageTemplates(path string) (MessageTemplates, error) {
	t := defaultTemplates()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, err
	}
	return t, nil
}
