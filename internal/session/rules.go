package session

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"watchtower/internal/notify"
	"watchtower/internal/protocol"
	id "watchtower/pkg/domain"
	stringutil "watchtower/pkg/platform/strings"
)

const defaultBodyTemplate = "{{.Sender}}: {{.Body}}"

// Rule matches inbound message bodies by keyword and renders the notification
// sent for a match. Title and Body are text/template sources evaluated against
// the message; the sender falls back to the sender id when no display name is
// known.
type Rule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Title    string   `yaml:"title"`
	Body     string   `yaml:"body"`

	keywords []string
	title    *template.Template
	body     *template.Template
}

type rulesFile struct {
	Rules []*Rule `yaml:"rules"`
}

type templateData struct {
	Sender    string
	From      string
	Body      string
	MessageID string
	Keyword   string
}

// KeywordRule builds the default rule: any of keywords, case-insensitive.
func KeywordRule(keywords []string, title string) (*Rule, error) {
	r := &Rule{Name: "keywords", Keywords: keywords, Title: title}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadRules reads a YAML rules file.
//
//	rules:
//	  - name: on-call
//	    keywords: [pager, incident]
//	    title: "Page from {{.Sender}}"
//	    body: "{{.Body}}"
func LoadRules(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and compiles YAML routing rules. Rules keep file order;
// the first match wins.
func ParseRules(data []byte) ([]*Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse routing rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("parse routing rules: no rules defined")
	}
	for i, r := range f.Rules {
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule-%d", i+1)
		}
		if err := r.compile(); err != nil {
			return nil, err
		}
	}
	return f.Rules, nil
}

func (r *Rule) compile() error {
	r.keywords = stringutil.NormalizeKeywords(r.Keywords)
	if len(r.keywords) == 0 {
		return fmt.Errorf("routing rule %q: at least one keyword is required", r.Name)
	}

	title := r.Title
	if strings.TrimSpace(title) == "" {
		title = "Message from {{.Sender}}"
	}
	body := r.Body
	if strings.TrimSpace(body) == "" {
		body = defaultBodyTemplate
	}

	var err error
	if r.title, err = template.New(r.Name + ".title").Option("missingkey=error").Parse(title); err != nil {
		return fmt.Errorf("routing rule %q: title: %w", r.Name, err)
	}
	if r.body, err = template.New(r.Name + ".body").Option("missingkey=error").Parse(body); err != nil {
		return fmt.Errorf("routing rule %q: body: %w", r.Name, err)
	}
	return nil
}

// Match returns the first keyword contained in body, ignoring case.
func (r *Rule) Match(body string) (string, bool) {
	lowered := strings.ToLower(body)
	for _, k := range r.keywords {
		if strings.Contains(lowered, k) {
			return k, true
		}
	}
	return "", false
}

// Render builds the notification for msg.
func (r *Rule) Render(userID id.UserID, msg protocol.Message, keyword string) (notify.Notification, error) {
	sender := strings.TrimSpace(msg.SenderName)
	if sender == "" {
		sender = msg.From
	}
	data := templateData{
		Sender:    sender,
		From:      msg.From,
		Body:      msg.Body,
		MessageID: msg.ID,
		Keyword:   keyword,
	}

	var title, body bytes.Buffer
	if err := r.title.Execute(&title, data); err != nil {
		return notify.Notification{}, fmt.Errorf("render title: %w", err)
	}
	if err := r.body.Execute(&body, data); err != nil {
		return notify.Notification{}, fmt.Errorf("render body: %w", err)
	}
	return notify.Notification{
		UserID:    userID,
		Title:     title.String(),
		Body:      body.String(),
		MessageID: msg.ID,
		From:      msg.From,
		Rule:      r.Name,
	}, nil
}
