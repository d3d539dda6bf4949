package notify

import (
	"bytes"
	"errors"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	alarms "plantwatch/internal/alarms/domain"
)

const (
	DefaultSubjectTemplate = `[{{upper .Severity}}] Alert: {{.Name}}`

	DefaultBodyTemplate = `Alert: {{.Name}}
Severity: {{.Severity}}
{{- if .Message}}
Message: {{.Message}}
{{- end}}
Data point: {{.DataPoint}} {{.Condition}} {{.Threshold}}
Current Value: {{.Value}}
Time: {{.Time}}
{{- if .Reminder}}
Still active since {{.TriggeredAt}} ({{.ActiveFor}}){{if .Acknowledged}}, acknowledged by {{.AcknowledgedBy}}{{end}}.
{{- end}}`

	DefaultSMSTemplate = `[{{upper .Severity}}] Alert: {{.Name}}. Value: {{.Value}}. Time: {{.Clock}}`

	DefaultHTMLTemplate = `<h1>Alert: {{.Name}}</h1>
<p><strong>Severity:</strong> {{.Severity}}</p>
{{if .Message}}<p><strong>Message:</strong> {{.Message}}</p>{{end}}
<p><strong>Current Value:</strong> {{.Value}}</p>
<p><strong>Time:</strong> {{.Time}}</p>
{{if .Reminder}}<p>Still active for {{.ActiveFor}}.</p>{{end}}`
)

const timeLayout = "2006-01-02 15:04:05 MST"

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Event          string
	Reminder       bool
	AlarmID        string
	RuleID         string
	Name           string
	Severity       string
	Message        string
	DataPoint      string
	Condition      string
	Threshold      string
	Value          string
	Time           string
	Clock          string
	TriggeredAt    string
	ActiveFor      string
	Acknowledged   bool
	AcknowledgedBy string
}

// Rendered is the output of a Template.
type Rendered struct {
	Subject string
	Text    string
	SMS     string
	HTML    string
}

// Template renders alarm notification content.
type Template struct {
	subject *template.Template
	body    *template.Template
	sms     *template.Template
	html    *template.Template
}

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"comma": humanize.Commaf,
}

// NewTemplate parses the subject and body templates, falling back to the defaults.
func NewTemplate(subject, body string) (*Template, error) {
	if subject == "" {
		subject = DefaultSubjectTemplate
	}
	if body == "" {
		body = DefaultBodyTemplate
	}
	t := &Template{}
	var err error
	if t.subject, err = template.New("subject").Funcs(funcs).Parse(subject); err != nil {
		return nil, err
	}
	if t.body, err = template.New("body").Funcs(funcs).Parse(body); err != nil {
		return nil, err
	}
	if t.sms, err = template.New("sms").Funcs(funcs).Parse(DefaultSMSTemplate); err != nil {
		return nil, err
	}
	if t.html, err = template.New("html").Funcs(funcs).Parse(DefaultHTMLTemplate); err != nil {
		return nil, err
	}
	return t, nil
}

// Render applies the templates to data.
func (t *Template) Render(data TemplateData) (Rendered, error) {
	if t == nil || t.subject == nil {
		return Rendered{}, errors.New("alarm template: nil")
	}
	var out Rendered
	var err error
	if out.Subject, err = execute(t.subject, data); err != nil {
		return Rendered{}, err
	}
	out.Subject = strings.TrimSpace(out.Subject)
	if out.Text, err = execute(t.body, data); err != nil {
		return Rendered{}, err
	}
	if out.SMS, err = execute(t.sms, data); err != nil {
		return Rendered{}, err
	}
	if out.HTML, err = execute(t.html, data); err != nil {
		return Rendered{}, err
	}
	return out, nil
}

func execute(tpl *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DataFor builds template data for a transition rendered in loc.
func DataFor(transition alarms.Transition, loc *time.Location) TemplateData {
	if loc == nil {
		loc = time.UTC
	}
	alarm := transition.Alarm
	at := transition.At
	if at.IsZero() {
		at = alarm.UpdatedAt
	}
	data := TemplateData{
		Event:          string(transition.Kind),
		Reminder:       transition.Kind == alarms.TransitionRenotified,
		AlarmID:        alarm.ID,
		RuleID:         alarm.RuleID,
		Name:           alarm.Rule.Name,
		Severity:       alarm.Rule.Severity.String(),
		Message:        alarm.Rule.Message,
		DataPoint:      alarm.Rule.DataPointID,
		Condition:      string(alarm.Rule.Condition),
		Threshold:      alarm.Rule.Threshold.String(),
		Value:          alarm.CurrentValue.String(),
		Time:           at.In(loc).Format(timeLayout),
		Clock:          at.In(loc).Format("15:04:05"),
		TriggeredAt:    alarm.TriggeredAt.In(loc).Format(timeLayout),
		Acknowledged:   alarm.Acknowledged,
		AcknowledgedBy: alarm.AcknowledgedBy,
	}
	if !alarm.TriggeredAt.IsZero() && at.After(alarm.TriggeredAt) {
		data.ActiveFor = strings.TrimSpace(humanize.RelTime(alarm.TriggeredAt, at, "", ""))
	}
	return data
}
