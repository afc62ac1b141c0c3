package notifier

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"strings"
	"text/template"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// Templates holds parsed email templates.
type Templates struct {
	html  *htmltemplate.Template
	plain *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	ID          string
	Subject     string
	SubjectName string
	Message     string
	Alarm       string
	Property    string
	Tags        []string
	Color       string
	Timestamp   string
}

// LoadTemplates loads embedded email templates.
func LoadTemplates() (*Templates, error) {
	funcs := map[string]any{
		"join":  strings.Join,
		"upper": strings.ToUpper,
	}

	htmlTmpl, err := htmltemplate.New("notification.html").Funcs(funcs).ParseFS(templateFS, "templates/notification.html")
	if err != nil {
		return nil, err
	}

	plainTmpl, err := template.New("notification.txt").Funcs(funcs).ParseFS(templateFS, "templates/notification.txt")
	if err != nil {
		return nil, err
	}

	return &Templates{
		html:  htmlTmpl,
		plain: plainTmpl,
	}, nil
}

// RenderHTML renders the HTML email body.
func (t *Templates) RenderHTML(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text email body.
func (t *Templates) RenderPlain(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// alarmColor returns the accent color for an alarm kind.
func alarmColor(alarm string) string {
	switch alarm {
	case models.AlarmMonitorItem:
		return "#d32f2f" // red
	case models.AlarmMonitorObject:
		return "#f57c00" // orange
	case models.AlarmWidgetItem:
		return "#1976d2" // blue
	default:
		return "#757575" // gray
	}
}

// emailSubject prefixes the notification tags with the configured subject.
func emailSubject(cfg models.DeliveryConfig, n *models.Notification) string {
	return strings.TrimSpace(cfg.Subject + " " + strings.Join(n.Tags, " "))
}

// NotificationToTemplateData converts a notification to template data.
func NotificationToTemplateData(cfg models.DeliveryConfig, n *models.Notification) *TemplateData {
	return &TemplateData{
		ID:          n.ID,
		Subject:     emailSubject(cfg, n),
		SubjectName: n.SubjectName,
		Message:     n.Message,
		Alarm:       n.Spec.Alarm,
		Property:    n.Spec.Property,
		Tags:        n.Tags,
		Color:       alarmColor(n.Spec.Alarm),
		Timestamp:   n.CreatedAt.Format("2006-01-02 15:04:05 MST"),
	}
}
