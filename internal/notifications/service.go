package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/gomail.v2"

	"github.com/brandlens/visibility-bot/internal/config"
	"github.com/brandlens/visibility-bot/internal/models"
)

// Service handles sending notifications via various channels
type Service struct {
	config *config.Config
	client *resty.Client
	send   func(m *gomail.Message) error
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	s := &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
	s.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
		return d.DialAndSend(m)
	}
	return s
}

func title(s string) string {
	return cases.Title(language.English).String(s)
}

// SendReport sends a report via configured notification channels
func (s *Service) SendReport(ctx context.Context, report *models.Report) error {
	var errors []string

	// Send to Teams if configured
	if s.config.TeamsWebhookURL != "" {
		if err := s.postTeams(ctx, s.buildTeamsMessage(report)); err != nil {
			logrus.Errorf("Failed to send Teams notification: %v", err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Successfully sent %s report to Teams", report.TopicName)
		}
	}

	// Send via email if configured
	if s.config.NotificationEmail != "" {
		if err := s.sendReportEmail(report); err != nil {
			logrus.Errorf("Failed to send email notification: %v", err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Successfully sent %s report via email", report.TopicName)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (s *Service) postTeams(ctx context.Context, message *TeamsMessage) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func sentimentCounts(report *models.Report) ([]string, map[string]int) {
	counts, ok := report.Summary["sentiment"].(map[string]int)
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, counts
}

func (s *Service) buildTeamsMessage(report *models.Report) *TeamsMessage {
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("%s Visibility Report - %s", report.TopicName, title(report.Period)),
		Text: fmt.Sprintf("Average visibility %.1f with %d mentions in the last %s",
			report.AverageVisibility, report.TotalMentions, report.Period),
	}

	facts := []TeamsFact{
		{Name: "Average Visibility", Value: fmt.Sprintf("%.1f / 100", report.AverageVisibility)},
		{Name: "Total Mentions", Value: fmt.Sprintf("%d", report.TotalMentions)},
		{Name: "Generated", Value: report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")},
	}
	if c := report.Competitive; c != nil {
		facts = append(facts,
			TeamsFact{Name: "Market Share", Value: fmt.Sprintf("%.1f%%", c.MarketShare)},
			TeamsFact{Name: "Competitor Gap", Value: fmt.Sprintf("%.1f%%", c.CompetitorGap)},
		)
	}
	keys, counts := sentimentCounts(report)
	for _, sentiment := range keys {
		facts = append(facts, TeamsFact{
			Name:  fmt.Sprintf("%s Mentions", title(sentiment)),
			Value: fmt.Sprintf("%d", counts[sentiment]),
		})
	}

	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Summary",
		Facts:         facts,
		Markdown:      true,
	})

	if report.Competitive != nil && len(report.Competitive.Competitors) > 0 {
		var lines []string
		for i, c := range topCompetitors(report, 5) {
			line := fmt.Sprintf("%d. **%s** - %d mentions", i+1, c.Name, c.Mentions)
			if c.Domain != "" {
				line += fmt.Sprintf(" (%s)", c.Domain)
			}
			lines = append(lines, line)
		}

		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Top Competitors",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		})
	}

	return message
}

func topCompetitors(report *models.Report, limit int) []models.CompetitorStat {
	if report.Competitive == nil {
		return nil
	}
	competitors := report.Competitive.Competitors
	if len(competitors) < limit {
		limit = len(competitors)
	}
	return competitors[:limit]
}

func (s *Service) sendReportEmail(report *models.Report) error {
	subject := fmt.Sprintf("%s Visibility Report - %s (%.1f visibility, %d mentions)",
		report.TopicName, title(report.Period), report.AverageVisibility, report.TotalMentions)

	htmlBody, err := s.buildEmailHTML(report)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	return s.sendEmail(subject, s.buildEmailText(report), htmlBody)
}

func (s *Service) sendEmail(subject, textBody, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	if htmlBody != "" {
		m.AddAlternative("text/html", htmlBody)
	}

	if err := s.send(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

const reportTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.TopicName}} Visibility Report</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #0078d4; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        table { border-collapse: collapse; }
        td, th { padding: 6px 12px; border-bottom: 1px solid #ddd; text-align: left; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.TopicName}} Visibility Report</h1>
        <p>{{.Period}} report generated on {{.GeneratedAt.Format "January 2, 2006 at 3:04 PM UTC"}}</p>
    </div>

    <div class="summary">
        <h2>Summary</h2>
        <p><strong>Average Visibility:</strong> {{printf "%.1f" .AverageVisibility}} / 100</p>
        <p><strong>Total Mentions:</strong> {{.TotalMentions}}</p>
        {{with .Competitive}}
        <p><strong>Market Share:</strong> {{printf "%.1f" .MarketShare}}%</p>
        <p><strong>Competitor Gap:</strong> {{printf "%.1f" .CompetitorGap}}%</p>
        {{end}}
        {{if .Summary.sentiment}}
            {{range $sentiment, $count := .Summary.sentiment}}
                <p><strong>{{$sentiment | title}} Mentions:</strong> {{$count}}</p>
            {{end}}
        {{end}}
    </div>

    {{with .Competitive}}{{if .Competitors}}
    <h2>Competitors</h2>
    <table>
        <tr><th>Name</th><th>Domain</th><th>Mentions</th><th>Avg Position</th><th>Sentiment</th></tr>
        {{range $index, $c := .Competitors}}{{if lt $index 10}}
        <tr><td>{{$c.Name}}</td><td>{{$c.Domain}}</td><td>{{$c.Mentions}}</td><td>{{printf "%.1f" $c.AvgPosition}}</td><td>{{printf "%.1f" $c.Sentiment}}</td></tr>
        {{end}}{{end}}
    </table>
    {{end}}{{end}}

    <hr>
    <p><small>This report was generated automatically by the Visibility Bot.</small></p>
</body>
</html>
`

func (s *Service) buildEmailHTML(report *models.Report) (string, error) {
	t, err := template.New("email").Funcs(template.FuncMap{"title": title}).Parse(reportTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, report); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *Service) buildEmailText(report *models.Report) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("%s Visibility Report - %s\n", report.TopicName, title(report.Period)))
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("Average Visibility: %.1f / 100\n", report.AverageVisibility))
	text.WriteString(fmt.Sprintf("Total Mentions: %d\n", report.TotalMentions))
	if c := report.Competitive; c != nil {
		text.WriteString(fmt.Sprintf("Market Share: %.1f%%\n", c.MarketShare))
		text.WriteString(fmt.Sprintf("Competitor Gap: %.1f%%\n", c.CompetitorGap))
	}

	keys, counts := sentimentCounts(report)
	for _, sentiment := range keys {
		text.WriteString(fmt.Sprintf("%s Mentions: %d\n", title(sentiment), counts[sentiment]))
	}

	if competitors := topCompetitors(report, 10); len(competitors) > 0 {
		text.WriteString("\nCOMPETITORS\n")
		text.WriteString("===========\n")
		for i, c := range competitors {
			text.WriteString(fmt.Sprintf("%d. %s", i+1, c.Name))
			if c.Domain != "" {
				text.WriteString(fmt.Sprintf(" (%s)", c.Domain))
			}
			text.WriteString(fmt.Sprintf(" - %d mentions, avg position %.1f\n", c.Mentions, c.AvgPosition))
		}
	}

	text.WriteString("\n---\nThis report was generated automatically by the Visibility Bot.\n")

	return text.String()
}

// SendAlert sends an urgent alert notification
func (s *Service) SendAlert(ctx context.Context, alert *models.Alert) error {
	logrus.WithFields(logrus.Fields{
		"type":  alert.Type,
		"title": alert.Title,
	}).Warn("Raising alert")

	var errors []string

	if s.config.TeamsWebhookURL != "" {
		if err := s.postTeams(ctx, buildAlertMessage(alert)); err != nil {
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		}
	}

	if s.config.NotificationEmail != "" {
		subject := fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title)
		if err := s.sendEmail(subject, alertText(alert), ""); err != nil {
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("alert errors: %s", strings.Join(errors, "; "))
	}
	return nil
}

func buildAlertMessage(alert *models.Alert) *TeamsMessage {
	color := "0078D4"
	switch alert.Type {
	case "critical":
		color = "D13438"
	case "urgent":
		color = "FFB900"
	}

	message := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Title:      alert.Title,
		Text:       alert.Message,
	}

	var facts []TeamsFact
	if alert.Scope != nil {
		facts = append(facts, TeamsFact{Name: "Scope", Value: alert.Scope.Key()})
	}
	facts = append(facts, TeamsFact{Name: "Raised", Value: alert.CreatedAt.Format("2006-01-02 15:04:05 UTC")})
	message.Sections = append(message.Sections, TeamsSection{Facts: facts})

	if len(alert.Errors) > 0 {
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Errors",
			ActivityText:  strings.Join(alert.Errors, "\n\n"),
			Markdown:      true,
		})
	}
	return message
}

func alertText(alert *models.Alert) string {
	var text strings.Builder
	text.WriteString(alert.Message + "\n")
	if alert.Scope != nil {
		text.WriteString(fmt.Sprintf("Scope: %s\n", alert.Scope.Key()))
	}
	for _, e := range alert.Errors {
		text.WriteString(fmt.Sprintf(" - %s\n", e))
	}
	return text.String()
}
