package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"gopkg.in/telebot.v4"
)

const (
	alertTimeout = time.Minute
	maxAlertBody = 1 << 20
)

// AlertmanagerPayload corresponds to the JSON structure sent by Alertmanager.
type AlertmanagerPayload struct {
	Receiver string  `json:"receiver"`
	Status   string  `json:"status"`
	Alerts   []Alert `json:"alerts"`
}

// Alert contains detail information about the one notification.
type Alert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      time.Time         `json:"endsAt"`
}

// AlertmanagerWebhookHandler forwards an Alertmanager batch to every admin as one message.
// Delivery happens in the background through the dispatcher, the webhook only acknowledges.
func (b *Bot) AlertmanagerWebhookHandler(writer http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(writer, "Only POST requests are accepted", http.StatusMethodNotAllowed)
		return
	}

	var payload AlertmanagerPayload
	if err := json.NewDecoder(http.MaxBytesReader(writer, req.Body, maxAlertBody)).Decode(&payload); err != nil {
		b.log.Error("Failed to decode webhook payload", "error", err)
		http.Error(writer, "Failed to decode payload", http.StatusBadRequest)
		return
	}
	if len(payload.Alerts) == 0 {
		writer.WriteHeader(http.StatusNoContent)
		return
	}

	admins, err := b.employees.GetAdmins(req.Context())
	if err != nil {
		b.log.Error("Failed to get admins for alert", "error", err)
		http.Error(writer, "Failed to resolve recipients", http.StatusInternalServerError)
		return
	}
	if len(admins) == 0 {
		b.log.Warn("No admins found to send alerts to", "alerts", len(payload.Alerts))
		writer.WriteHeader(http.StatusAccepted)
		return
	}

	recipients := make([]int64, 0, len(admins))
	for _, admin := range admins {
		recipients = append(recipients, admin.ID)
	}
	text := formatAlerts(payload.Alerts)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()

		for _, chunk := range chunkText(text, maxMessageLength) {
			report := b.notifier.NotifyAll(ctx, recipients, chunk, telebot.ModeHTML)
			if len(report.Failed)+len(report.Unreachable) > 0 {
				b.log.Warn("Alert did not reach every admin",
					"failed", report.Failed, "unreachable", report.Unreachable)
			}
		}
	}()

	writer.WriteHeader(http.StatusAccepted)
}

// formatAlerts renders a batch, one block per alert.
func formatAlerts(alerts []Alert) string {
	blocks := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		blocks = append(blocks, formatAlertMessage(alert))
	}
	return strings.Join(blocks, "\n")
}

// formatAlertMessage renders one alert as Telegram HTML.
func formatAlertMessage(alert Alert) string {
	status := strings.ToUpper(alert.Status)
	icon := "✅"
	if status == "FIRING" {
		icon = "🔥"
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "%s <b>%s</b>", icon, html.EscapeString(status))
	if name := alert.Labels["alertname"]; name != "" {
		fmt.Fprintf(&builder, " %s", html.EscapeString(name))
	}
	if severity := alert.Labels["severity"]; severity != "" {
		fmt.Fprintf(&builder, " (%s)", html.EscapeString(severity))
	}
	builder.WriteString("\n")

	if summary := alert.Annotations["summary"]; summary != "" {
		fmt.Fprintf(&builder, "<b>Summary</b>: %s\n", html.EscapeString(summary))
	}
	if description := alert.Annotations["description"]; description != "" {
		fmt.Fprintf(&builder, "<b>Description</b>: %s\n", html.EscapeString(description))
	}
	if job := alert.Labels["job"]; job != "" {
		fmt.Fprintf(&builder, "<b>Service</b>: <code>%s</code>\n", html.EscapeString(job))
	}

	return builder.String()
}
