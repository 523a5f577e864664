package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"trainfleet/internal/model"
	"trainfleet/pkg/config"
	"trainfleet/pkg/logger"
)

// FeishuNotifier posts job failure and reclaim alerts to a Feishu (Lark)
// webhook so operators hear about dying notebook workers without watching
// the dashboard. It plugs into the event fanout as one more sink.
type FeishuNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewFeishuNotifier creates a new Feishu notifier
func NewFeishuNotifier() *FeishuNotifier {
	// Priority: config file > environment variable
	var webhookURL string
	if config.GlobalConfig != nil && config.GlobalConfig.Notify.FeishuWebhookURL != "" {
		webhookURL = config.GlobalConfig.Notify.FeishuWebhookURL
		logger.Info("Using Feishu webhook URL from config file")
	} else {
		webhookURL = os.Getenv("FEISHU_WEBHOOK_URL")
		if webhookURL != "" {
			logger.Info("Using Feishu webhook URL from environment variable")
		}
	}

	if webhookURL == "" {
		logger.Warn("Feishu webhook URL not configured (check config file or FEISHU_WEBHOOK_URL env), Feishu notifications will be disabled")
	}

	return &FeishuNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// PublishJobEvent forwards failure and reclaim events to the webhook. Other
// lifecycle events are too chatty for an ops channel and are dropped here.
func (f *FeishuNotifier) PublishJobEvent(ctx context.Context, event *model.JobEvent) error {
	if f.webhookURL == "" {
		return nil
	}
	if event.Type != model.JobEventFailed && event.Type != model.JobEventReclaimed {
		return nil
	}

	message := f.buildJobEventMessage(event)

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal Feishu message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", f.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Feishu notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Feishu API returned status code: %d", resp.StatusCode)
	}

	logger.InfoCtx(ctx, "Feishu notification sent, type: %s, job_id: %s", event.Type, event.JobID)
	return nil
}

// buildJobEventMessage builds a Feishu message card for a job event
func (f *FeishuNotifier) buildJobEventMessage(event *model.JobEvent) map[string]interface{} {
	template := "red"
	title := "Job Failed"
	if event.Type == model.JobEventReclaimed {
		template = "orange"
		title = "Job Reclaimed From Dead Worker"
	}

	fields := []interface{}{
		map[string]interface{}{
			"is_short": true,
			"text": map[string]interface{}{
				"content": fmt.Sprintf("**Job**\n%s", event.JobID),
				"tag":     "lark_md",
			},
		},
		map[string]interface{}{
			"is_short": true,
			"text": map[string]interface{}{
				"content": fmt.Sprintf("**Worker**\n%s", event.WorkerID),
				"tag":     "lark_md",
			},
		},
	}
	if event.ShardID != "" {
		fields = append(fields, map[string]interface{}{
			"is_short": true,
			"text": map[string]interface{}{
				"content": fmt.Sprintf("**Shard**\n%s", event.ShardID),
				"tag":     "lark_md",
			},
		})
	}

	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"template": template,
				"title": map[string]interface{}{
					"content": title,
					"tag":     "plain_text",
				},
			},
			"elements": []interface{}{
				map[string]interface{}{
					"tag":    "div",
					"fields": fields,
				},
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": fmt.Sprintf("**Time**: %s", event.Timestamp.Format("2006-01-02 15:04:05")),
						"tag":     "lark_md",
					},
				},
			},
		},
	}
}
