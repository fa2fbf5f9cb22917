package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"contract-deployer/internal/config"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/pkg/logger"

	"github.com/slack-go/slack"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelWebhook Channel = "webhook"
	ChannelSlack   Channel = "slack"
)

// Event 描述一次需要告警的部署失败。
type Event struct {
	Code         xerrors.Code      `json:"code"`
	Message      string            `json:"message"`
	Severity     xerrors.Severity  `json:"severity"`
	DeploymentID string            `json:"deployment_id"`
	Chain        string            `json:"chain,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// New 根据配置构造告警分发器，未配置任何渠道时返回 nil。
// Webhook 地址通常包含密钥，只从环境变量读取。
func New(cfg config.AlertsConfig) *FanoutDispatcher {
	var notifiers []Notifier
	if url := envValue(cfg.WebhookURLEnv); url != "" {
		notifiers = append(notifiers, &WebhookNotifier{URL: url})
	}
	if url := envValue(cfg.SlackWebhookURLEnv); url != "" {
		notifiers = append(notifiers, &SlackNotifier{WebhookURL: url})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return NewFanout(notifiers...)
}

// Len 返回已注册的渠道数量。
func (d *FanoutDispatcher) Len() int {
	if d == nil {
		return 0
	}
	return len(d.notifiers)
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AtLeast 判断 severity 是否达到 threshold 指定的级别，未知级别按 critical 处理。
func AtLeast(severity, threshold xerrors.Severity) bool {
	return rank(severity) >= rank(threshold)
}

func rank(s xerrors.Severity) int {
	switch s {
	case xerrors.SeverityInfo:
		return 0
	case xerrors.SeverityWarning:
		return 1
	default:
		return 2
	}
}

// WebhookNotifier 将事件以 JSON 形式 POST 到任意 HTTP 端点。
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送事件。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("deployment_id", event.DeploymentID))
		return nil
	}
	return postJSON(ctx, n.Client, n.URL, event)
}

// SlackNotifier 通过 Slack incoming webhook 发送告警。
type SlackNotifier struct {
	WebhookURL string
	Client     *http.Client
}

// Channel 返回 Slack 渠道。
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify 发送 Slack 消息。
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.WebhookURL == "" {
		logger.L().Warn("SlackNotifier 未正确配置，跳过发送", slog.String("deployment_id", event.DeploymentID))
		return nil
	}
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	return slack.PostWebhookCustomHTTPContext(ctx, n.WebhookURL, client, &slack.WebhookMessage{Text: slackText(event)})
}

func slackText(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s]* %s - %s\n部署: %s", event.Severity, event.Code, event.Message, event.DeploymentID)
	if event.Chain != "" {
		fmt.Fprintf(&b, " (%s)", event.Chain)
	}
	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %s", k, event.Metadata[k])
	}
	return b.String()
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func envValue(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}
