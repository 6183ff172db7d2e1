// Package alert delivers operator notifications. The production sink
// posts to a WeCom group webhook; an empty webhook key degrades to
// logging so the pipeline runs unalerted rather than not at all.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Sink is the single operation the rest of the pipeline knows about.
type Sink interface {
	Send(ctx context.Context, text string, mentions []string) error
}

// DefaultBaseURL is the WeCom group-robot webhook endpoint.
const DefaultBaseURL = "https://qyapi.weixin.qq.com/cgi-bin/webhook/send"

// New returns the WeCom sink for the given group key, or the log sink
// when the key is empty.
func New(groupKey string) Sink {
	if groupKey == "" {
		log.Warn("no alert webhook configured, alerts go to the log only")
		return LogSink{}
	}
	return NewWeCom(DefaultBaseURL, groupKey)
}

// WeCom posts text messages to a WeCom group robot.
type WeCom struct {
	baseURL string
	key     string
	client  *http.Client
}

// NewWeCom returns a sink posting to baseURL?key=key. Tests point
// baseURL at a local server.
func NewWeCom(baseURL, key string) *WeCom {
	return &WeCom{
		baseURL: baseURL,
		key:     key,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type wecomMessage struct {
	MsgType string    `json:"msgtype"`
	Text    wecomText `json:"text"`
}

type wecomText struct {
	Content  string   `json:"content"`
	Mentions []string `json:"mentioned_mobile_list,omitempty"`
}

type wecomResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Send posts one text message mentioning the given mobile numbers.
func (w *WeCom) Send(ctx context.Context, text string, mentions []string) error {
	body, err := json.Marshal(wecomMessage{
		MsgType: "text",
		Text:    wecomText{Content: text, Mentions: mentions},
	})
	if err != nil {
		return errors.Wrap(err, "encode alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"?key="+w.key, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build alert request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post alert")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("alert webhook returned %s", resp.Status)
	}
	var wr wecomResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&wr); err != nil {
		return errors.Wrap(err, "decode webhook response")
	}
	if wr.ErrCode != 0 {
		return errors.Errorf("alert webhook rejected message: %d %s", wr.ErrCode, wr.ErrMsg)
	}
	return nil
}

// LogSink writes alerts to the log at warning level.
type LogSink struct{}

func (LogSink) Send(_ context.Context, text string, mentions []string) error {
	log.WithField("mentions", mentions).Warn(text)
	return nil
}
