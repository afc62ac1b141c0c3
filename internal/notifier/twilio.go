package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// DefaultTwilioBaseURL is the Twilio REST API root.
const DefaultTwilioBaseURL = "https://api.twilio.com"

// TwilioSender delivers SMS or WhatsApp messages through the Twilio
// Messages API.
type TwilioSender struct {
	channel models.Channel
	http    *resty.Client
}

// twilioMessage is the subset of a Messages API resource we read.
type twilioMessage struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

// twilioError is the body of a non-2xx Twilio response.
type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

// NewTwilioSender creates a sender for ch, which must be ChannelSMS or
// ChannelWhatsApp. An empty baseURL uses DefaultTwilioBaseURL.
func NewTwilioSender(ch models.Channel, baseURL string, timeout time.Duration) *TwilioSender {
	if baseURL == "" {
		baseURL = DefaultTwilioBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := resty.New()
	r.SetBaseURL(baseURL)
	r.SetTimeout(timeout)
	r.SetHeader("Accept", "application/json")
	return &TwilioSender{channel: ch, http: r}
}

// Channel returns the channel the sender serves.
func (t *TwilioSender) Channel() models.Channel {
	return t.channel
}

// DeliveryPath returns the channel name.
func (t *TwilioSender) DeliveryPath(models.DeliveryConfig) string {
	return string(t.channel)
}

// Validate checks the account credentials and sender identity.
func (t *TwilioSender) Validate(cfg models.DeliveryConfig) error {
	switch {
	case cfg.AccountSID == "":
		return fmt.Errorf("%w: %s: account SID is required", ErrConfig, cfg.ID)
	case cfg.AuthToken == "":
		return fmt.Errorf("%w: %s: auth token is required", ErrConfig, cfg.ID)
	case cfg.From == "":
		return fmt.Errorf("%w: %s: sender is required", ErrConfig, cfg.ID)
	}
	return nil
}

func twilioAddress(cfg models.DeliveryConfig, number string) string {
	if cfg.WhatsApp {
		return "whatsapp:" + number
	}
	return number
}

// Send posts n to the user's phone number.
func (t *TwilioSender) Send(ctx context.Context, cfg models.DeliveryConfig, to *models.User, n *models.Notification) error {
	resp, err := t.http.R().
		SetContext(ctx).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetPathParam("sid", cfg.AccountSID).
		SetFormData(map[string]string{
			"To":   twilioAddress(cfg, to.Phone),
			"From": twilioAddress(cfg, cfg.From),
			"Body": n.Message,
		}).
		SetResult(&twilioMessage{}).
		SetError(&twilioError{}).
		Post("/2010-04-01/Accounts/{sid}/Messages.json")
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}

	if resp.IsError() {
		if e, ok := resp.Error().(*twilioError); ok && e.Message != "" {
			return fmt.Errorf("twilio returned status %d: %d %s", resp.StatusCode(), e.Code, e.Message)
		}
		return fmt.Errorf("twilio returned status %d: %s", resp.StatusCode(), resp.String())
	}

	msg, ok := resp.Result().(*twilioMessage)
	if !ok {
		return fmt.Errorf("failed to parse twilio response")
	}
	if msg.ErrorMessage != nil {
		code := 0
		if msg.ErrorCode != nil {
			code = *msg.ErrorCode
		}
		return fmt.Errorf("twilio message %s failed: %d %s", msg.SID, code, *msg.ErrorMessage)
	}
	return nil
}
