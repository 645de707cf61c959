package notifysvc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/darasa/core"
)

// WhatsAppSender posts messages to a WhatsApp HTTP gateway.
type WhatsAppSender struct {
	baseURL string
	token   string
	client  *rest.Client
}

var _ Sender = (*WhatsAppSender)(nil)

type whatsAppMessage struct {
	To   string `json:"to"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

func NewWhatsAppSender(conf *core.Config) *WhatsAppSender {
	return &WhatsAppSender{
		baseURL: conf.Notification.GatewayURL,
		token:   conf.Notification.GatewayToken,
		client:  &rest.Client{HTTPClient: http.DefaultClient},
	}
}

func (s *WhatsAppSender) Deliver(ctx context.Context, phone, message string) error {
	payload := whatsAppMessage{To: phone, Type: "text"}
	payload.Text.Body = message
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encoding message")
	}

	req := rest.Request{
		Method:  rest.Post,
		BaseURL: s.baseURL + "/messages",
		Headers: map[string]string{
			"Authorization": "Bearer " + s.token,
			"Content-Type":  "application/json",
		},
		Body: body,
	}
	httpReq, err := rest.BuildRequestObject(req)
	if err != nil {
		return errors.Wrap(err, "building whatsapp request")
	}
	httpRes, err := s.client.MakeRequest(httpReq.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "calling whatsapp gateway")
	}
	res, err := rest.BuildResponse(httpRes)
	if err != nil {
		return errors.Wrap(err, "reading whatsapp response")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("whatsapp gateway - status: %d - body: %s", res.StatusCode, res.Body)
	}
	return nil
}
