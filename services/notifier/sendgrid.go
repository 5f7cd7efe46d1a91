package notifysvc

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/mitihani/backend/core"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

// subjects per event type; anything unknown falls back to the raw type.
var subjects = map[string]string{
	core.EventViolationRecorded: "Violation recorded",
	core.EventStudentBlocked:    "Student blocked",
	core.EventAttemptSubmitted:  "Attempt auto-submitted",
	core.EventSessionSuperseded: "Session superseded",
}

// SendgridTransport emails events to the proctor alert address.
type SendgridTransport struct {
	key        string
	from       *sgmail.Email
	to         *sgmail.Email
	subjPrefix string
}

func NewSendgridTransport(conf *core.Config) *SendgridTransport {
	from := conf.DefaultFromEmail()
	return &SendgridTransport{
		key:        conf.SendgridAPIKey,
		from:       sgmail.NewEmail(from.Name, from.Address),
		to:         sgmail.NewEmail("Proctors", conf.ProctorAlertAddr),
		subjPrefix: "[" + conf.AppName + "] ",
	}
}

func (t SendgridTransport) Deliver(e core.Event) error {
	subject, ok := subjects[e.Type]
	if !ok {
		subject = e.Type
	}

	body, err := json.MarshalIndent(e.Payload, "", "  ")
	if err != nil {
		return errors.Wrap(err, "rendering event payload")
	}

	p := sgmail.NewPersonalization()
	p.Subject = t.subjPrefix + subject
	p.AddTos(t.to)

	m := sgmail.NewV3Mail()
	m.SetFrom(t.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain",
		fmt.Sprintf("%s at %s\n\n%s\n", subject, e.OccurredAt.Format("2006-01-02 15:04:05 MST"), body)))

	req := sendgrid.GetRequest(t.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	resp, err := sendgrid.API(req)
	if err != nil {
		return errors.Wrap(err, "calling sendgrid")
	}
	if resp.StatusCode >= 300 {
		return errors.Errorf("sendgrid responded %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
