package dispatch

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/unclebandit/leadnurture/internal/model"
)

// Message is one rendered step ready to leave the system.
type Message struct {
	Channel    model.Channel `json:"channel"`
	Recipient  string        `json:"recipient"`
	Subject    string        `json:"subject,omitempty"`
	Body       string        `json:"body"`
	TemplateID string        `json:"template_id"`
	CampaignID string        `json:"campaign_id"`
	LeadID     string        `json:"lead_id"`
	StepIndex  int           `json:"step_index"`
}

type Result struct {
	Success   bool
	Detail    string
	MessageID string
}

// Dispatcher sends a message over its channel. A returned error and a
// Result with Success=false both mean the step did not go out.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)
)

// ValidateRecipient checks the address format for the channel.
func ValidateRecipient(ch model.Channel, recipient string) error {
	switch ch {
	case model.ChannelEmail:
		if !emailPattern.MatchString(recipient) {
			return fmt.Errorf("invalid email address %q", recipient)
		}
	case model.ChannelSMS:
		if !phonePattern.MatchString(recipient) {
			return fmt.Errorf("invalid phone number %q", recipient)
		}
	default:
		return fmt.Errorf("unsupported channel %q", ch)
	}
	return nil
}

// LogDispatcher only logs messages. Used when no broker is configured.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ValidateRecipient(msg.Channel, msg.Recipient); err != nil {
		return Result{Success: false, Detail: err.Error()}, nil
	}
	d.log.Info("📩 message dispatched",
		zap.String("campaign_id", msg.CampaignID),
		zap.String("lead_id", msg.LeadID),
		zap.Int("step_index", msg.StepIndex),
		zap.String("channel", string(msg.Channel)),
		zap.String("template_id", msg.TemplateID),
	)
	return Result{Success: true, Detail: fmt.Sprintf("%s logged", msg.Channel)}, nil
}
