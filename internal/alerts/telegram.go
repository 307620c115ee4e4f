// Package alerts pushes trade executions and pre-market gap alerts to a
// Telegram chat. It is a one-way notifier; the interactive bot surface is
// intentionally not part of this service.
package alerts

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/session"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends one-way alerts to a fixed chat.
type Notifier struct {
	api    sender
	chatID int64
	logger zerolog.Logger
}

// NewTelegramNotifier authorizes against the bot API. An empty token
// returns a nil notifier so callers can wire it unconditionally.
func NewTelegramNotifier(token string, chatID int64) (*Notifier, error) {
	if token == "" {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	logger := config.NewLogger("alerts")
	logger.Info().Str("username", api.Self.UserName).Msg("Telegram notifier authorized")
	return &Notifier{api: api, chatID: chatID, logger: logger}, nil
}

func newNotifier(api sender, chatID int64) *Notifier {
	return &Notifier{api: api, chatID: chatID, logger: config.NewLogger("alerts")}
}

// NotifyTrade announces one executed trade. Send failures are logged only;
// alerting never blocks or fails the execution path.
func (n *Notifier) NotifyTrade(ctx context.Context, t db.Trade) {
	if n == nil {
		return
	}
	n.send(formatTrade(t))
}

// NotifyPremarket announces a notable pre-market gap.
func (n *Notifier) NotifyPremarket(ctx context.Context, pc session.PremarketContext) {
	if n == nil || pc.Err != nil {
		return
	}
	n.send(formatPremarket(pc))
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Warn().Err(err).Msg("Telegram send failed")
	}
}

func formatTrade(t db.Trade) string {
	label := "BUY"
	if t.Side == "SELL" {
		label = fmt.Sprintf("SELL (%s)", t.SignalType)
	}
	msg := fmt.Sprintf("%s %s\n%.0f @ %.2f = %.2f USD\ncommission %.2f",
		label, t.Ticker, t.Quantity, t.Price, t.TotalValue, t.Commission)
	if t.StrategyName != "" {
		msg += "\nstrategy: " + t.StrategyName
	}
	return msg
}

func formatPremarket(pc session.PremarketContext) string {
	direction := "up"
	if pc.PremarketGapPct < 0 {
		direction = "down"
	}
	return fmt.Sprintf("Pre-market alert: %s gapping %s %.2f%%\nprev close %.2f, pre-market %.2f\n%d min until open",
		pc.Ticker, direction, pc.PremarketGapPct, pc.PrevClose, pc.PremarketLast, pc.MinutesUntilOpen)
}
