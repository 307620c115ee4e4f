package alerts

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/session"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func TestNotifyTrade(t *testing.T) {
	api := &fakeSender{}
	n := newNotifier(api, 123)

	n.NotifyTrade(context.Background(), db.Trade{
		Ticker: "MSFT", Side: "BUY", Quantity: 28, Price: 350,
		TotalValue: 9809.8, Commission: 9.8, StrategyName: "Momentum",
	})

	require.Len(t, api.sent, 1)
	assert.Contains(t, api.sent[0], "BUY MSFT")
	assert.Contains(t, api.sent[0], "28 @ 350.00")
	assert.Contains(t, api.sent[0], "strategy: Momentum")
}

func TestNotifyTradeSellCarriesExitReason(t *testing.T) {
	api := &fakeSender{}
	n := newNotifier(api, 123)

	n.NotifyTrade(context.Background(), db.Trade{
		Ticker: "NVDA", Side: "SELL", SignalType: "STOP_LOSS",
		Quantity: 10, Price: 95, TotalValue: 949.05, Commission: 0.95,
	})

	require.Len(t, api.sent, 1)
	assert.Contains(t, api.sent[0], "SELL (STOP_LOSS) NVDA")
}

func TestNotifyPremarket(t *testing.T) {
	api := &fakeSender{}
	n := newNotifier(api, 123)

	n.NotifyPremarket(context.Background(), session.PremarketContext{
		Ticker: "MSFT", PrevClose: 350, PremarketLast: 360,
		PremarketGapPct: 2.857, MinutesUntilOpen: 45,
	})

	require.Len(t, api.sent, 1)
	assert.Contains(t, api.sent[0], "MSFT gapping up 2.86%")
	assert.Contains(t, api.sent[0], "45 min until open")
}

func TestNotifyPremarketSkipsErrored(t *testing.T) {
	api := &fakeSender{}
	n := newNotifier(api, 123)

	n.NotifyPremarket(context.Background(), session.PremarketContext{
		Ticker: "MSFT", Err: assert.AnError,
	})
	assert.Empty(t, api.sent)
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	n.NotifyTrade(context.Background(), db.Trade{})
	n.NotifyPremarket(context.Background(), session.PremarketContext{})
}
