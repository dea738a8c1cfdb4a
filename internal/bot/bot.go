package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/plans"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/reset"
	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/txlog"
)

// Bot — админский интерфейс в Telegram: уведомления о заявках на тариф,
// ревью в один тап, выгрузка журнала транзакций.
type Bot struct {
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	plans      *plans.Service
	tx         *txlog.Repo
	sweeper    *reset.Sweeper
	adminChat  int64
	reviewerID int64 // пользователь системы, от имени которого ревьюит админ-чат
}

func New(api *tgbotapi.BotAPI, log *slog.Logger, plansSvc *plans.Service,
	txRepo *txlog.Repo, sweeper *reset.Sweeper, adminChatID, reviewerID int64) *Bot {

	return &Bot{
		api: api, log: log, plans: plansSvc, tx: txRepo, sweeper: sweeper,
		adminChat: adminChatID, reviewerID: reviewerID,
	}
}

func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-updates:
			if upd.Message != nil {
				b.onMessage(ctx, upd)
			} else if upd.CallbackQuery != nil {
				b.onCallback(ctx, upd)
			}
		}
	}
}

func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send failed", "err", err)
	}
}

// NotifyRequest реализует plans.Notifier: новая заявка прилетает в
// админ-чат с кнопками одобрить/отклонить.
func (b *Bot) NotifyRequest(req plans.Request) {
	scope := "личный кабинет"
	if req.OrganizationID != nil {
		scope = fmt.Sprintf("организация #%d", *req.OrganizationID)
	}
	text := fmt.Sprintf(
		"Новая заявка на тариф #%d\nКто: пользователь %d (%s)\nТариф: %s → %s",
		req.ID, req.UserID, scope, req.CurrentTier, req.RequestedTier,
	)
	if req.Notes != "" {
		text += "\nКомментарий: " + req.Notes
	}

	m := tgbotapi.NewMessage(b.adminChat, text)
	m.ReplyMarkup = reviewKeyboard(req.ID)
	b.send(m)
}

func reviewKeyboard(requestID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Одобрить", fmt.Sprintf("adm:pr:approve:%d", requestID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", fmt.Sprintf("adm:pr:reject:%d", requestID)),
		),
	)
}

func (b *Bot) onMessage(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg.Chat.ID != b.adminChat {
		return
	}
	switch msg.Command() {
	case "pending":
		b.showPending(ctx, msg.Chat.ID)
	case "transactions":
		b.exportTransactionsExcel(ctx, msg.Chat.ID)
	case "sweep":
		res, err := b.sweeper.Sweep(ctx, time.Now())
		if err != nil {
			b.send(tgbotapi.NewMessage(msg.Chat.ID, "Sweep не прошёл: "+err.Error()))
			return
		}
		b.send(tgbotapi.NewMessage(msg.Chat.ID,
			fmt.Sprintf("Сброс периодов: организаций %d, личных %d", res.OrganizationsReset, res.PersonalReset)))
	case "start", "help":
		b.send(tgbotapi.NewMessage(msg.Chat.ID,
			"Команды: /pending — заявки на ревью, /transactions — выгрузка журнала, /sweep — сброс периодов"))
	}
}

func (b *Bot) showPending(ctx context.Context, chatID int64) {
	list, err := b.plans.ListPending(ctx, ledger.Kind(""))
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, "Ошибка загрузки заявок"))
		return
	}
	if len(list) == 0 {
		b.send(tgbotapi.NewMessage(chatID, "Заявок на ревью нет."))
		return
	}
	for _, req := range list {
		b.NotifyRequest(req)
	}
}

func (b *Bot) onCallback(ctx context.Context, upd tgbotapi.Update) {
	cb := upd.CallbackQuery
	if cb.Message == nil || cb.Message.Chat.ID != b.adminChat {
		return
	}
	defer func() {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			b.log.Error("callback ack failed", "err", err)
		}
	}()

	parts := strings.Split(cb.Data, ":")
	if len(parts) != 4 || parts[0] != "adm" || parts[1] != "pr" {
		return
	}
	requestID, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return
	}
	approve := parts[2] == "approve"

	req, err := b.plans.Review(ctx, requestID, b.reviewerID, approve, "reviewed via telegram")
	if err != nil {
		text := "Ошибка ревью: " + err.Error()
		if errors.Is(err, plans.ErrAlreadyReviewed) {
			text = fmt.Sprintf("Заявка #%d уже отревьюена.", requestID)
		}
		b.send(tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, text))
		return
	}

	verdict := "отклонена"
	if approve {
		verdict = fmt.Sprintf("одобрена, тариф %s применён", req.RequestedTier)
	}
	b.send(tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID,
		fmt.Sprintf("Заявка #%d %s.", requestID, verdict)))
}
