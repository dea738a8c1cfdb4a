package bot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xuri/excelize/v2"
)

const exportLimit = 1000

// exportTransactionsExcel выгружает последние записи журнала транзакций
// в .xlsx и отправляет файл в админ-чат.
func (b *Bot) exportTransactionsExcel(ctx context.Context, chatID int64) {
	records, err := b.tx.ListRecent(ctx, exportLimit)
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, "Ошибка загрузки журнала"))
		return
	}
	if len(records) == 0 {
		b.send(tgbotapi.NewMessage(chatID, "Журнал пуст."))
		return
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	header := []interface{}{
		"id",
		"scope_kind",
		"scope_id",
		"actor_id",
		"amount",
		"type",
		"description",
		"created_at",
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		b.send(tgbotapi.NewMessage(chatID, "Ошибка формирования файла (заголовок)"))
		return
	}

	row := 2
	for _, rec := range records {
		excelRow := []interface{}{
			rec.ID,
			string(rec.Scope.Kind),
			rec.Scope.ID,
			rec.ActorID,
			rec.Amount,
			string(rec.Type),
			rec.Description,
			rec.CreatedAt.Format(time.RFC3339),
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			b.send(tgbotapi.NewMessage(chatID, "Ошибка формирования файла (ячейки)"))
			return
		}
		if err := f.SetSheetRow(sheet, cell, &excelRow); err != nil {
			b.send(tgbotapi.NewMessage(chatID, "Ошибка формирования файла (строки)"))
			return
		}
		row++
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		b.send(tgbotapi.NewMessage(chatID, "Ошибка записи файла"))
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("transactions_%s.xlsx", time.Now().Format("20060102_150405")),
		Bytes: buf.Bytes(),
	})
	doc.Caption = fmt.Sprintf("Журнал транзакций, последние %d записей.", len(records))
	b.send(doc)
}
