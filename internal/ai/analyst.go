package ai

import (
	"context"
	"fmt"
	"strings"

	"pulse/internal/indicator"
	"pulse/internal/market"
)

// Chatter 聊天補全的最小介面，方便測試替身。
type Chatter interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const systemPrompt = `你是台股技術分析助手。根據提供的日 K 線與技術指標，` +
	`以繁體中文簡潔回答：目前趨勢、關鍵支撐壓力、短期觀察重點。` +
	`不提供投資建議，結尾提醒使用者自行判斷風險。`

// Analyst 把行情與指標整理成提示詞交給模型。
type Analyst struct {
	client Chatter
}

func NewAnalyst(client Chatter) *Analyst {
	return &Analyst{client: client}
}

// Analyze 對單一股票做技術面問答。question 為空時用預設問題。
func (a *Analyst) Analyze(ctx context.Context, ticker, question string, bars []market.Bar, ind *indicator.Series) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("AI 用戶端未設定")
	}
	if len(bars) == 0 {
		return "", fmt.Errorf("%w: %s", market.ErrDataUnavailable, ticker)
	}
	if question == "" {
		question = "請分析目前趨勢與觀察重點。"
	}
	return a.client.Chat(ctx, systemPrompt, buildUserPrompt(ticker, question, bars, ind))
}

// buildUserPrompt 帶入最近 20 根收盤與最新指標快照。
func buildUserPrompt(ticker, question string, bars []market.Bar, ind *indicator.Series) string {
	var b strings.Builder
	fmt.Fprintf(&b, "股票代號：%s\n", ticker)

	recent := bars
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	b.WriteString("最近收盤（由舊到新）：\n")
	for _, bar := range recent {
		fmt.Fprintf(&b, "%s close=%.2f volume=%.0f\n", bar.Date.Format("2006-01-02"), bar.Close, bar.Volume)
	}

	if ind != nil && ind.Len() > 0 {
		snap := ind.At(ind.Len() - 1)
		b.WriteString("最新指標：")
		writeIndicator(&b, "RSI14", snap.RSI14)
		writeIndicator(&b, "MA20", snap.MA20)
		writeIndicator(&b, "MA50", snap.MA50)
		writeIndicator(&b, "MA200", snap.MA200)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n問題：%s\n", question)
	return b.String()
}

func writeIndicator(b *strings.Builder, name string, v *float64) {
	if v == nil {
		fmt.Fprintf(b, " %s=暖身中", name)
		return
	}
	fmt.Fprintf(b, " %s=%.2f", name, *v)
}
