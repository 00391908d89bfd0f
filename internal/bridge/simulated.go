package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RegisterSimulated 为常用的手机能力注册模拟执行器。
// 真机场景由设备侧 App 替换这些实现，开发与测试环境直接使用模拟结果。
func RegisterSimulated(b *Bridge) {
	b.Handle("send_sms", simSendSMS)
	b.Handle("send_whatsapp", simSendWhatsApp)
	b.Handle("place_call", simPlaceCall)
	b.Handle("read_calendar", simReadCalendar)
	b.Handle("add_calendar_event", simAddCalendarEvent)
	b.Handle("set_reminder", simSetReminder)
}

func simSendSMS(_ context.Context, args map[string]any) (string, error) {
	to := stringArg(args, "to")
	body := stringArg(args, "body")
	return fmt.Sprintf("短信已发送给 %s：%s", to, truncateBody(body)), nil
}

func simSendWhatsApp(_ context.Context, args map[string]any) (string, error) {
	to := stringArg(args, "to")
	body := stringArg(args, "body")
	return fmt.Sprintf("WhatsApp 消息已发送给 %s：%s", to, truncateBody(body)), nil
}

func simPlaceCall(_ context.Context, args map[string]any) (string, error) {
	to := stringArg(args, "to")
	return fmt.Sprintf("已拨打 %s，等待接听", to), nil
}

func simReadCalendar(_ context.Context, args map[string]any) (string, error) {
	day := stringArg(args, "date")
	if day == "" {
		day = time.Now().Format("2006-01-02")
	}
	return fmt.Sprintf("%s 的日程：暂无安排", day), nil
}

func simAddCalendarEvent(_ context.Context, args map[string]any) (string, error) {
	title := stringArg(args, "title")
	when := stringArg(args, "time")
	return fmt.Sprintf("日程「%s」已添加，时间 %s", title, when), nil
}

func simSetReminder(_ context.Context, args map[string]any) (string, error) {
	text := stringArg(args, "text")
	when := stringArg(args, "time")
	return fmt.Sprintf("提醒「%s」已设置，时间 %s", text, when), nil
}

func stringArg(args map[string]any, key string) string {
	if raw, ok := args[key]; ok {
		if value, ok := raw.(string); ok {
			return strings.TrimSpace(value)
		}
		return fmt.Sprintf("%v", raw)
	}
	return ""
}

func truncateBody(body string) string {
	runes := []rune(body)
	if len(runes) > 60 {
		return string(runes[:60]) + "..."
	}
	return body
}
