package utils

import (
	"sync"
	"time"
)

var (
	globalLocation = time.UTC
	locationMu     sync.RWMutex
)

// SetLocation 设置全局时区（用于日切、日志时间）
func SetLocation(name string) error {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		// 兼容 "UTC+8" 写法
		if name == "UTC+8" {
			loc = time.FixedZone("UTC+8", 8*60*60)
		} else {
			return err
		}
	}
	locationMu.Lock()
	globalLocation = loc
	locationMu.Unlock()
	return nil
}

// Location 返回当前配置的时区
func Location() *time.Location {
	locationMu.RLock()
	defer locationMu.RUnlock()
	return globalLocation
}

// ToConfiguredTimezone 将时间转换为配置的时区
func ToConfiguredTimezone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(Location())
}

// ToUTC 将时间转换为UTC时间
func ToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// NowUTC 获取当前UTC时间
func NowUTC() time.Time {
	return time.Now().UTC()
}

// DayKey 返回配置时区下的自然日，格式 2006-01-02
func DayKey(t time.Time) string {
	return t.In(Location()).Format("2006-01-02")
}
