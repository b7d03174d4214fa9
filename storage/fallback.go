package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/natefinch/lumberjack.v2"
)

// fallbackLog 数据库不可用时的保底日志，按大小轮转
type fallbackLog struct {
	mu sync.Mutex
	w  *lumberjack.Logger
}

func newFallbackLog(path string) *fallbackLog {
	return &fallbackLog{w: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     30,
	}}
}

// Write 每条记录一行: RFC3339 时间 + JSON
func (f *fallbackLog) Write(records []*record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			continue
		}
		line := fmt.Sprintf("%s %s\n", time.Now().Format(time.RFC3339), data)
		if _, err := f.w.Write([]byte(line)); err != nil {
			return err
		}
	}
	return nil
}

func (f *fallbackLog) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.w.Close()
}
