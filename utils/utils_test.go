package utils

import (
	"testing"
	"time"
)

func TestDayKeyUsesConfiguredTimezone(t *testing.T) {
	defer SetLocation("UTC")

	// UTC 23:30 在东8区已是次日
	ts := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)

	if err := SetLocation("UTC"); err != nil {
		t.Fatal(err)
	}
	if got := DayKey(ts); got != "2024-03-01" {
		t.Errorf("UTC 日期错误: %s", got)
	}

	if err := SetLocation("UTC+8"); err != nil {
		t.Fatal(err)
	}
	if got := DayKey(ts); got != "2024-03-02" {
		t.Errorf("东8区日期错误: %s", got)
	}
}

func TestNextIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NextID()
		if id == "" {
			t.Fatal("ID 不能为空")
		}
		if seen[id] {
			t.Fatalf("ID 重复: %s", id)
		}
		seen[id] = true
	}
}
