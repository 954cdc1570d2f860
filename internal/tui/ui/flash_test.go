package ui

import (
	"errors"
	"testing"
	"time"
)

func TestFlashExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := NewFlashModel()
	f.now = func() time.Time { return now }

	if f.Current() != nil {
		t.Fatal("new model has a message")
	}
	f.Err(errors.New("boom"))
	msg := f.Current()
	if msg == nil || msg.Text != "boom" || msg.Level != FlashErr {
		t.Fatalf("Current() = %+v, want error boom", msg)
	}

	now = now.Add(11 * time.Second)
	if f.Current() != nil {
		t.Error("error flash still shown after 11s")
	}

	f.Info("synced")
	if msg := f.Current(); msg == nil || msg.Level != FlashInfo {
		t.Errorf("Current() = %+v, want info", msg)
	}
}
